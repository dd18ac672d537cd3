package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ErrFatalStartup marks configuration problems that must stop the process
// before the first poll.
var ErrFatalStartup = errors.New("fatal startup error")

const (
	PolicyKeyword = "keyword"
	PolicyMarket  = "market"
)

type Config struct {
	Chain struct {
		RPC                   string `yaml:"rpc"`
		ChainID               int64  `yaml:"chain_id"`
		CallTimeoutSeconds    int    `yaml:"call_timeout_seconds"`
		ReceiptTimeoutSeconds int    `yaml:"receipt_timeout_seconds"`
	} `yaml:"chain"`
	Contracts struct {
		Oracle   string `yaml:"oracle"`
		Registry string `yaml:"registry"`
		Market   string `yaml:"market"`
		// Agent is the optional AIAgent contract fronting this operator.
		// Responses are sent straight to the oracle, so it is informational.
		Agent string `yaml:"agent"`
	} `yaml:"contracts"`
	Agent struct {
		// Address is the operator EOA; it must match the signing key.
		Address    string `yaml:"address"`
		KeyStore   string `yaml:"key_store"`
		PrivateKey string `yaml:"private_key"`
	} `yaml:"agent"`
	LLM struct {
		Provider        string  `yaml:"provider"`
		Model           string  `yaml:"model"`
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key"`
		Temperature     float64 `yaml:"temperature"`
		MaxOutputTokens int     `yaml:"max_output_tokens"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
	} `yaml:"llm"`
	Search struct {
		Enabled    bool   `yaml:"enabled"`
		APIKey     string `yaml:"api_key"`
		BaseURL    string `yaml:"base_url"`
		MaxResults int    `yaml:"max_results"`
	} `yaml:"search"`
	Bridge struct {
		IntervalSeconds int    `yaml:"interval_seconds"`
		RunOnce         bool   `yaml:"run_once"`
		Policy          string `yaml:"policy"`
	} `yaml:"bridge"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
}

func Default(home string) Config {
	cfg := Config{}
	cfg.Chain.RPC = "http://localhost:8545"
	cfg.Chain.CallTimeoutSeconds = 15
	cfg.Chain.ReceiptTimeoutSeconds = 120
	cfg.Agent.KeyStore = filepath.Join(home, ".oraclebridge", "keys")
	cfg.LLM.Provider = "openrouter"
	cfg.LLM.Model = "openai/gpt-4-turbo"
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxOutputTokens = 256
	cfg.LLM.TimeoutSeconds = 30
	cfg.Search.MaxResults = 5
	cfg.Bridge.IntervalSeconds = 30
	cfg.Bridge.Policy = PolicyKeyword
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	home, _ := os.UserHomeDir()
	cfg := Default(home)
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// DefaultPath is where init writes and run reads the config file.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".oraclebridge", "config.yaml"), nil
}

// ApplyEnv overlays environment variables on top of the file values.
func (c *Config) ApplyEnv() {
	if v := env("WEB3_PROVIDER_URI"); v != "" {
		c.Chain.RPC = v
	}
	if v := env("PRIVATE_KEY"); v != "" {
		c.Agent.PrivateKey = v
	}
	if v := env("ORACLE_ADDRESS"); v != "" {
		c.Contracts.Oracle = v
	}
	if v := env("REGISTRY_ADDRESS"); v != "" {
		c.Contracts.Registry = v
	}
	if v := env("MARKET_ADDRESS"); v != "" {
		c.Contracts.Market = v
	}
	if v := env("AGENT_ADDRESS"); v != "" {
		c.Contracts.Agent = v
	}
	if v := env("AGENT_EOA"); v != "" {
		c.Agent.Address = v
	}
	if v := env("TAVILY_API_KEY"); v != "" && c.Search.APIKey == "" {
		c.Search.APIKey = v
	}
	if v := env("ENABLE_SEARCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Search.Enabled = b
		}
	}
	if v := env("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := env("AI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := env("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := env("OLLAMA_HOST"); v != "" && c.LLM.BaseURL == "" {
		c.LLM.BaseURL = v
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = providerKey(c.LLM.Provider)
	}
	if v := env("POLLING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Bridge.IntervalSeconds = n
		}
	}
	if v := env("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
}

func providerKey(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openrouter":
		return env("OPENROUTER_API_KEY")
	case "openai":
		return env("OPENAI_API_KEY")
	case "gemini":
		return env("GEMINI_API_KEY")
	}
	return ""
}

// Validate checks the settings the bridge cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Chain.RPC) == "" {
		return fmt.Errorf("%w: chain rpc url is required", ErrFatalStartup)
	}
	if strings.TrimSpace(c.Contracts.Oracle) == "" {
		return fmt.Errorf("%w: oracle address is required", ErrFatalStartup)
	}
	addrs := map[string]string{
		"oracle":         c.Contracts.Oracle,
		"registry":       c.Contracts.Registry,
		"market":         c.Contracts.Market,
		"agent contract": c.Contracts.Agent,
		"agent":          c.Agent.Address,
	}
	for name, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: invalid %s address %q", ErrFatalStartup, name, addr)
		}
	}
	switch c.Bridge.Policy {
	case "", PolicyKeyword, PolicyMarket:
	default:
		return fmt.Errorf("%w: unknown eligibility policy %q", ErrFatalStartup, c.Bridge.Policy)
	}
	if c.Search.Enabled && strings.TrimSpace(c.Search.APIKey) == "" {
		return fmt.Errorf("%w: web search enabled without a search api key (TAVILY_API_KEY)", ErrFatalStartup)
	}
	if c.Bridge.IntervalSeconds < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrFatalStartup)
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oraclebridge/internal/config"
	"oraclebridge/internal/keys"
	"oraclebridge/internal/logging"
)

var (
	// Global flags
	cfgPath   string
	verbose   bool
	logFormat string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bridged",
	Short: "Oracle bridge agent",
	Long: `bridged watches an on-chain oracle task queue, asks a decision engine
for a YES/NO answer on each eligible task and submits a signed response.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.Options{Verbose: verbose, Format: logFormat})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default: ~/.oraclebridge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format: json or console")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(createTaskCmd)
	rootCmd.AddCommand(listAgentsCmd)
	rootCmd.AddCommand(listModelsCmd)
	rootCmd.AddCommand(testSearchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configFile() (string, error) {
	if strings.TrimSpace(cfgPath) != "" {
		return cfgPath, nil
	}
	return config.DefaultPath()
}

// loadConfig reads the config file if present, then the environment. A
// missing file is fine: everything can come from the environment.
func loadConfig() (config.Config, error) {
	path, err := configFile()
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		home, _ := os.UserHomeDir()
		cfg = config.Default(home)
	} else if err != nil {
		return config.Config{}, fmt.Errorf("%w: load %s: %v", config.ErrFatalStartup, path, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// signingKey resolves the agent key: explicit config or env first, then the
// key file written by init. A nil key with no error means responses cannot
// be submitted.
func signingKey(cfg config.Config) (*ecdsa.PrivateKey, error) {
	var key *ecdsa.PrivateKey
	if raw := strings.TrimSpace(cfg.Agent.PrivateKey); raw != "" {
		k, err := keys.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrFatalStartup, err)
		}
		key = k
	} else if cfg.Agent.KeyStore != "" {
		stored, err := keys.Load(keys.DefaultAgentKeyPath(cfg.Agent.KeyStore))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("%w: agent key file: %v", config.ErrFatalStartup, err)
		default:
			k, err := stored.PrivateKey()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", config.ErrFatalStartup, err)
			}
			key = k
		}
	}
	if key != nil && cfg.Agent.Address != "" {
		if got := crypto.PubkeyToAddress(key.PublicKey); got != common.HexToAddress(cfg.Agent.Address) {
			return nil, fmt.Errorf("%w: agent address %s does not match signing key %s",
				config.ErrFatalStartup, cfg.Agent.Address, got.Hex())
		}
	}
	return key, nil
}

// agentAddress is the identity used for respondent checks and registration.
func agentAddress(cfg config.Config, key *ecdsa.PrivateKey) common.Address {
	if key != nil {
		return crypto.PubkeyToAddress(key.PublicKey)
	}
	if common.IsHexAddress(cfg.Agent.Address) {
		return common.HexToAddress(cfg.Agent.Address)
	}
	return common.Address{}
}

func hexAddress(s string) common.Address {
	if !common.IsHexAddress(strings.TrimSpace(s)) {
		return common.Address{}
	}
	return common.HexToAddress(strings.TrimSpace(s))
}

package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oraclebridge/internal/config"
	"oraclebridge/internal/keys"
	"oraclebridge/internal/llm"
	"oraclebridge/internal/search"
)

const anvilKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var anvilAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestSigningKeyFromConfig(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Agent.PrivateKey = anvilKey

	key, err := signingKey(cfg)
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, anvilAddr, agentAddress(cfg, key))

	cfg.Agent.Address = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	_, err = signingKey(cfg)
	assert.ErrorIs(t, err, config.ErrFatalStartup)
}

func TestSigningKeyFromKeyStore(t *testing.T) {
	cfg := config.Default(t.TempDir())

	key, err := signingKey(cfg)
	require.NoError(t, err)
	assert.Nil(t, key, "no key file and no private key means no signer")

	stored, _, err := keys.EnsureKey(keys.DefaultAgentKeyPath(cfg.Agent.KeyStore), "agent")
	require.NoError(t, err)

	key, err = signingKey(cfg)
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, common.HexToAddress(stored.Address), agentAddress(cfg, key))
}

func TestAgentAddressWithoutKey(t *testing.T) {
	cfg := config.Default(t.TempDir())
	assert.Equal(t, common.Address{}, agentAddress(cfg, nil))

	cfg.Agent.Address = anvilAddr.Hex()
	assert.Equal(t, anvilAddr, agentAddress(cfg, nil))
}

func TestLoadConfigMissingFileUsesEnv(t *testing.T) {
	cfgPath = filepath.Join(t.TempDir(), "absent.yaml")
	t.Cleanup(func() { cfgPath = "" })
	t.Setenv("WEB3_PROVIDER_URI", "http://node:8545")
	t.Setenv("ORACLE_ADDRESS", "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", cfg.Chain.RPC)
	assert.NoError(t, cfg.Validate())
}

func TestInitWritesConfigAndKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfgPath = filepath.Join(dir, "config.yaml")
	t.Cleanup(func() { cfgPath = "" })

	var out bytes.Buffer
	initCmd.SetOut(&out)
	require.NoError(t, initCmd.RunE(initCmd, nil))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.True(t, common.IsHexAddress(cfg.Agent.Address))
	assert.Contains(t, out.String(), cfg.Agent.Address)

	stored, err := keys.Load(keys.DefaultAgentKeyPath(cfg.Agent.KeyStore))
	require.NoError(t, err)
	assert.Equal(t, cfg.Agent.Address, stored.Address)
}

func TestAgentContractAddressDoesNotOverrideSigner(t *testing.T) {
	cfgPath = filepath.Join(t.TempDir(), "absent.yaml")
	t.Cleanup(func() { cfgPath = "" })
	t.Setenv("WEB3_PROVIDER_URI", "http://node:8545")
	t.Setenv("ORACLE_ADDRESS", "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	t.Setenv("PRIVATE_KEY", anvilKey)
	t.Setenv("AGENT_ADDRESS", "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0", cfg.Contracts.Agent)

	key, err := signingKey(cfg)
	require.NoError(t, err, "the agent contract address is not the signer identity")
	assert.Equal(t, anvilAddr, agentAddress(cfg, key))

	t.Setenv("AGENT_EOA", "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	cfg, err = loadConfig()
	require.NoError(t, err)
	_, err = signingKey(cfg)
	assert.ErrorIs(t, err, config.ErrFatalStartup)
}

func TestRespondedLabel(t *testing.T) {
	assert.Equal(t, "true", respondedLabel(true, nil))
	assert.Equal(t, "false", respondedLabel(false, nil))
	assert.Equal(t, "unknown", respondedLabel(false, errors.New("rpc timeout")))
}

type stubSearcher struct {
	results []search.Result
}

func (s stubSearcher) Search(context.Context, string) ([]search.Result, error) {
	return s.results, nil
}

type stubClient struct {
	prompt llm.Prompt
}

func (c *stubClient) Generate(_ context.Context, p llm.Prompt) (string, error) {
	c.prompt = p
	return "Around 60k USD.", nil
}
func (c *stubClient) Provider() string { return "stub" }
func (c *stubClient) Model() string    { return "stub-1" }

func TestTestSearch(t *testing.T) {
	s := stubSearcher{results: []search.Result{{Title: "BTC price", Content: "trading near 60k", URL: "https://example.org/btc"}}}
	client := &stubClient{}
	var out bytes.Buffer

	require.NoError(t, testSearch(context.Background(), &out, s, client, "bitcoin price"))
	assert.Contains(t, out.String(), "1. BTC price")
	assert.Contains(t, out.String(), "Around 60k USD.")
	assert.Contains(t, client.prompt.User, "please answer: bitcoin price")

	out.Reset()
	require.NoError(t, testSearch(context.Background(), &out, stubSearcher{}, nil, "nothing"))
	assert.Contains(t, out.String(), "no results")
}

func TestPrintModelsMarksConfigured(t *testing.T) {
	var out bytes.Buffer
	printModels(&out, &stubClient{}, []string{"zeta", "stub-1", "alpha"})
	assert.Equal(t, "3 models from stub\n   alpha\n * stub-1\n   zeta\n", out.String())
}

func TestWebSearchNeedsKey(t *testing.T) {
	cfg := config.Default(t.TempDir())
	s, err := webSearch(cfg)
	require.NoError(t, err)
	assert.Nil(t, s)

	cfg.Search.Enabled = true
	_, err = webSearch(cfg)
	assert.ErrorIs(t, err, search.ErrNoKey)
	assert.ErrorIs(t, err, config.ErrFatalStartup)

	cfg.Search.APIKey = "tvly-test"
	s, err = webSearch(cfg)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

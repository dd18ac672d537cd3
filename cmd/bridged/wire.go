package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/config"
	"oraclebridge/internal/decision"
	"oraclebridge/internal/eligibility"
	"oraclebridge/internal/llm"
	"oraclebridge/internal/metrics"
	"oraclebridge/internal/registrar"
	"oraclebridge/internal/runtime"
	"oraclebridge/internal/search"
	"oraclebridge/internal/submit"
	"oraclebridge/internal/tasks"
)

// bridge is the fully wired set of components for one process.
type bridge struct {
	gateway   *chain.EthGateway
	store     *tasks.Store
	submitter *submit.Submitter
	registrar *registrar.Registrar
	runner    *runtime.Runner
	metrics   *metrics.Recorder
}

func dialGateway(ctx context.Context, cfg config.Config) (*chain.EthGateway, error) {
	var chainID *big.Int
	if cfg.Chain.ChainID > 0 {
		chainID = big.NewInt(cfg.Chain.ChainID)
	}
	gw, err := chain.Dial(ctx, chain.Options{
		RPC:            cfg.Chain.RPC,
		Oracle:         hexAddress(cfg.Contracts.Oracle),
		Registry:       hexAddress(cfg.Contracts.Registry),
		Market:         hexAddress(cfg.Contracts.Market),
		ChainID:        chainID,
		CallTimeout:    time.Duration(cfg.Chain.CallTimeoutSeconds) * time.Second,
		ReceiptTimeout: time.Duration(cfg.Chain.ReceiptTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrFatalStartup, err)
	}
	return gw, nil
}

func decisionClient(cfg config.Config) (llm.Client, error) {
	client, err := llm.New(llm.Config{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		TimeoutSeconds:  cfg.LLM.TimeoutSeconds,
	})
	if errors.Is(err, llm.ErrNoCredential) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrFatalStartup, err)
	}
	return client, nil
}

// webSearch returns the configured searcher, or nil when search is off.
func webSearch(cfg config.Config) (search.Searcher, error) {
	if !cfg.Search.Enabled {
		return nil, nil
	}
	t, err := search.NewTavily(cfg.Search.APIKey, cfg.Search.BaseURL, cfg.Search.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrFatalStartup, err)
	}
	return t, nil
}

// wire validates cfg, connects to the ledger and assembles the runner.
func wire(ctx context.Context, cfg config.Config, log *zap.Logger) (*bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := signingKey(cfg)
	if err != nil {
		return nil, err
	}
	client, err := decisionClient(cfg)
	if err != nil {
		return nil, err
	}
	var engineOpts []decision.Option
	searcher, err := webSearch(cfg)
	if err != nil {
		return nil, err
	}
	if searcher != nil {
		engineOpts = append(engineOpts, decision.WithSearch(searcher))
		log.Info("web search enabled", zap.Int("max_results", cfg.Search.MaxResults))
	}

	gw, err := dialGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var markets chain.Markets
	if gw.HasMarket() {
		markets = gw
	} else if cfg.Bridge.Policy == config.PolicyMarket {
		log.Warn("market policy selected without a market contract: no task will be eligible")
	}
	filter, err := eligibility.New(cfg.Bridge.Policy, markets, log)
	if err != nil {
		gw.Close()
		return nil, err
	}

	store := tasks.NewStore(gw, log)
	submitter := submit.New(submit.Options{
		Node:        gw,
		Oracle:      gw.OracleAddress(),
		Key:         key,
		Respondents: store,
		Log:         log,
	})
	agent := agentAddress(cfg, key)
	if key == nil {
		log.Error("NO SIGNING KEY: tasks will be evaluated but no response can be submitted")
	}

	var reg *registrar.Registrar
	if gw.HasRegistry() {
		reg = registrar.New(gw, gw.RegistryAddress(), submitter, agent, log)
	}
	rec := metrics.New()

	opts := runtime.Options{
		Tasks:     store,
		Filter:    filter,
		Decider:   decision.NewEngine(client, log, engineOpts...),
		Responder: submitter,
		Agent:     agent,
		Metrics:   rec,
		Log:       log.With(zap.String("agent", agent.Hex())),
		Interval:  time.Duration(cfg.Bridge.IntervalSeconds) * time.Second,
		Once:      cfg.Bridge.RunOnce,
	}
	if reg != nil {
		opts.Setup = reg
	}
	return &bridge{
		gateway:   gw,
		store:     store,
		submitter: submitter,
		registrar: reg,
		runner:    runtime.NewRunner(opts),
		metrics:   rec,
	}, nil
}

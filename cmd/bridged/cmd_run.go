package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	runOnce       bool
	runInterval   int
	oracleAddress string
	marketAddress string
	policy        string
	metricsListen string
	enableSearch  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the oracle and answer eligible tasks",
	RunE:  runBridge,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single pass and exit")
	runCmd.Flags().IntVar(&runInterval, "interval", 0, "Seconds between passes (default from config, 30)")
	runCmd.Flags().StringVar(&oracleAddress, "oracle-address", "", "Oracle contract address")
	runCmd.Flags().StringVar(&marketAddress, "market-address", "", "Market contract address")
	runCmd.Flags().StringVar(&policy, "policy", "", "Eligibility policy: keyword or market")
	runCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve prometheus metrics on this address")
	runCmd.Flags().BoolVar(&enableSearch, "enable-search", false, "Add web search results to decision prompts (needs TAVILY_API_KEY)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runOnce {
		cfg.Bridge.RunOnce = true
	}
	if runInterval > 0 {
		cfg.Bridge.IntervalSeconds = runInterval
	}
	if oracleAddress != "" {
		cfg.Contracts.Oracle = oracleAddress
	}
	if marketAddress != "" {
		cfg.Contracts.Market = marketAddress
	}
	if policy != "" {
		cfg.Bridge.Policy = policy
	}
	if metricsListen != "" {
		cfg.Metrics.Listen = metricsListen
	}
	if enableSearch {
		cfg.Search.Enabled = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.gateway.Close()

	g, gctx := errgroup.WithContext(ctx)
	// the runner finishing (single pass) stops the metrics server too
	runCtx, runDone := context.WithCancel(gctx)
	g.Go(func() error {
		defer runDone()
		return b.runner.Run(runCtx)
	})
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: b.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("listen", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"curvePool/internal/chain"
	"curvePool/internal/config"
	"curvePool/internal/eventabi"
	"curvePool/internal/events"
	"curvePool/internal/memledger"
	"curvePool/internal/metrics"
	"curvePool/internal/pool"
	"curvePool/internal/pricing"
	"curvePool/internal/registry"
	"curvePool/internal/simulate"
	"curvePool/internal/storage"
	"curvePool/internal/storage/postgres"
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.Scenarios) == 0 {
		return fmt.Errorf("at least one scenario is required")
	}
	factory, err := simulate.ParseAddress("factory", cfg.Factory)
	if err != nil {
		return err
	}

	var steps []simulate.Step
	for _, path := range cfg.Scenarios {
		loaded, err := simulate.ReadScenario(path)
		if err != nil {
			return err
		}
		steps = append(steps, loaded...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var clock pool.Clock = simulate.NewManualClock(cfg.Start)
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		chainID, err := chainClient.GetChainID(ctx)
		if err != nil {
			return fmt.Errorf("get chain id: %w", err)
		}
		logger.Info("pools follow block time", zap.String("chain_id", chainID.String()))
		clock = chain.NewBlockClock(chainClient, cfg.ClockRefresh, logger)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	poolMetrics, err := metrics.New(promReg, cfg.MetricsPrefix)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	eventFile := events.NewBatchSink(storage.NewJsonlStorage(cfg.Out), cfg.BatchSize, logger)
	flushers := []*events.BatchSink{eventFile}
	sinks := events.Fanout{eventFile, events.NewLogSink(logger.Named("events")), poolMetrics}

	if cfg.LogsOut != "" {
		logSink, err := eventabi.NewSink(storage.NewJsonlStorage(cfg.LogsOut))
		if err != nil {
			return fmt.Errorf("build log encoder: %w", err)
		}
		sinks = append(sinks, logSink)
	}

	var persister simulate.Persister
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		pgEvents := events.NewBatchSink(store, cfg.BatchSize, logger)
		flushers = append(flushers, pgEvents)
		sinks = append(sinks, pgEvents)
		persister = store
	}

	bank := memledger.NewBank()
	reg, err := registry.New(registry.Config{
		Factory: factory,
		Backend: registry.Backend{
			Custodian: func(asset common.Address) pool.AssetCustodian { return bank.Custodian(asset) },
			Issuer:    func(id common.Hash) pool.TokenIssuer { return bank.Issuer(id) },
		},
		Sink:       sinks,
		Clock:      clock,
		Rejections: poolMetrics,
		Logger:     logger,
		OnRegister: func(p *pool.Pool) { poolMetrics.Track(p.ID().Hex(), p.Decimals()) },
	})
	if err != nil {
		return err
	}

	runner := simulate.NewRunner(simulate.RunConfig{
		Defaults: simulate.Defaults{
			Params: pool.Params{
				RatioPPM:            cfg.Pool.RatioPPM,
				TradeFeeBps:         cfg.Pool.TradeFeeBps,
				ProtocolFeeBps:      cfg.Pool.ProtocolFeeBps,
				MaxTradeFractionBps: cfg.Pool.MaxTradeFractionBps,
			},
			IBRDuration: cfg.Pool.IBRDuration,
			Decimals:    pricing.Decimals{Reserve: cfg.Pool.ReserveDecimals, Token: cfg.Pool.TokenDecimals},
		},
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		ReportPath:   cfg.Report,
		Strict:       cfg.Strict,
	}, reg, bank, clock, persister, logger)

	logger.Info("simulate start",
		zap.Strings("scenarios", cfg.Scenarios),
		zap.Int("steps", len(steps)),
		zap.String("out", cfg.Out),
		zap.Bool("postgres", persister != nil),
		zap.Bool("block_clock", cfg.RPCURL != ""),
	)

	summary, runErr := runner.Run(ctx, steps)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, f := range flushers {
		if err := f.Flush(flushCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("flush events: %w", err))
		}
	}

	logger.Info("simulate complete",
		zap.Int("steps", summary.Steps),
		zap.Int("applied", summary.Applied),
		zap.Int("rejected", summary.Rejected),
		zap.Int("unexpected", summary.Unexpected),
		zap.Uint64("events_written", eventFile.Written()),
	)
	if runErr != nil {
		return runErr
	}

	if cfg.MetricsAddr != "" {
		return serveMetrics(ctx, cfg.MetricsAddr, promReg, logger)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("serving metrics until interrupted", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

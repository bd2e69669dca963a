package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livedata/internal/auth"
	"github.com/rickgao/livedata/internal/catalog"
	"github.com/rickgao/livedata/internal/config"
	"github.com/rickgao/livedata/internal/cycle"
	"github.com/rickgao/livedata/internal/database"
	"github.com/rickgao/livedata/internal/feed"
	"github.com/rickgao/livedata/internal/journal"
	"github.com/rickgao/livedata/internal/metrics"
	"github.com/rickgao/livedata/internal/model"
	"github.com/rickgao/livedata/internal/subscription"
	"github.com/rickgao/livedata/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/coordinator.local.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("coordinator failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log).With("instance_id", cfg.Instance.ID, "run_id", uuid.NewString())
	slog.SetDefault(logger)

	logger.Info("starting coordinator",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"ws_url", cfg.Feed.WSURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Feed credentials are optional
	var creds *auth.Credentials
	if cfg.Feed.APIKey != "" {
		creds, err = auth.LoadCredentials(cfg.Feed.APIKey, cfg.Feed.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
	}

	resolver := feed.NewResolver(feed.Config{
		URL:               cfg.Feed.WSURL,
		DialTimeout:       cfg.Feed.DialTimeout,
		PingTimeout:       cfg.Feed.PingTimeout,
		WriteTimeout:      cfg.Feed.WriteTimeout,
		BufferSize:        cfg.Feed.BufferSize,
		ReconnectBaseWait: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Feed.ReconnectMaxDelay,
	}, creds, logger)

	// Transition journal
	var writer *journal.Writer
	if cfg.Journal.Enabled {
		db := cfg.Database.Journal
		logger.Info("connecting to journal database", "host", db.Host, "port", db.Port, "database", db.Name)

		pool, err := database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = journal.NewWriter(journal.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
	}

	// The cycle runner is the manager's change listener, so the manager is
	// built against a forwarding listener and the runner is attached after.
	var runner *cycle.Runner
	changes := subscription.ChangeListenerFunc(func(keys []model.Key) {
		if runner != nil {
			runner.OnMarketDataValuesChanged(keys)
		}
	})

	var opts []subscription.Option
	if writer != nil {
		opts = append(opts, subscription.WithObserver(writer))
	}
	mgr := subscription.NewManager(subscription.Config{
		MaxBatchSize:    cfg.Coordinator.MaxBatchSize,
		RetryPeriod:     cfg.Coordinator.RetryPeriod,
		AbandonDuration: cfg.Coordinator.AbandonDuration,
		LogInterval:     cfg.Coordinator.LogInterval,
		LogLimit:        cfg.Coordinator.LogLimit,
	}, resolver, changes, logger, opts...)

	// Required keys are fixed unless series are listed from the REST API
	var reqs cycle.RequirementSource = cycle.NewStaticRequirements(cfg.Cycle.Channels, cfg.Cycle.Tickers)
	if len(cfg.Cycle.Series) > 0 {
		client := catalog.NewClient(cfg.Feed.RestURL,
			catalog.WithCredentials(creds),
			catalog.WithLogger(logger),
			catalog.WithTimeout(30*time.Second),
		)
		markets := catalog.NewRequirements(catalog.RequirementsConfig{
			Channels:        cfg.Cycle.Channels,
			Tickers:         cfg.Cycle.Tickers,
			Series:          cfg.Cycle.Series,
			RefreshInterval: cfg.Cycle.RefreshInterval,
		}, client, logger)

		if err := markets.Start(); err != nil {
			return fmt.Errorf("start market refresh: %w", err)
		}
		defer markets.Stop()
		reqs = markets
	}

	runner = cycle.NewRunner(cycle.Config{
		Interval: cfg.Cycle.Interval,
		User:     cfg.Cycle.Principal(),
		Specs:    cfg.Cycle.Specs,
	}, mgr, reqs, logger)

	if err := mgr.Start(); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start cycle runner: %w", err)
	}

	// Metrics and debug endpoints
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var journalStats metrics.JournalSource
	if writer != nil {
		journalStats = writer
	}
	reg.MustRegister(metrics.NewCollector(mgr, journalStats))

	mux := newDebugMux(mgr, logger)
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", "error", err)
		}
		if err := runner.Stop(shutdownCtx); err != nil {
			logger.Warn("cycle runner stop", "error", err)
		}
		if err := mgr.Stop(); err != nil {
			logger.Warn("coordinator stop", "error", err)
		}
		select {
		case <-mgr.Done():
		case <-shutdownCtx.Done():
			logger.Warn("coordinator teardown timed out")
		}
		if writer != nil {
			if err := writer.Stop(shutdownCtx); err != nil {
				logger.Warn("journal stop", "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("coordinator stopped")
	return err
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

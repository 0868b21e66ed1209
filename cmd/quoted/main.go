package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/ib-quotes/internal/config"
	"github.com/rickgao/ib-quotes/internal/connection"
	"github.com/rickgao/ib-quotes/internal/database"
	"github.com/rickgao/ib-quotes/internal/qualify"
	"github.com/rickgao/ib-quotes/internal/quote"
	"github.com/rickgao/ib-quotes/internal/recorder"
	"github.com/rickgao/ib-quotes/internal/registry"
	"github.com/rickgao/ib-quotes/internal/upstream"
	"github.com/rickgao/ib-quotes/internal/version"
	"github.com/rickgao/ib-quotes/internal/watch"
)

func main() {
	configPath := flag.String("config", "configs/quoted.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting quoted",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"endpoints", len(cfg.Gateway.Endpoints),
		"watch_enabled", cfg.Watch.Enabled,
		"recorder_enabled", cfg.Recorder.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("quoted exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("quoted stopped")
}

func run(ctx context.Context, cfg *config.ServiceConfig, logger *slog.Logger) error {
	// Gateway connection sweep
	endpoints := make([]upstream.Endpoint, len(cfg.Gateway.Endpoints))
	for i, ep := range cfg.Gateway.Endpoints {
		endpoints[i] = upstream.Endpoint{Host: ep.Host, Port: ep.Port}
	}
	manager := connection.NewManager(connection.Config{
		Endpoints:      endpoints,
		ClientIDs:      cfg.Gateway.ClientIDs,
		AttemptTimeout: cfg.Gateway.AttemptTimeout,
		AttemptPause:   cfg.Gateway.AttemptPause,
	}, func() upstream.Session {
		return upstream.NewSession(upstream.DefaultClientConfig(), logger)
	}, logger)

	// Qualification and subscriptions
	qualifier := qualify.New(qualify.Config{
		PrimaryVenue:   cfg.Venues.Primary,
		OptionFallback: cfg.Venues.OptionFallback,
		AttemptTimeout: cfg.Venues.QualifyTimeout,
	}, logger)
	reg := registry.New(qualifier, logger)

	// Quote service
	svc := quote.New(quote.Config{
		PollInterval:      cfg.Quotes.PollInterval,
		BaseTimeout:       cfg.Quotes.BaseTimeout,
		DelayedMultiplier: cfg.Quotes.DelayedMultiplier,
		CacheTTL:          cfg.Quotes.CacheTTL,
		QueueSize:         cfg.Quotes.QueueSize,
	}, manager, reg, logger)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start quote service: %w", err)
	}
	defer stopComponent(svc.Stop, "quote service", logger)

	// Optional quote history recorder
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to quote history database",
			"host", cfg.Database.Quotes.Host,
			"database", cfg.Database.Quotes.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Quotes)
		if err != nil {
			return fmt.Errorf("connect quote history database: %w", err)
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger)
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		defer stopComponent(rec.Stop, "recorder", logger)
	}

	// Optional background watchlist
	if cfg.Watch.Enabled {
		instruments, err := cfg.Watch.ToInstruments()
		if err != nil {
			return fmt.Errorf("parse watchlist: %w", err)
		}
		var handler watch.QuoteHandler
		if rec != nil {
			handler = rec
		}
		watcher := watch.New(watch.Config{
			Interval: cfg.Watch.Interval,
			Timeout:  cfg.Watch.Timeout,
		}, svc, instruments, handler, logger)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer stopComponent(watcher.Stop, "watcher", logger)
	}

	// HTTP surface
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newHandler(svc, rec, cfg.Server.RequestTimeout, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("quoted running",
		"instance_id", cfg.Instance.ID,
		"quote_url", fmt.Sprintf("http://localhost:%d/quote", cfg.Server.Port),
	)
	return g.Wait()
}

func stopComponent(stop func(context.Context) error, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("component stop failed", "component", name, "error", err)
	}
}

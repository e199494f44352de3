// Command doccache-sweeper purges expired cache entries on a schedule and
// serves health, readiness, metrics and admin endpoints for the store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/doc-cache/internal/config"
	"github.com/Sternrassler/doc-cache/pkg/cache"
	"github.com/Sternrassler/doc-cache/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("DOCCACHE_CONFIG"), "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doccache-sweeper: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Pretty:  cfg.LogPretty,
		Output:  os.Stderr,
		Service: "doccache-sweeper",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Sweeper exited with error")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("Sweeper stopped")
}

// run wires the store, repository, sweeper and HTTP server and blocks until
// ctx is cancelled or a component fails.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close document store")
		}
	}()

	repo, err := cache.New(store, repositoryOptions(cfg, logger))
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()

	sweeper := cache.NewSweeper(repo, cache.SweeperConfig{
		Interval: cfg.SweepInterval,
		Timeout:  cfg.SweepTimeout,
	})

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: newRouter(&server{
			repo:       repo,
			store:      store,
			sweeper:    sweeper,
			allowClear: cfg.AllowClear,
			logger:     logging.Component(logger, "http"),
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sweeper.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().
			Str("address", cfg.ListenAddr).
			Str("backend", string(cfg.Backend)).
			Str("namespace", cfg.Namespace).
			Bool("allow_clear", cfg.AllowClear).
			Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func repositoryOptions(cfg *config.Config, logger zerolog.Logger) cache.Options {
	opts := cache.DefaultOptions()
	opts.Namespace = cfg.Namespace
	opts.ClearConcurrency = cfg.ClearConcurrency
	opts.Logger = &logger
	if cfg.Concurrency == "revision_checked" {
		opts.Concurrency = cache.RevisionChecked
	}
	return opts
}

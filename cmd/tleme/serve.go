package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dzeleniak/tleme/internal/api"
	"github.com/dzeleniak/tleme/internal/location"
	"github.com/dzeleniak/tleme/internal/observability"
	"github.com/dzeleniak/tleme/internal/propagation"
	"github.com/dzeleniak/tleme/internal/stream"
	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/visibility"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog and visibility queries over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(cmd.OutOrStdout(), &slog.HandlerOptions{Level: a.logLevel}))
			return runServe(cmd.Context(), a, logger)
		},
	}
}

func runServe(ctx context.Context, a *app, logger *slog.Logger) error {
	cfg, err := loadServeConfig(logger)
	if err != nil {
		return fmt.Errorf("invalid serve configuration: %w", err)
	}

	tracing, err := observability.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	store := tle.NewStore(a.cfg.Store, logger)
	if _, err := store.Load(ctx); err != nil {
		logger.Warn("starting without a catalog; readyz reports unavailable until a refresh succeeds", "error", err)
	}

	prop := propagation.NewPropagator(a.cfg.Propagation, logger)
	engine := visibility.NewEngine(prop, logger)
	resolver := location.NewHTTPResolver(a.cfg.Location, logger)

	streamHandler := stream.NewHandler(store, engine, resolver, stream.Config{
		MaxConcurrentPerIP: cfg.StreamMaxConcurrent,
		Interval:           cfg.StreamInterval,
		DefaultThreshold:   a.cfg.Threshold,
		TrustProxy:         cfg.TrustProxy,
	}, logger)

	srv := api.NewServer(api.Config{
		Addr:             cfg.Addr,
		Auth:             cfg.Auth,
		TrustProxy:       cfg.TrustProxy,
		RateLimit:        cfg.RateLimit,
		RateBurst:        cfg.RateBurst,
		DefaultThreshold: a.cfg.Threshold,
		CatalogMaxAge:    store.MaxAge(),
		MaxEpochAge:      a.cfg.Propagation.MaxEpochAge,
	}, api.Deps{
		Catalogs: store,
		Engine:   engine,
		Locator:  resolver,
		Stream:   streamHandler,
	}, logger)

	go refreshLoop(ctx, store, cfg.RefreshInterval, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"source_url", a.cfg.Store.SourceURL,
			"refresh_interval", cfg.RefreshInterval.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// catalogLoader is the part of *tle.Store the refresh loop needs.
type catalogLoader interface {
	Load(ctx context.Context) (*tle.Catalog, error)
}

// refreshLoop re-checks the cache every interval; Load refreshes only when
// the artifact is missing or stale.
func refreshLoop(ctx context.Context, store catalogLoader, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := store.Load(ctx); err != nil {
				logger.Warn("background catalog refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

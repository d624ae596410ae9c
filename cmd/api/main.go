package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fastprodman/studentportal/internal/api"
	"github.com/fastprodman/studentportal/internal/app"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/metrics"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/pkg/envconf"
	"github.com/fastprodman/studentportal/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.Add("postgres", func(context.Context) error {
		return db.Close()
	})

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// --- Services ---
	portal, err := app.New(db, app.Config{
		Credits: cfg.Credits,
		Badges:  cfg.Badges,
		Sync:    cfg.Sync,
	}, m, slog.Default())
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	if cfg.HTTP.WebhookSecret == "" {
		slog.Warn("WEBHOOK_SHARED_SECRET is empty, webhook endpoints are unauthenticated")
	}

	// --- HTTP server ---
	handler := api.NewRouter(portal.Services(), api.RouterConfig{
		Keys: api.Keys{
			Admin:         cfg.HTTP.AdminKey,
			Service:       cfg.HTTP.ServiceKey,
			WebhookSecret: cfg.HTTP.WebhookSecret,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Metrics:        m,
		Gatherer:       prometheus.DefaultGatherer,
	})

	srv := api.NewServer(cfg.HTTP, handler)

	shutdownqueue.Add("http server", func(c context.Context) error {
		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}

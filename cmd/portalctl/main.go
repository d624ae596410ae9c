// Command portalctl is the operator's tool for pending entitlements: list
// what is staged, reconcile one account, or backfill every account.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fastprodman/studentportal/internal/config"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/pgutils"
	"github.com/fastprodman/studentportal/internal/services/credits"
	"github.com/fastprodman/studentportal/internal/services/reconcile"
	"github.com/fastprodman/studentportal/pkg/envconf"
)

type ctlConfig struct {
	LogLevel slog.Level `env:"APP_LOG_LEVEL" default:"INFO"`

	Postgres config.PostgresConfig
	Credits  config.CreditsConfig
	Sync     config.SyncConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(openEngine, os.Stdout)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "portalctl: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

// openEngine connects to Postgres and builds the reconcile engine. The
// returned func closes the pool.
func openEngine(ctx context.Context) (admin, func(), error) {
	_ = godotenv.Load()

	cfg := new(ctlConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init config: %w", err)
	}

	logging.SetupText(cfg.LogLevel)

	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}

	ledger := credits.New(db, cfg.Credits)
	engine := reconcile.New(db, ledger, cfg.Sync)

	return engine, func() { _ = db.Close() }, nil
}

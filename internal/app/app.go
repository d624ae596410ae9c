// Package app builds the portal's service graph from configuration, so
// the API server and the admin CLI wire the same engines.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fastprodman/studentportal/internal/api"
	"github.com/fastprodman/studentportal/internal/config"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/metrics"
	"github.com/fastprodman/studentportal/internal/notify"
	"github.com/fastprodman/studentportal/internal/services/accounts"
	"github.com/fastprodman/studentportal/internal/services/badges"
	"github.com/fastprodman/studentportal/internal/services/credits"
	"github.com/fastprodman/studentportal/internal/services/events"
	"github.com/fastprodman/studentportal/internal/services/ingest"
	"github.com/fastprodman/studentportal/internal/services/reconcile"
	"github.com/fastprodman/studentportal/internal/services/subscriptions"
)

type Config struct {
	Credits config.CreditsConfig
	Badges  config.BadgesConfig
	Sync    config.SyncConfig
}

type Portal struct {
	Credits       *credits.Service
	Reconcile     *reconcile.Engine
	Subscriptions *subscriptions.Service
	Badges        *badges.Service
	Events        *events.Router
	Accounts      *accounts.Service
	Ingest        *ingest.Service
}

// New wires every service over db. m may be nil.
func New(db *sql.DB, cfg Config, m *metrics.Portal, logger *slog.Logger) (*Portal, error) {
	logger = logging.OrDefault(logger)

	catalog, err := badges.LoadCatalog(cfg.Badges.DefinitionsFile)
	if err != nil {
		return nil, fmt.Errorf("badge catalog: %w", err)
	}

	loc, err := cfg.Badges.Location()
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.NewLog(logger)
	if m != nil {
		notifier = notify.WithMetrics(notifier, m)
	}

	ledger := credits.New(db, cfg.Credits,
		credits.WithNotifier(notifier), credits.WithMetrics(m), credits.WithLogger(logger))

	engine := reconcile.New(db, ledger, cfg.Sync,
		reconcile.WithMetrics(m), reconcile.WithLogger(logger))

	subs := subscriptions.New(db, ledger,
		subscriptions.WithNotifier(notifier), subscriptions.WithLogger(logger))

	progress := badges.New(db, catalog,
		badges.WithNotifier(notifier), badges.WithMetrics(m), badges.WithLogger(logger))

	router, err := events.NewRouter(progress, catalog,
		events.WithLocation(loc), events.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &Portal{
		Credits:       ledger,
		Reconcile:     engine,
		Subscriptions: subs,
		Badges:        progress,
		Events:        router,
		Accounts:      accounts.New(db, engine, accounts.WithLogger(logger)),
		Ingest:        ingest.New(engine, subs, ingest.WithMetrics(m), ingest.WithLogger(logger)),
	}, nil
}

// Services adapts the portal to the HTTP handlers.
func (p *Portal) Services() api.Services {
	return api.Services{
		Accounts:      p.Accounts,
		Ledger:        p.Credits,
		Reconciler:    p.Reconcile,
		Badges:        p.Badges,
		Events:        p.Events,
		Subscriptions: p.Subscriptions,
		Ingester:      p.Ingest,
	}
}

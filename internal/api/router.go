package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/metrics"
	"github.com/fastprodman/studentportal/internal/services/accounts"
)

type RouterConfig struct {
	Keys           Keys
	AllowedOrigins []string
	Metrics        *metrics.Portal
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter wires every endpoint onto a chi router.
func NewRouter(svc Services, cfg RouterConfig) http.Handler {
	logger := logging.OrDefault(cfg.Logger)
	h := NewHandler(svc, logger)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe(logger, cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Authorization", "Content-Type", "Idempotency-Key", AccountHeader, WebhookSecretHeader,
		},
		MaxAge: 300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Post("/auth/signup", h.SignupHandler)
	r.Post("/auth/signin", h.SigninHandler)

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(h.requireWebhookSecret(cfg.Keys.WebhookSecret))

		r.Post("/paypal", h.PayPalWebhookHandler)
		r.Post("/calendly/booking", h.CalendlyBookingHandler)
		r.Post("/calendly/cancel", h.CalendlyCancelHandler)
		r.Post("/events", h.NormalizedWebhookHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticate(cfg.Keys, h.writeError))

		r.Route("/accounts/{accountId}", func(r chi.Router) {
			r.Get("/balance", h.GetBalanceHandler)
			r.Get("/history", h.GetHistoryHandler)
			r.Get("/downloads", h.GetDownloadsHandler)
			r.Get("/orders", h.GetOrdersHandler)
			r.Get("/subscriptions", h.GetSubscriptionsHandler)
			r.Get("/badges", h.GetBadgesHandler)
		})

		r.Post("/events", h.DispatchEventHandler)

		r.Route("/system", func(r chi.Router) {
			r.Use(h.require(accounts.CapCallService))

			r.Post("/credits", h.RouteCreditHandler)
			r.Post("/downloads", h.RouteDownloadHandler)
			r.Post("/orders", h.RouteOrderHandler)
			r.Post("/orders/{orderId}/metadata", h.AppendOrderMetadataHandler)
			r.Post("/subscriptions", h.RouteSubscriptionHandler)
			r.Post("/subscriptions/update-status", h.UpdateSubscriptionStatusHandler)
			r.Post("/subscriptions/apply-renewal", h.ApplyRenewalHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.require(accounts.CapAdminister))

			r.Get("/pending", h.ListPendingHandler)
			r.Post("/accounts/{accountId}/sync", h.SyncAccountHandler)
			r.Post("/sync-all", h.SyncAllHandler)
		})
	})

	return r
}

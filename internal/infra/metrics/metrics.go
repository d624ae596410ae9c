// Package metrics exports the portal's ledger counters to Prometheus.
//
// Every method is safe on a nil *Portal so services can run without metrics.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "studentportal"

type Portal struct {
	reconcileMerged *prometheus.CounterVec
	reconcileFailed *prometheus.CounterVec
	routeOutcomes   *prometheus.CounterVec
	ledgerWrites    *prometheus.CounterVec
	badgesEarned    *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	syncAllDuration prometheus.Histogram
	httpDuration    *prometheus.HistogramVec
}

// New registers the portal collectors on reg. Collectors that are already
// registered (a second New on the same registry) are reused.
func New(reg prometheus.Registerer) (*Portal, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Portal{
		reconcileMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_merged_rows_total",
			Help:      "Pending rows merged into the resolved ledger.",
		}, []string{"category"}),
		reconcileFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_failed_rows_total",
			Help:      "Pending rows left in place because translation failed.",
		}, []string{"category"}),
		routeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_events_total",
			Help:      "Routed entitlement events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ledgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_transactions_total",
			Help:      "Credit transactions appended, by source.",
		}, []string{"source"}),
		badgesEarned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badges_earned_total",
			Help:      "Badges newly earned.",
		}, []string{"badge"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification intents by kind and delivery result.",
		}, []string{"intent", "result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Ingested provider callbacks by provider, event type and outcome.",
		}, []string{"provider", "type", "outcome"}),
		syncAllDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_all_duration_seconds",
			Help:      "Duration of full pending backfills.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	var err error

	if p.reconcileMerged, err = register(reg, p.reconcileMerged); err != nil {
		return nil, err
	}
	if p.reconcileFailed, err = register(reg, p.reconcileFailed); err != nil {
		return nil, err
	}
	if p.routeOutcomes, err = register(reg, p.routeOutcomes); err != nil {
		return nil, err
	}
	if p.ledgerWrites, err = register(reg, p.ledgerWrites); err != nil {
		return nil, err
	}
	if p.badgesEarned, err = register(reg, p.badgesEarned); err != nil {
		return nil, err
	}
	if p.notifications, err = register(reg, p.notifications); err != nil {
		return nil, err
	}
	if p.webhookEvents, err = register(reg, p.webhookEvents); err != nil {
		return nil, err
	}
	if p.syncAllDuration, err = register(reg, p.syncAllDuration); err != nil {
		return nil, err
	}
	if p.httpDuration, err = register(reg, p.httpDuration); err != nil {
		return nil, err
	}

	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		existing, ok := are.ExistingCollector.(C)
		if ok {
			return existing, nil
		}
	}

	return c, fmt.Errorf("register collector: %w", err)
}

func (p *Portal) ReconcileMerged(category string, n int) {
	if p == nil || n == 0 {
		return
	}
	p.reconcileMerged.WithLabelValues(category).Add(float64(n))
}

func (p *Portal) ReconcileFailed(category string) {
	if p == nil {
		return
	}
	p.reconcileFailed.WithLabelValues(category).Inc()
}

func (p *Portal) RouteOutcome(kind, outcome string) {
	if p == nil {
		return
	}
	p.routeOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (p *Portal) LedgerWrite(source string) {
	if p == nil {
		return
	}
	p.ledgerWrites.WithLabelValues(source).Inc()
}

func (p *Portal) BadgeEarned(badge string) {
	if p == nil {
		return
	}
	p.badgesEarned.WithLabelValues(badge).Inc()
}

func (p *Portal) Notification(intent string, err error) {
	if p == nil {
		return
	}

	result := "sent"
	if err != nil {
		result = "failed"
	}
	p.notifications.WithLabelValues(intent, result).Inc()
}

func (p *Portal) WebhookEvent(provider, eventType, outcome string) {
	if p == nil {
		return
	}
	p.webhookEvents.WithLabelValues(provider, eventType, outcome).Inc()
}

func (p *Portal) SyncAll(d time.Duration) {
	if p == nil {
		return
	}
	p.syncAllDuration.Observe(d.Seconds())
}

func (p *Portal) HTTPRequest(method, route string, status int, d time.Duration) {
	if p == nil {
		return
	}
	p.httpDuration.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Observe(d.Seconds())
}

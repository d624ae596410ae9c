package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/metrics"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/services/reconcile"
	"github.com/fastprodman/studentportal/internal/services/subscriptions"
)

const OutcomeIgnored reconcile.Outcome = "ignored"

// Router is the reconcile engine's entry point for entitlement events.
type Router interface {
	RouteEvent(ctx context.Context, req reconcile.RouteRequest) (reconcile.RouteResult, error)
}

// Subscriptions applies provider transitions to known subscriptions.
type Subscriptions interface {
	UpdateStatus(
		ctx context.Context, externalID string, status models.SubscriptionStatus, nextBilling *time.Time, key string,
	) (subscriptions.Change, error)
	ApplyRenewal(ctx context.Context, externalID, key string) (subscriptions.Renewal, error)
}

type Result struct {
	Type    Type                   `json:"type"`
	Outcome reconcile.Outcome      `json:"outcome"`
	Route   *reconcile.RouteResult `json:"route,omitempty"`
	Change  *subscriptions.Change  `json:"subscription,omitempty"`
	Renewal *subscriptions.Renewal `json:"renewal,omitempty"`
}

type Service struct {
	router        Router
	subscriptions Subscriptions
	metrics       *metrics.Portal
	logger        *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Portal) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func New(router Router, subs Subscriptions, opts ...Option) *Service {
	s := &Service{router: router, subscriptions: subs}

	for _, o := range opts {
		o(s)
	}

	s.logger = logging.OrDefault(s.logger)

	return s
}

// Ingest applies one normalized callback. A replayed provider event id
// reports OutcomeDuplicate and changes nothing.
func (s *Service) Ingest(ctx context.Context, ev Event) (Result, error) {
	ev.Email = models.NormalizeEmail(ev.Email)

	if ev.Type == "" {
		s.logger.InfoContext(ctx, "webhook ignored", "provider", ev.Provider, "provider_type", ev.ProviderType)
		s.metrics.WebhookEvent(ev.Provider, ev.ProviderType, string(OutcomeIgnored))

		return Result{Outcome: OutcomeIgnored}, nil
	}

	err := ev.validate()
	if err != nil {
		return Result{}, err
	}

	if ev.ProviderEventID == "" {
		s.logger.WarnContext(ctx, "webhook without event id cannot be deduplicated",
			"provider", ev.Provider, "type", ev.Type)
	}

	res, err := s.dispatch(ctx, ev)
	res.Type = ev.Type

	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
	}
	s.metrics.WebhookEvent(ev.Provider, string(ev.Type), outcome)

	if err != nil {
		return Result{}, fmt.Errorf("ingest %s: %w", ev.Type, err)
	}

	s.logger.InfoContext(ctx, "webhook ingested",
		"provider", ev.Provider, "type", ev.Type, "event_id", ev.ProviderEventID, "outcome", res.Outcome)

	return res, nil
}

func (s *Service) dispatch(ctx context.Context, ev Event) (Result, error) {
	switch ev.Type {
	case PaymentCaptured:
		return s.route(ctx, orderRequest(ev))
	case BookingCreated, BookingCancelled:
		return s.route(ctx, bookingRequest(ev))
	case SubscriptionRenewed:
		return s.renew(ctx, ev)
	case SubscriptionActivated:
		return s.activate(ctx, ev)
	default:
		return s.setStatus(ctx, ev, statusFor[ev.Type])
	}
}

func (s *Service) route(ctx context.Context, req reconcile.RouteRequest) (Result, error) {
	rr, err := s.router.RouteEvent(ctx, req)
	if err != nil {
		return Result{}, err
	}

	return Result{Outcome: rr.Outcome, Route: &rr}, nil
}

func (s *Service) setStatus(ctx context.Context, ev Event, status models.SubscriptionStatus) (Result, error) {
	change, err := s.subscriptions.UpdateStatus(ctx, ev.Resource.SubscriptionID, status,
		ev.Resource.NextBillingDate, ev.key())
	if errors.Is(err, subscriptions.ErrDuplicateStatus) {
		return Result{Outcome: reconcile.OutcomeDuplicate}, nil
	}
	if err != nil {
		return Result{}, err
	}

	return Result{Outcome: outcomeOf(change.Pending), Change: &change}, nil
}

// activate marks a known subscription active. An activation for a
// subscription the portal has never seen creates it under the
// subscriber's email, resolved or pending.
func (s *Service) activate(ctx context.Context, ev Event) (Result, error) {
	res, err := s.setStatus(ctx, ev, models.SubscriptionActive)
	if !errors.Is(err, apperr.ErrNotFound) || ev.Email == "" {
		return res, err
	}

	r := ev.Resource

	creditType := r.CreditType
	if creditType == "" {
		creditType = defaultCreditType
	}

	return s.route(ctx, reconcile.RouteRequest{
		Kind:           reconcile.KindSubscription,
		Email:          ev.Email,
		IdempotencyKey: ev.key(),
		Subscription: &reconcile.SubscriptionPayload{
			PlanType:               r.PlanType,
			ExternalSubscriptionID: r.SubscriptionID,
			Status:                 models.SubscriptionActive,
			CreditsPerCycle:        r.CreditsPerCycle,
			CreditType:             creditType,
			NextBillingDate:        r.NextBillingDate,
			Metadata:               providerMeta(ev),
		},
	})
}

func (s *Service) renew(ctx context.Context, ev Event) (Result, error) {
	renewal, err := s.subscriptions.ApplyRenewal(ctx, ev.Resource.SubscriptionID, ev.key())
	if errors.Is(err, subscriptions.ErrDuplicateRenewal) {
		return Result{Outcome: reconcile.OutcomeDuplicate}, nil
	}
	if err != nil {
		return Result{}, err
	}

	return Result{Outcome: outcomeOf(renewal.Pending), Renewal: &renewal}, nil
}

func orderRequest(ev Event) reconcile.RouteRequest {
	r := ev.Resource

	cart := r.Cart
	if cart == nil {
		cart = models.Cart{}
	}

	order := &reconcile.OrderPayload{
		Cart:       cart,
		Status:     models.OrderCompleted,
		TotalCents: r.AmountCents,
		Currency:   r.Currency,
		Metadata:   providerMeta(ev),
	}
	if r.OrderID != "" {
		id := r.OrderID
		order.ProviderOrderID = &id
	}

	return reconcile.RouteRequest{
		Kind:           reconcile.KindOrder,
		Email:          ev.Email,
		IdempotencyKey: ev.key(),
		Order:          order,
	}
}

// bookingRequest charges one credit of the class type for a booking and
// gives it back on cancellation.
func bookingRequest(ev Event) reconcile.RouteRequest {
	classType := ev.Resource.ClassType
	if classType == "" {
		classType = defaultClassType
	}

	credit := &reconcile.CreditPayload{
		Delta:         -1,
		TypeBreakdown: models.Breakdown{classType: 1},
		Source:        models.SourceClassBooking,
		Metadata:      models.Metadata{"calendlyEventId": ev.ProviderEventID, "classType": classType},
	}
	if ev.Type == BookingCancelled {
		credit.Delta = 1
		credit.Source = models.SourceRefund
		credit.Metadata["reason"] = "class_cancelled"
	}

	return reconcile.RouteRequest{
		Kind:           reconcile.KindCredit,
		Email:          ev.Email,
		IdempotencyKey: ev.key(),
		Credit:         credit,
	}
}

func providerMeta(ev Event) models.Metadata {
	meta := models.Metadata{"provider": ev.Provider, "providerEventId": ev.ProviderEventID}
	if ev.Resource.Raw != nil {
		meta["resource"] = ev.Resource.Raw
	}

	return meta
}

func outcomeOf(pending bool) reconcile.Outcome {
	if pending {
		return reconcile.OutcomePending
	}

	return reconcile.OutcomeApplied
}

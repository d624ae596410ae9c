// Package notify carries the notification intents emitted by the ledger
// core. Rendering and delivery belong to the implementation behind Notifier.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/metrics"
	"github.com/fastprodman/studentportal/internal/models"
)

const (
	IntentLowCredits         = "low_credits"
	IntentBadgesEarned       = "badges_earned"
	IntentSubscriptionStatus = "subscription_status"
)

type LowCredits struct {
	AccountID      uint64
	RemainingTotal int64
}

type BadgesEarned struct {
	AccountID uint64
	Badges    []string
	Codes     []string
}

type SubscriptionStatusChanged struct {
	AccountID  uint64
	ExternalID string
	Status     models.SubscriptionStatus
}

type Notifier interface {
	LowCredits(ctx context.Context, n LowCredits) error
	BadgesEarned(ctx context.Context, n BadgesEarned) error
	SubscriptionStatusChanged(ctx context.Context, n SubscriptionStatusChanged) error
}

// Log writes every intent to a structured logger.
type Log struct {
	logger *slog.Logger
}

var _ Notifier = (*Log)(nil)

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logging.OrDefault(logger)}
}

func (l *Log) LowCredits(ctx context.Context, n LowCredits) error {
	l.logger.InfoContext(ctx, "notify low credits",
		"account_id", n.AccountID, "remaining_total", n.RemainingTotal)
	return nil
}

func (l *Log) BadgesEarned(ctx context.Context, n BadgesEarned) error {
	l.logger.InfoContext(ctx, "notify badges earned",
		"account_id", n.AccountID, "badges", n.Badges, "codes", n.Codes)
	return nil
}

func (l *Log) SubscriptionStatusChanged(ctx context.Context, n SubscriptionStatusChanged) error {
	l.logger.InfoContext(ctx, "notify subscription status",
		"account_id", n.AccountID, "subscription", n.ExternalID, "status", n.Status)
	return nil
}

// Multi fans every intent out to all notifiers and joins their errors.
type Multi []Notifier

var _ Notifier = Multi(nil)

func (m Multi) LowCredits(ctx context.Context, n LowCredits) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.LowCredits(ctx, n))
	}
	return errors.Join(errs...)
}

func (m Multi) BadgesEarned(ctx context.Context, n BadgesEarned) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.BadgesEarned(ctx, n))
	}
	return errors.Join(errs...)
}

func (m Multi) SubscriptionStatusChanged(ctx context.Context, n SubscriptionStatusChanged) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.SubscriptionStatusChanged(ctx, n))
	}
	return errors.Join(errs...)
}

// Counting records a delivery result for every intent passed to next.
type Counting struct {
	next    Notifier
	metrics *metrics.Portal
}

var _ Notifier = (*Counting)(nil)

func WithMetrics(next Notifier, m *metrics.Portal) *Counting {
	return &Counting{next: next, metrics: m}
}

func (c *Counting) LowCredits(ctx context.Context, n LowCredits) error {
	err := c.next.LowCredits(ctx, n)
	c.metrics.Notification(IntentLowCredits, err)
	return err
}

func (c *Counting) BadgesEarned(ctx context.Context, n BadgesEarned) error {
	err := c.next.BadgesEarned(ctx, n)
	c.metrics.Notification(IntentBadgesEarned, err)
	return err
}

func (c *Counting) SubscriptionStatusChanged(ctx context.Context, n SubscriptionStatusChanged) error {
	err := c.next.SubscriptionStatusChanged(ctx, n)
	c.metrics.Notification(IntentSubscriptionStatus, err)
	return err
}

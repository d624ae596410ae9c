// Package ingest turns payment and booking provider callbacks into ledger
// events. Adapters normalize each provider's payload into an Event and
// Ingest routes it to the reconcile engine or the subscriptions service.
package ingest

import (
	"time"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
)

type Type string

const (
	PaymentCaptured           Type = "payment_captured"
	SubscriptionActivated     Type = "subscription_activated"
	SubscriptionCancelled     Type = "subscription_cancelled"
	SubscriptionSuspended     Type = "subscription_suspended"
	SubscriptionPaymentFailed Type = "subscription_payment_failed"
	SubscriptionRenewed       Type = "subscription_renewed"
	BookingCreated            Type = "booking_created"
	BookingCancelled          Type = "booking_cancelled"
)

// statusFor maps the status-only subscription events to the status they set.
var statusFor = map[Type]models.SubscriptionStatus{
	SubscriptionActivated:     models.SubscriptionActive,
	SubscriptionCancelled:     models.SubscriptionCancelled,
	SubscriptionSuspended:     models.SubscriptionSuspended,
	SubscriptionPaymentFailed: models.SubscriptionPastDue,
}

func (t Type) Valid() bool {
	switch t {
	case PaymentCaptured, SubscriptionRenewed, BookingCreated, BookingCancelled:
		return true
	}
	_, ok := statusFor[t]

	return ok
}

const (
	ProviderPayPal   = "paypal"
	ProviderCalendly = "calendly"

	defaultClassType  = "general_class"
	defaultCreditType = "Any"
)

// Event is a provider callback reduced to what the ledger consumes.
// An empty Type marks a callback the portal does not act on.
type Event struct {
	Type            Type     `json:"type"`
	Provider        string   `json:"provider,omitempty"`
	ProviderType    string   `json:"providerType,omitempty"`
	Email           string   `json:"email"`
	ProviderEventID string   `json:"providerEventId"`
	Resource        Resource `json:"resource"`
}

// Resource carries the per-type fields. Only the fields of the event's
// type are read.
type Resource struct {
	SubscriptionID  string     `json:"subscriptionId,omitempty"`
	PlanType        string     `json:"planType,omitempty"`
	CreditsPerCycle int64      `json:"creditsPerCycle,omitempty"`
	CreditType      string     `json:"creditType,omitempty"`
	NextBillingDate *time.Time `json:"nextBillingDate,omitempty"`

	ClassType string `json:"classType,omitempty"`

	OrderID     string      `json:"orderId,omitempty"`
	Cart        models.Cart `json:"cart,omitempty"`
	AmountCents int64       `json:"amountCents,omitempty"`
	Currency    string      `json:"currency,omitempty"`

	// Raw is the provider's resource object, kept on created records.
	Raw models.Metadata `json:"raw,omitempty"`
}

// key is the idempotency key of the event. Provider ids are only unique
// per provider, and Calendly reuses the booking's id for its cancellation.
func (e Event) key() string {
	if e.ProviderEventID == "" {
		return ""
	}

	return e.Provider + ":" + string(e.Type) + ":" + e.ProviderEventID
}

func (e Event) validate() error {
	if !e.Type.Valid() {
		return apperr.Invalid("unknown event type %q", e.Type)
	}

	switch e.Type {
	case PaymentCaptured, BookingCreated, BookingCancelled:
		if e.Email == "" {
			return apperr.Invalid("%s needs the customer email", e.Type)
		}
	default:
		if e.Resource.SubscriptionID == "" {
			return apperr.Invalid("%s needs a subscription id", e.Type)
		}
	}

	if e.Resource.CreditsPerCycle < 0 {
		return apperr.Invalid("creditsPerCycle must not be negative")
	}

	return nil
}

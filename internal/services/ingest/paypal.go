package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
)

var paypalTypes = map[string]Type{
	"PAYMENT.CAPTURE.COMPLETED":              PaymentCaptured,
	"BILLING.SUBSCRIPTION.ACTIVATED":         SubscriptionActivated,
	"BILLING.SUBSCRIPTION.CANCELLED":         SubscriptionCancelled,
	"BILLING.SUBSCRIPTION.SUSPENDED":         SubscriptionSuspended,
	"BILLING.SUBSCRIPTION.PAYMENT.FAILED":    SubscriptionPaymentFailed,
	"BILLING.SUBSCRIPTION.PAYMENT.SUCCEEDED": SubscriptionRenewed,
	"PAYMENT.SALE.COMPLETED":                 SubscriptionRenewed,
}

type paypalEnvelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalEmail struct {
	EmailAddress string `json:"email_address"`
}

type paypalResource struct {
	ID                 string       `json:"id"`
	BillingAgreementID string       `json:"billing_agreement_id"`
	SubscriptionID     string       `json:"subscription_id"`
	PlanID             string       `json:"plan_id"`
	CustomID           string       `json:"custom_id"`
	InvoiceID          string       `json:"invoice_id"`
	Payer              *paypalEmail `json:"payer"`
	Subscriber         *paypalEmail `json:"subscriber"`
	Amount             *struct {
		Value        string `json:"value"`
		CurrencyCode string `json:"currency_code"`
	} `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	BillingInfo struct {
		NextBillingTime *time.Time `json:"next_billing_time"`
	} `json:"billing_info"`
}

// paypalCustom is the JSON the checkout puts in custom_id so a
// subscription can be created from its activation callback.
type paypalCustom struct {
	Email           string `json:"email"`
	PlanType        string `json:"planType"`
	CreditsPerCycle int64  `json:"creditsPerCycle"`
	CreditType      string `json:"creditType"`
}

// FromPayPal normalizes a PayPal webhook body. Event types the portal
// does not handle come back with an empty Type and no error.
func FromPayPal(raw []byte) (Event, error) {
	var env paypalEnvelope

	err := json.Unmarshal(raw, &env)
	if err != nil {
		return Event{}, apperr.Invalid("paypal payload: %v", err)
	}
	if env.EventType == "" {
		return Event{}, apperr.Invalid("paypal payload has no event_type")
	}

	ev := Event{
		Provider:        ProviderPayPal,
		ProviderType:    env.EventType,
		ProviderEventID: env.ID,
		Type:            paypalTypes[env.EventType],
	}
	if ev.Type == "" || len(env.Resource) == 0 {
		return ev, nil
	}

	var res paypalResource

	err = json.Unmarshal(env.Resource, &res)
	if err != nil {
		return Event{}, apperr.Invalid("paypal resource: %v", err)
	}

	var rawResource models.Metadata

	err = json.Unmarshal(env.Resource, &rawResource)
	if err != nil {
		return Event{}, apperr.Invalid("paypal resource: %v", err)
	}

	custom := parseCustom(res.CustomID)

	ev.Email = firstNonEmpty(emailOf(res.Payer), emailOf(res.Subscriber), custom.Email)

	if ev.Type == PaymentCaptured {
		ev.Resource = Resource{
			OrderID: firstNonEmpty(res.SupplementaryData.RelatedIDs.OrderID, res.InvoiceID, res.ID),
			Cart:    models.Cart{},
			Raw:     rawResource,
		}

		if res.Amount != nil {
			ev.Resource.Currency = res.Amount.CurrencyCode
			ev.Resource.AmountCents, err = parseCents(res.Amount.Value)
			if err != nil {
				return Event{}, err
			}
		}

		return ev, nil
	}

	ev.Resource = Resource{
		SubscriptionID:  paypalSubscriptionID(env.EventType, res),
		PlanType:        firstNonEmpty(custom.PlanType, res.PlanID),
		CreditsPerCycle: custom.CreditsPerCycle,
		CreditType:      custom.CreditType,
		NextBillingDate: res.BillingInfo.NextBillingTime,
		Raw:             rawResource,
	}

	return ev, nil
}

// paypalSubscriptionID picks the subscription a callback is about. On
// sale callbacks resource.id is the sale, not the subscription.
func paypalSubscriptionID(eventType string, res paypalResource) string {
	if strings.HasPrefix(eventType, "BILLING.SUBSCRIPTION.") && !strings.Contains(eventType, ".PAYMENT.") {
		return firstNonEmpty(res.ID, res.BillingAgreementID, res.SubscriptionID)
	}

	return firstNonEmpty(res.BillingAgreementID, res.SubscriptionID, res.ID)
}

func parseCustom(s string) paypalCustom {
	var c paypalCustom

	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return c
	}

	// a custom_id that is not ours is just ignored
	_ = json.Unmarshal([]byte(s), &c)

	return c
}

// parseCents converts a PayPal decimal amount such as "12.5" to cents.
func parseCents(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}

	whole, frac, _ := strings.Cut(v, ".")
	if len(frac) > 2 {
		return 0, apperr.Invalid("amount %q has more than two decimals", v)
	}
	frac += strings.Repeat("0", 2-len(frac))

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, apperr.Invalid("invalid amount %q", v)
	}

	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, apperr.Invalid("invalid amount %q", v)
	}

	return w*100 + f, nil
}

func emailOf(e *paypalEmail) string {
	if e == nil {
		return ""
	}

	return e.EmailAddress
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}

// Package models holds the plain records shared by repositories and services.
package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
	// RoleService is the identity of trusted internal callers (webhook relays, booking sync).
	RoleService Role = "service"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin, RoleService:
		return true
	default:
		return false
	}
}

type Account struct {
	ID           uint64    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

type CreditSource string

const (
	SourcePurchase            CreditSource = "purchase"
	SourceOrderPurchase       CreditSource = "order_purchase"
	SourceSubscriptionRenewal CreditSource = "subscription_renewal"
	SourceClassBooking        CreditSource = "class_booking"
	SourceRefund              CreditSource = "refund"
	SourceSystem              CreditSource = "system"
	SourcePendingSync         CreditSource = "pending_sync"
)

type CreditTransaction struct {
	ID             uint64       `json:"id"`
	AccountID      uint64       `json:"accountId"`
	Delta          int64        `json:"delta"`
	TypeBreakdown  Breakdown    `json:"typeBreakdown"`
	Source         CreditSource `json:"source"`
	RelatedOrderID *uint64      `json:"relatedOrderId,omitempty"`
	IdempotencyKey *string      `json:"idempotencyKey,omitempty"`
	Metadata       Metadata     `json:"metadata"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type Download struct {
	ID        uint64    `json:"id"`
	AccountID uint64    `json:"accountId"`
	ProductID string    `json:"productId"`
	FileURL   string    `json:"fileUrl,omitempty"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID                uint64      `json:"id"`
	AccountID         uint64      `json:"accountId"`
	Status            OrderStatus `json:"status"`
	TotalCents        int64       `json:"totalCents"`
	Currency          string      `json:"currency"`
	ProviderOrderID   *string     `json:"providerOrderId,omitempty"`
	MergedFromPending bool        `json:"mergedFromPending"`
	Metadata          Metadata    `json:"metadata"`
	CreatedAt         time.Time   `json:"createdAt"`
	Items             []OrderItem `json:"items"`
}

type OrderItem struct {
	ID        uint64   `json:"id"`
	OrderID   uint64   `json:"orderId"`
	Position  int      `json:"position"`
	ItemType  string   `json:"itemType"`
	BundleKey string   `json:"bundleKey,omitempty"`
	ProductID string   `json:"productId,omitempty"`
	Quantity  int      `json:"quantity"`
	Meta      Metadata `json:"meta"`
}

type SubscriptionStatus string

const (
	SubscriptionCreated   SubscriptionStatus = "created"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionCreated, SubscriptionActive, SubscriptionSuspended,
		SubscriptionCancelled, SubscriptionPastDue, SubscriptionExpired:
		return true
	default:
		return false
	}
}

type Subscription struct {
	ID                     uint64             `json:"id"`
	AccountID              uint64             `json:"accountId"`
	PlanType               string             `json:"planType"`
	ExternalSubscriptionID string             `json:"externalSubscriptionId"`
	Status                 SubscriptionStatus `json:"status"`
	CreditsPerCycle        int64              `json:"creditsPerCycle"`
	CreditType             string             `json:"creditType"`
	NextBillingDate        *time.Time         `json:"nextBillingDate,omitempty"`
	Metadata               Metadata           `json:"metadata"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

type PendingCredit struct {
	ID             uint64       `json:"id"`
	Email          string       `json:"email"`
	Delta          int64        `json:"delta"`
	TypeBreakdown  Breakdown    `json:"typeBreakdown"`
	Source         CreditSource `json:"source"`
	IdempotencyKey *string      `json:"idempotencyKey,omitempty"`
	Metadata       Metadata     `json:"metadata"`
	LastError      *string      `json:"lastError,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type PendingDownload struct {
	ID        uint64    `json:"id"`
	Email     string    `json:"email"`
	ProductID string    `json:"productId"`
	FileURL   string    `json:"fileUrl,omitempty"`
	Metadata  Metadata  `json:"metadata"`
	LastError *string   `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type PendingOrder struct {
	ID              uint64      `json:"id"`
	Email           string      `json:"email"`
	Status          OrderStatus `json:"status"`
	TotalCents      int64       `json:"totalCents"`
	Currency        string      `json:"currency"`
	ProviderOrderID *string     `json:"providerOrderId,omitempty"`
	Cart            Cart        `json:"cart"`
	Metadata        Metadata    `json:"metadata"`
	LastError       *string     `json:"lastError,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

type PendingSubscription struct {
	ID                     uint64             `json:"id"`
	Email                  string             `json:"email"`
	PlanType               string             `json:"planType"`
	ExternalSubscriptionID string             `json:"externalSubscriptionId"`
	Status                 SubscriptionStatus `json:"status"`
	CreditsPerCycle        int64              `json:"creditsPerCycle"`
	CreditType             string             `json:"creditType"`
	NextBillingDate        *time.Time         `json:"nextBillingDate,omitempty"`
	Metadata               Metadata           `json:"metadata"`
	LastError              *string            `json:"lastError,omitempty"`
	CreatedAt              time.Time          `json:"createdAt"`
}

type BadgeProgress struct {
	AccountID     uint64    `json:"accountId"`
	Progress      Counters  `json:"progress"`
	EarnedBadges  StringSet `json:"earnedBadges"`
	UnlockedCodes StringSet `json:"unlockedCodes"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NormalizeEmail is the canonical external identifier form used by every
// table keyed by email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package api

import (
	"net/http"
	"time"

	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/services/reconcile"
)

// target names who an entitlement belongs to: an account id, an email,
// or both.
type target struct {
	Email          string  `json:"email"`
	AccountID      *uint64 `json:"accountId"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

func (t target) request(r *http.Request, kind reconcile.Kind) reconcile.RouteRequest {
	return reconcile.RouteRequest{
		Kind:           kind,
		Email:          t.Email,
		AccountID:      t.AccountID,
		IdempotencyKey: idempotencyKey(r, t.IdempotencyKey),
	}
}

type creditRequest struct {
	target
	reconcile.CreditPayload
}

type downloadRequest struct {
	target
	reconcile.DownloadPayload
}

type orderRequest struct {
	target
	reconcile.OrderPayload
}

type subscriptionRequest struct {
	target
	reconcile.SubscriptionPayload
}

func (h *HandlerProvider) route(w http.ResponseWriter, r *http.Request, req reconcile.RouteRequest) {
	res, err := h.svc.Reconciler.RouteEvent(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, routeStatus(res.Outcome), res)
}

// RouteCreditHandler handles POST /system/credits
func (h *HandlerProvider) RouteCreditHandler(w http.ResponseWriter, r *http.Request) {
	var body creditRequest

	err := decodeJSON(w, r, &body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := body.request(r, reconcile.KindCredit)
	req.Credit = &body.CreditPayload
	h.route(w, r, req)
}

// RouteDownloadHandler handles POST /system/downloads
func (h *HandlerProvider) RouteDownloadHandler(w http.ResponseWriter, r *http.Request) {
	var body downloadRequest

	err := decodeJSON(w, r, &body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := body.request(r, reconcile.KindDownload)
	req.Download = &body.DownloadPayload
	h.route(w, r, req)
}

// RouteOrderHandler handles POST /system/orders
func (h *HandlerProvider) RouteOrderHandler(w http.ResponseWriter, r *http.Request) {
	var body orderRequest

	err := decodeJSON(w, r, &body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := body.request(r, reconcile.KindOrder)
	req.Order = &body.OrderPayload
	h.route(w, r, req)
}

// RouteSubscriptionHandler handles POST /system/subscriptions
func (h *HandlerProvider) RouteSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var body subscriptionRequest

	err := decodeJSON(w, r, &body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := body.request(r, reconcile.KindSubscription)
	req.Subscription = &body.SubscriptionPayload
	h.route(w, r, req)
}

type metadataRequest struct {
	Metadata models.Metadata `json:"metadata"`
}

// AppendOrderMetadataHandler handles POST /system/orders/{orderId}/metadata
func (h *HandlerProvider) AppendOrderMetadataHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "orderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var body metadataRequest

	err = decodeJSON(w, r, &body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	err = h.svc.Reconciler.AppendOrderMetadata(r.Context(), id, body.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRequest struct {
	ExternalSubscriptionID string                    `json:"externalSubscriptionId"`
	Status                 models.SubscriptionStatus `json:"status"`
	NextBillingDate        *time.Time                `json:"nextBillingDate"`
	IdempotencyKey         string                    `json:"idempotencyKey"`
}

// UpdateSubscriptionStatusHandler handles POST /system/subscriptions/update-status
func (h *HandlerProvider) UpdateSubscriptionStatusHandler(w http.ResponseWriter, r *http.Request) {
	var body statusRequest

	err := decodeJSON(w, r, &body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	change, err := h.svc.Subscriptions.UpdateStatus(r.Context(), body.ExternalSubscriptionID, body.Status,
		body.NextBillingDate, idempotencyKey(r, body.IdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, change)
}

type renewalRequest struct {
	ExternalSubscriptionID string `json:"externalSubscriptionId"`
	IdempotencyKey         string `json:"idempotencyKey"`
}

// ApplyRenewalHandler handles POST /system/subscriptions/apply-renewal
func (h *HandlerProvider) ApplyRenewalHandler(w http.ResponseWriter, r *http.Request) {
	var body renewalRequest

	err := decodeJSON(w, r, &body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	renewal, err := h.svc.Subscriptions.ApplyRenewal(r.Context(), body.ExternalSubscriptionID,
		idempotencyKey(r, body.IdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, renewal)
}

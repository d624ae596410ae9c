package api

import (
	"net/http"

	"github.com/fastprodman/studentportal/internal/services/ingest"
)

func (h *HandlerProvider) ingest(w http.ResponseWriter, r *http.Request, ev ingest.Event) {
	res, err := h.svc.Ingester.Ingest(r.Context(), ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// PayPalWebhookHandler handles POST /webhooks/paypal
func (h *HandlerProvider) PayPalWebhookHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ev, err := ingest.FromPayPal(raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.ingest(w, r, ev)
}

// CalendlyBookingHandler handles POST /webhooks/calendly/booking
func (h *HandlerProvider) CalendlyBookingHandler(w http.ResponseWriter, r *http.Request) {
	h.calendly(w, r, ingest.BookingCreated)
}

// CalendlyCancelHandler handles POST /webhooks/calendly/cancel
func (h *HandlerProvider) CalendlyCancelHandler(w http.ResponseWriter, r *http.Request) {
	h.calendly(w, r, ingest.BookingCancelled)
}

func (h *HandlerProvider) calendly(w http.ResponseWriter, r *http.Request, kind ingest.Type) {
	raw, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ev, err := ingest.FromCalendly(kind, raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.ingest(w, r, ev)
}

// NormalizedWebhookHandler handles POST /webhooks/events, for relays that
// already speak the normalized event shape.
func (h *HandlerProvider) NormalizedWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var ev ingest.Event

	err := decodeJSON(w, r, &ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.ingest(w, r, ev)
}

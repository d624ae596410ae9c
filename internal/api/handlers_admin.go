package api

import (
	"net/http"
)

// ListPendingHandler handles GET /admin/pending
func (h *HandlerProvider) ListPendingHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Reconciler.Pending(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// SyncAccountHandler handles POST /admin/accounts/{accountId}/sync
func (h *HandlerProvider) SyncAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "accountId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Reconciler.ReconcileAccount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"accountId": id, "merged": res})
}

// SyncAllHandler handles POST /admin/sync-all
func (h *HandlerProvider) SyncAllHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconciler.SyncAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

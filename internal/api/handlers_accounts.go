package api

import (
	"net/http"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/services/events"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupHandler handles POST /auth/signup
func (h *HandlerProvider) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req signupRequest

	err := decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sess, err := h.svc.Accounts.Signup(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// SigninHandler handles POST /auth/signin
func (h *HandlerProvider) SigninHandler(w http.ResponseWriter, r *http.Request) {
	var req signinRequest

	err := decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sess, err := h.svc.Accounts.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// reconciledAccount authorizes the {accountId} in the path and merges its
// pending rows, so every read below sees them.
func (h *HandlerProvider) reconciledAccount(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := parseIDParam(r, "accountId")
	if err != nil {
		h.writeError(w, r, err)
		return 0, false
	}

	err = authorizeAccount(r, id)
	if err != nil {
		h.writeError(w, r, err)
		return 0, false
	}

	res, err := h.svc.Reconciler.ReconcileAccount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return 0, false
	}
	if len(res.Failures) > 0 {
		h.logger.WarnContext(r.Context(), "pending rows left unmerged", "account_id", id, "failures", len(res.Failures))
	}

	return id, true
}

// GetBalanceHandler handles GET /accounts/{accountId}/balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reconciledAccount(w, r)
	if !ok {
		return
	}

	bal, err := h.svc.Ledger.Balance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"accountId": id, "balance": bal})
}

// GetHistoryHandler handles GET /accounts/{accountId}/history
func (h *HandlerProvider) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reconciledAccount(w, r)
	if !ok {
		return
	}

	hist, err := h.svc.Ledger.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, hist)
}

// GetDownloadsHandler handles GET /accounts/{accountId}/downloads
func (h *HandlerProvider) GetDownloadsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reconciledAccount(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Reconciler.Downloads(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"downloads": out})
}

// GetOrdersHandler handles GET /accounts/{accountId}/orders
func (h *HandlerProvider) GetOrdersHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reconciledAccount(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Reconciler.Orders(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// GetSubscriptionsHandler handles GET /accounts/{accountId}/subscriptions
func (h *HandlerProvider) GetSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reconciledAccount(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Subscriptions.ListByAccount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

// GetBadgesHandler handles GET /accounts/{accountId}/badges
func (h *HandlerProvider) GetBadgesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reconciledAccount(w, r)
	if !ok {
		return
	}

	summary, err := h.svc.Badges.Progress(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type eventRequest struct {
	// AccountID defaults to the calling student.
	AccountID uint64         `json:"accountId"`
	Event     string         `json:"event"`
	Payload   events.Payload `json:"payload"`
}

// DispatchEventHandler handles POST /events
func (h *HandlerProvider) DispatchEventHandler(w http.ResponseWriter, r *http.Request) {
	var req eventRequest

	err := decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.AccountID == 0 {
		req.AccountID = principalFrom(r.Context()).AccountID
	}
	if req.AccountID == 0 {
		h.writeError(w, r, apperr.Invalid("accountId is required"))
		return
	}

	err = authorizeAccount(r, req.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.svc.Events.Dispatch(r.Context(), req.AccountID, req.Event, req.Payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"progress":  out.Unlocks,
		"newBadges": out.NewBadges(),
		"newCodes":  out.NewCodes(),
	})
}

package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/services/accounts"
)

const (
	// AccountHeader carries the student account id asserted by the session
	// gateway in front of the API.
	AccountHeader       = "X-Account-Id"
	WebhookSecretHeader = "X-Webhook-Secret"
)

type principalKey struct{}

// Keys are the shared secrets the boundary checks.
type Keys struct {
	Admin         string
	Service       string
	WebhookSecret string
}

func principalFrom(ctx context.Context) accounts.Principal {
	p, _ := ctx.Value(principalKey{}).(accounts.Principal)
	return p
}

// authenticate resolves the caller once per request. A bearer token must
// match the admin or service key. Without one the gateway's account
// header makes the caller a student. Anything else is anonymous.
func authenticate(keys Keys, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := resolvePrincipal(keys, r)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}

func resolvePrincipal(keys Keys, r *http.Request) (accounts.Principal, error) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		token = strings.TrimSpace(token)

		switch {
		case secretEqual(token, keys.Admin):
			return accounts.Principal{Role: models.RoleAdmin}, nil
		case secretEqual(token, keys.Service):
			return accounts.Principal{Role: models.RoleService}, nil
		default:
			return accounts.Principal{}, apperr.New(apperr.ErrUnauthorized, "unknown api key")
		}
	}

	raw := r.Header.Get(AccountHeader)
	if raw == "" {
		return accounts.Principal{}, nil
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return accounts.Principal{}, apperr.New(apperr.ErrUnauthorized, "malformed account header")
	}

	return accounts.Principal{Role: models.RoleStudent, AccountID: id}, nil
}

// secretEqual never matches an unset key.
func secretEqual(got, want string) bool {
	if want == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// require rejects callers lacking c.
func (h *HandlerProvider) require(c accounts.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := principalFrom(r.Context()).Require(c)
			if err != nil {
				h.writeError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requireWebhookSecret gates provider callbacks. An empty secret leaves
// the endpoints open, which is only meant for local development.
func (h *HandlerProvider) requireWebhookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && !secretEqual(r.Header.Get(WebhookSecretHeader), secret) {
				h.writeError(w, r, apperr.New(apperr.ErrUnauthorized, "bad webhook secret"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// authorizeAccount checks the caller may act on accountID.
func authorizeAccount(r *http.Request, accountID uint64) error {
	if principalFrom(r.Context()).CanAccess(accountID) {
		return nil
	}

	return apperr.New(apperr.ErrUnauthorized, "account not accessible")
}

// Package accounts signs students up and in. Both touchpoints reconcile
// the email's pending entitlements before returning.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/models"
	"github.com/fastprodman/studentportal/internal/repos/accounts"
	pgaccounts "github.com/fastprodman/studentportal/internal/repos/accounts/postgres"
	"github.com/fastprodman/studentportal/internal/services/reconcile"
)

const (
	minPasswordLen = 8
	// bcrypt rejects passwords longer than 72 bytes
	maxPasswordLen = 72
)

var ErrInvalidCredentials = apperr.New(apperr.ErrUnauthorized, "invalid email or password")

// Reconciler merges pending rows into a known account.
type Reconciler interface {
	Reconcile(ctx context.Context, acct models.Account) (reconcile.Result, error)
}

// Session is what signup and signin hand back: the account and what was
// merged into it on the way in.
type Session struct {
	Account models.Account   `json:"account"`
	Merged  reconcile.Result `json:"merged"`
}

type Service struct {
	db         *sql.DB
	accounts   accounts.Accounts
	reconciler Reconciler
	cost       int
	logger     *slog.Logger
}

type Option func(*Service)

// WithHashCost overrides bcrypt.DefaultCost.
func WithHashCost(cost int) Option { return func(s *Service) { s.cost = cost } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func New(db *sql.DB, reconciler Reconciler, opts ...Option) *Service {
	s := &Service{
		db:         db,
		accounts:   pgaccounts.New(db),
		reconciler: reconciler,
		cost:       bcrypt.DefaultCost,
	}

	for _, o := range opts {
		o(s)
	}

	s.logger = logging.OrDefault(s.logger)

	return s
}

func (s *Service) Signup(ctx context.Context, name, email, password string) (Session, error) {
	name = strings.TrimSpace(name)
	email = models.NormalizeEmail(email)

	err := validateSignup(name, email, password)
	if err != nil {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	acct, err := s.accounts.Create(ctx, models.Account{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         models.RoleStudent,
	})
	if err != nil {
		return Session{}, fmt.Errorf("signup: %w", err)
	}

	s.logger.InfoContext(ctx, "account created", "account_id", acct.ID, "email", acct.Email)

	return s.session(ctx, acct), nil
}

func (s *Service) Signin(ctx context.Context, email, password string) (Session, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	acct, err := s.accounts.GetByEmail(ctx, s.db, email)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("signin: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password))
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}

	return s.session(ctx, acct), nil
}

// session reconciles the account. A failed merge leaves rows pending for
// the next touchpoint and does not fail the sign-in.
func (s *Service) session(ctx context.Context, acct models.Account) Session {
	merged, err := s.reconciler.Reconcile(ctx, acct)
	if err != nil {
		s.logger.WarnContext(ctx, "reconcile on sign-in failed", "account_id", acct.ID, "error", err)
	}

	if merged.Failures == nil {
		merged.Failures = []reconcile.RecordFailure{}
	}

	return Session{Account: acct, Merged: merged}
}

func validateSignup(name, email, password string) error {
	if name == "" {
		return apperr.Invalid("name is required")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.Invalid("email %q is not a valid address", email)
	}

	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return apperr.Invalid("password must be %d to %d characters", minPasswordLen, maxPasswordLen)
	}

	return nil
}

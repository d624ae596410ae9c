// Package events turns domain actions into badge progress increments.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/services/badges"
)

var (
	ErrUnknownEvent = apperr.New(apperr.ErrInvalidInput, "unknown event")
	ErrUnresolved   = apperr.New(apperr.ErrInvalidInput, "event resolved to no progress key")
)

// Incrementer is the badge engine entry point the router drives.
type Incrementer interface {
	Increment(ctx context.Context, accountID uint64, key string, amount int64) (badges.Unlock, error)
}

type Router struct {
	badges Incrementer
	table  map[string]mapping
	loc    *time.Location
	logger *slog.Logger
}

type Option func(*Router)

// WithLocation sets the zone used for the before-noon rule. Default UTC.
func WithLocation(loc *time.Location) Option { return func(r *Router) { r.loc = loc } }

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

// NewRouter checks every event's possible progress keys against keys.
func NewRouter(inc Incrementer, keys KeySet, opts ...Option) (*Router, error) {
	r := &Router{
		badges: inc,
		table:  defaultTable(),
		loc:    time.UTC,
	}

	for _, o := range opts {
		o(r)
	}

	r.logger = logging.OrDefault(r.logger)

	err := validateTable(r.table, keys)
	if err != nil {
		return nil, fmt.Errorf("event table: %w", err)
	}

	return r, nil
}

// Outcome collects the unlocks of one domain action.
type Outcome struct {
	Unlocks []badges.Unlock `json:"progress"`
}

// NewBadges flattens the badges earned across every unlock.
func (o Outcome) NewBadges() []string {
	out := []string{}
	for _, u := range o.Unlocks {
		out = append(out, u.Badges...)
	}

	return out
}

func (o Outcome) NewCodes() []string {
	out := []string{}
	for _, u := range o.Unlocks {
		out = append(out, u.Codes...)
	}

	return out
}

func (o *Outcome) add(u badges.Unlock) { o.Unlocks = append(o.Unlocks, u) }

// Emit increments the progress key eventName maps to by one. Unknown
// events and payloads that resolve to nothing are logged and reported,
// nothing is written.
func (r *Router) Emit(ctx context.Context, accountID uint64, eventName string, payload Payload) (badges.Unlock, error) {
	eventName = strings.TrimSpace(eventName)

	m, ok := r.table[eventName]
	if !ok {
		r.logger.WarnContext(ctx, "unknown badge event", "account_id", accountID, "event", eventName)
		return badges.Unlock{}, fmt.Errorf("%w: %q", ErrUnknownEvent, eventName)
	}

	key, ok := m.target(payload)
	if !ok {
		r.logger.WarnContext(ctx, "badge event resolved no progress key",
			"account_id", accountID, "event", eventName)
		return badges.Unlock{}, fmt.Errorf("%w: %q", ErrUnresolved, eventName)
	}

	u, err := r.badges.Increment(ctx, accountID, key, 1)
	if err != nil {
		return badges.Unlock{}, fmt.Errorf("emit %s: %w", eventName, err)
	}

	return u, nil
}

func (r *Router) emitAll(ctx context.Context, accountID uint64, names ...string) (Outcome, error) {
	var out Outcome

	for _, name := range names {
		u, err := r.Emit(ctx, accountID, name, nil)
		if err != nil {
			return out, err
		}

		out.add(u)
	}

	return out, nil
}

// CompleteClass records a finished class. Every class counts toward the
// total; known class types also count toward their category, and the
// first class of a category counts as exploring and completing it. A class
// finished before noon counts as a morning class.
func (r *Router) CompleteClass(
	ctx context.Context, accountID uint64, classType string, completedAt time.Time,
) (Outcome, error) {
	classType = strings.ToLower(strings.TrimSpace(classType))
	if classType == "" {
		return Outcome{}, apperr.Invalid("classType is required")
	}

	out, err := r.emitAll(ctx, accountID, ClassCompleted)
	if err != nil {
		return out, err
	}

	u, err := r.Emit(ctx, accountID, ClassCategoryCompleted, Payload{"classType": classType})

	switch {
	case errors.Is(err, ErrUnresolved):
		// uncategorized classes only count toward the total
	case err != nil:
		return out, err
	default:
		out.add(u)

		if u.Value == 1 {
			more, err := r.emitAll(ctx, accountID, CategoryExplored, CategoryCompleted)
			out.Unlocks = append(out.Unlocks, more.Unlocks...)

			if err != nil {
				return out, err
			}
		}
	}

	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	if completedAt.In(r.loc).Hour() < 12 {
		u, err := r.Emit(ctx, accountID, MorningClassCompleted, nil)
		if err != nil {
			return out, err
		}

		out.add(u)
	}

	return out, nil
}

// SubmitReflection counts a reflection, and a healing exercise when the
// reflection is flagged as one.
func (r *Router) SubmitReflection(ctx context.Context, accountID uint64, isHealingExercise bool) (Outcome, error) {
	names := []string{ReflectionSubmitted}
	if isHealingExercise {
		names = append(names, HealingExerciseCompleted)
	}

	return r.emitAll(ctx, accountID, names...)
}

func (r *Router) SubmitJournal(ctx context.Context, accountID uint64) (Outcome, error) {
	return r.emitAll(ctx, accountID, JournalSubmitted)
}

// RecordUpload counts an upload of uploadType. Types without a badge
// are accepted and count nothing.
func (r *Router) RecordUpload(ctx context.Context, accountID uint64, uploadType string) (Outcome, error) {
	uploadType = strings.ToLower(strings.TrimSpace(uploadType))
	if uploadType == "" {
		return Outcome{}, apperr.Invalid("upload type is required")
	}

	name, ok := uploadEvents[uploadType]
	if !ok {
		r.logger.DebugContext(ctx, "upload type counts toward no badge", "account_id", accountID, "type", uploadType)
		return Outcome{}, nil
	}

	return r.emitAll(ctx, accountID, name)
}

func (r *Router) CompleteCoachingSession(ctx context.Context, accountID uint64) (Outcome, error) {
	return r.emitAll(ctx, accountID, CoachingSessionCompleted)
}

func (r *Router) CompleteHealingExercise(ctx context.Context, accountID uint64) (Outcome, error) {
	return r.emitAll(ctx, accountID, HealingExerciseCompleted)
}

func (r *Router) RecordWeeklyStreak(ctx context.Context, accountID uint64) (Outcome, error) {
	return r.emitAll(ctx, accountID, WeeklyStreakIncremented)
}

// ReferralPaid credits the referrer once a referred friend pays.
func (r *Router) ReferralPaid(ctx context.Context, referrerID uint64) (Outcome, error) {
	return r.emitAll(ctx, referrerID, ReferralPaidEvent)
}

func (r *Router) ReferralShared(ctx context.Context, referrerID uint64) (Outcome, error) {
	return r.emitAll(ctx, referrerID, ReferralSharedEvent)
}

// Dispatch runs the action named by eventName, the way the events endpoint
// receives it. Actions with fan-out go through their method; anything else
// is a plain Emit.
func (r *Router) Dispatch(ctx context.Context, accountID uint64, eventName string, payload Payload) (Outcome, error) {
	switch eventName {
	case ClassCompleted:
		var at time.Time
		if raw := payload.Text("completedAt"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return Outcome{}, apperr.Invalid("completedAt must be RFC3339: %v", err)
			}
			at = t
		}

		return r.CompleteClass(ctx, accountID, payload.Text("classType"), at)
	case ReflectionSubmitted:
		return r.SubmitReflection(ctx, accountID, payload.Bool("isHealingExercise"))
	case "upload":
		return r.RecordUpload(ctx, accountID, payload.Text("type"))
	}

	u, err := r.Emit(ctx, accountID, eventName, payload)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{Unlocks: []badges.Unlock{u}}, nil
}

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/services/badges"
)

// fakeBadges counts increments in memory.
type fakeBadges struct {
	mu       sync.Mutex
	counters map[string]int64
	calls    []string
	err      error
}

func (f *fakeBadges) Increment(_ context.Context, _ uint64, key string, amount int64) (badges.Unlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return badges.Unlock{}, f.err
	}

	if f.counters == nil {
		f.counters = map[string]int64{}
	}

	f.counters[key] += amount
	f.calls = append(f.calls, key)

	return badges.Unlock{Key: key, Value: f.counters[key]}, nil
}

func newTestRouter(t *testing.T) (*Router, *fakeBadges) {
	t.Helper()

	fake := &fakeBadges{}

	r, err := NewRouter(fake, badges.DefaultCatalog(), WithLogger(logging.Discard()))
	require.NoError(t, err)

	return r, fake
}

type keys map[string]bool

func (k keys) HasKey(key string) bool { return k[key] }

func TestNewRouter_RejectsUnknownKeys(t *testing.T) {
	_, err := NewRouter(&fakeBadges{}, keys{"classes_total": true})
	require.Error(t, err)
}

func TestEmit_UnknownAndUnresolved(t *testing.T) {
	r, fake := newTestRouter(t)

	_, err := r.Emit(t.Context(), 1, "dance_party", nil)
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = r.Emit(t.Context(), 1, ClassCategoryCompleted, Payload{"classType": "yodel"})
	require.ErrorIs(t, err, ErrUnresolved)

	assert.Empty(t, fake.calls)
}

func TestEmit_DynamicCategory(t *testing.T) {
	r, fake := newTestRouter(t)

	u, err := r.Emit(t.Context(), 1, ClassCategoryCompleted, Payload{"classType": "Guitar"})
	require.NoError(t, err)
	assert.Equal(t, "classes_guitar", u.Key)
	assert.Equal(t, []string{"classes_guitar"}, fake.calls)
}

func TestCompleteClass_FanOut(t *testing.T) {
	r, fake := newTestRouter(t)

	evening := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	morning := time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC)

	_, err := r.CompleteClass(t.Context(), 1, "vocal", evening)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"classes_total", "classes_vocal", "class_types_explored", "categories_completed"},
		fake.calls)

	fake.calls = nil

	_, err = r.CompleteClass(t.Context(), 1, "vocal", morning)
	require.NoError(t, err)
	assert.Equal(t, []string{"classes_total", "classes_vocal", "morning_classes"}, fake.calls,
		"second vocal class explores nothing new")

	fake.calls = nil

	_, err = r.CompleteClass(t.Context(), 1, "yodel", evening)
	require.NoError(t, err)
	assert.Equal(t, []string{"classes_total"}, fake.calls)

	_, err = r.CompleteClass(t.Context(), 1, " ", evening)
	require.Error(t, err)
}

func TestCompleteClass_MorningUsesLocation(t *testing.T) {
	fake := &fakeBadges{}
	loc := time.FixedZone("UTC+10", 10*60*60)

	r, err := NewRouter(fake, badges.DefaultCatalog(), WithLocation(loc), WithLogger(logging.Discard()))
	require.NoError(t, err)

	// 20:00 UTC is 06:00 the next day at UTC+10
	_, err = r.CompleteClass(t.Context(), 1, "dance", time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, fake.calls, "morning_classes")
}

func TestSubmitReflection(t *testing.T) {
	r, fake := newTestRouter(t)

	_, err := r.SubmitReflection(t.Context(), 1, false)
	require.NoError(t, err)
	_, err = r.SubmitReflection(t.Context(), 1, true)
	require.NoError(t, err)

	assert.Equal(t, int64(2), fake.counters["reflections_submitted"])
	assert.Equal(t, int64(1), fake.counters["healing_exercises"])
}

func TestRecordUpload(t *testing.T) {
	r, fake := newTestRouter(t)

	for _, typ := range []string{"performance", "vocal_recording", "creative_submission", "composition", "selfie"} {
		_, err := r.RecordUpload(t.Context(), 1, typ)
		require.NoError(t, err, typ)
	}

	assert.Equal(t,
		[]string{"performance_uploads", "vocal_recordings", "creative_submissions", "compositions_submitted"},
		fake.calls)
}

func TestSingleKeyActions(t *testing.T) {
	r, fake := newTestRouter(t)
	ctx := t.Context()

	steps := []func() (Outcome, error){
		func() (Outcome, error) { return r.SubmitJournal(ctx, 1) },
		func() (Outcome, error) { return r.CompleteCoachingSession(ctx, 1) },
		func() (Outcome, error) { return r.CompleteHealingExercise(ctx, 1) },
		func() (Outcome, error) { return r.RecordWeeklyStreak(ctx, 1) },
		func() (Outcome, error) { return r.ReferralPaid(ctx, 1) },
		func() (Outcome, error) { return r.ReferralShared(ctx, 1) },
	}
	for _, step := range steps {
		_, err := step()
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"healing_journals", "coaching_sessions", "healing_exercises",
		"weekly_streak", "referrals_paid", "shares",
	}, fake.calls)
}

func TestDispatch(t *testing.T) {
	r, fake := newTestRouter(t)

	_, err := r.Dispatch(t.Context(), 1, ClassCompleted, Payload{
		"classType":   "theory",
		"completedAt": "2026-03-02T08:00:00Z",
	})
	require.NoError(t, err)
	assert.Contains(t, fake.calls, "theory_lessons")
	assert.Contains(t, fake.calls, "morning_classes")

	_, err = r.Dispatch(t.Context(), 1, ClassCompleted, Payload{"classType": "theory", "completedAt": "yesterday"})
	require.Error(t, err)

	_, err = r.Dispatch(t.Context(), 1, "upload", Payload{"type": "performance"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.counters["performance_uploads"])

	_, err = r.Dispatch(t.Context(), 1, RhythmExerciseCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.counters["rhythm_exercises"])
}

func TestEmit_PropagatesEngineError(t *testing.T) {
	r, fake := newTestRouter(t)
	fake.err = errors.New("db down")

	_, err := r.CompleteClass(t.Context(), 1, "vocal", time.Now())
	require.ErrorIs(t, err, fake.err)
}

func TestOutcome_Flatten(t *testing.T) {
	o := Outcome{Unlocks: []badges.Unlock{
		{Badges: []string{"Rockstar Rookie"}},
		{Badges: []string{"Healing Master"}, Codes: []string{"HEALME1"}},
	}}

	assert.Equal(t, []string{"Rockstar Rookie", "Healing Master"}, o.NewBadges())
	assert.Equal(t, []string{"HEALME1"}, o.NewCodes())
}

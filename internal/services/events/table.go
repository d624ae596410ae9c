package events

import (
	"fmt"
	"strings"
)

// Event names accepted by Emit.
const (
	ClassCompleted           = "class_completed"
	ClassCategoryCompleted   = "class_category_completed"
	MorningClassCompleted    = "morning_class_completed"
	CategoryExplored         = "category_explored"
	CategoryCompleted        = "category_completed"
	ReflectionSubmitted      = "reflection_submitted"
	JournalSubmitted         = "journal_submitted"
	HealingExerciseCompleted = "healing_exercise_completed"
	CoachingSessionCompleted = "coaching_session_completed"
	PerformanceUploaded      = "performance_uploaded"
	CompositionSubmitted     = "composition_submitted"
	CreativeSubmission       = "creative_submission"
	VocalRecordingUploaded   = "vocal_recording_uploaded"
	RhythmExerciseCompleted  = "rhythm_exercise_completed"
	WeeklyStreakIncremented  = "weekly_streak_incremented"
	ReferralPaidEvent        = "referral_paid"
	ReferralSharedEvent      = "referral_shared"
)

// Payload is the free-form body an event arrives with.
type Payload map[string]any

func (p Payload) Text(key string) string {
	v, _ := p[key].(string)
	return strings.TrimSpace(v)
}

func (p Payload) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// mapping is either a fixed progress key or a resolver that picks one of
// keys from the payload.
type mapping struct {
	key     string
	resolve func(Payload) (string, bool)
	keys    []string
}

func fixed(key string) mapping { return mapping{key: key} }

func dynamic(keys []string, resolve func(Payload) (string, bool)) mapping {
	return mapping{resolve: resolve, keys: keys}
}

func (m mapping) target(p Payload) (string, bool) {
	if m.resolve == nil {
		return m.key, true
	}

	return m.resolve(p)
}

func (m mapping) possibleKeys() []string {
	if m.resolve == nil {
		return []string{m.key}
	}

	return m.keys
}

// categoryKeys maps a class type to its per-category progress key.
var categoryKeys = map[string]string{
	"vocal":   "classes_vocal",
	"dance":   "classes_dance",
	"guitar":  "classes_guitar",
	"theory":  "theory_lessons",
	"healing": "healing_classes_completed",
}

// uploadEvents maps an upload type to the event it emits.
var uploadEvents = map[string]string{
	"performance":         PerformanceUploaded,
	"vocal_recording":     VocalRecordingUploaded,
	"creative_submission": CreativeSubmission,
	"composition":         CompositionSubmitted,
}

func resolveCategory(p Payload) (string, bool) {
	key, ok := categoryKeys[strings.ToLower(p.Text("classType"))]
	return key, ok
}

func defaultTable() map[string]mapping {
	cats := make([]string, 0, len(categoryKeys))
	for _, k := range categoryKeys {
		cats = append(cats, k)
	}

	return map[string]mapping{
		ClassCompleted:           fixed("classes_total"),
		ClassCategoryCompleted:   dynamic(cats, resolveCategory),
		MorningClassCompleted:    fixed("morning_classes"),
		CategoryExplored:         fixed("class_types_explored"),
		CategoryCompleted:        fixed("categories_completed"),
		ReflectionSubmitted:      fixed("reflections_submitted"),
		JournalSubmitted:         fixed("healing_journals"),
		HealingExerciseCompleted: fixed("healing_exercises"),
		CoachingSessionCompleted: fixed("coaching_sessions"),
		PerformanceUploaded:      fixed("performance_uploads"),
		CompositionSubmitted:     fixed("compositions_submitted"),
		CreativeSubmission:       fixed("creative_submissions"),
		VocalRecordingUploaded:   fixed("vocal_recordings"),
		RhythmExerciseCompleted:  fixed("rhythm_exercises"),
		WeeklyStreakIncremented:  fixed("weekly_streak"),
		ReferralPaidEvent:        fixed("referrals_paid"),
		ReferralSharedEvent:      fixed("shares"),
	}
}

// KeySet is the part of the badge catalog the router validates against.
type KeySet interface {
	HasKey(progressKey string) bool
}

func validateTable(table map[string]mapping, keys KeySet) error {
	for name, m := range table {
		possible := m.possibleKeys()
		if len(possible) == 0 {
			return fmt.Errorf("event %q maps to no progress key", name)
		}

		for _, k := range possible {
			if !keys.HasKey(k) {
				return fmt.Errorf("event %q maps to unknown progress key %q", name, k)
			}
		}
	}

	return nil
}

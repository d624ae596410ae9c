package notify

import (
	"context"
	"sync"
)

// Recorder keeps every intent in memory.
type Recorder struct {
	mu            sync.Mutex
	low           []LowCredits
	badges        []BadgesEarned
	subscriptions []SubscriptionStatusChanged
	Err           error
}

var _ Notifier = (*Recorder)(nil)

func (r *Recorder) LowCredits(_ context.Context, n LowCredits) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.low = append(r.low, n)
	return r.Err
}

func (r *Recorder) BadgesEarned(_ context.Context, n BadgesEarned) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.badges = append(r.badges, n)
	return r.Err
}

func (r *Recorder) SubscriptionStatusChanged(_ context.Context, n SubscriptionStatusChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions = append(r.subscriptions, n)
	return r.Err
}

func (r *Recorder) LowCreditsSent() []LowCredits {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LowCredits(nil), r.low...)
}

func (r *Recorder) BadgesSent() []BadgesEarned {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BadgesEarned(nil), r.badges...)
}

func (r *Recorder) SubscriptionChangesSent() []SubscriptionStatusChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SubscriptionStatusChanged(nil), r.subscriptions...)
}

package config

import (
	"sync"
	"sync/atomic"
)

// Store holds the atomic pointer to the currently-published Snapshot, plus
// a set of change subscribers broadcast to on every successful Replace —
// the mechanism spec.md §4.10 uses to re-arm the Task Manager's cron jobs
// when schedule-affecting settings change.
//
// The read path (Current) is lock-free, matching the "no locks on the
// read path" design note in spec.md §9; only Replace and Subscribe take
// the subscriber-list mutex, and only briefly.
type Store struct {
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	subscribers []chan<- Snapshot
}

// NewStore publishes an initial snapshot and returns the Store. initial
// must already have passed Validate; NewStore does not re-validate, the
// same way AVMC's config.LoadEffective validates once at the merge site
// rather than at every read.
func NewStore(initial Snapshot) *Store {
	s := &Store{}
	s.current.Store(&initial)
	return s
}

// Current returns the presently-published snapshot. Cycle code calls this
// exactly once at cycle start and uses the returned value for the whole
// cycle (spec.md §4.10: "readers take a snapshot for the duration of one
// cycle").
func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

// Replace atomically swaps in a new snapshot and notifies every
// subscriber. Returns the validation error and leaves the prior snapshot
// in place if next fails Validate.
func (s *Store) Replace(next Snapshot) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.current.Store(&next)

	s.mu.Lock()
	subs := append([]chan<- Snapshot(nil), s.subscribers...)
	s.mu.Unlock()

	for _, ch := range subs {
		// Non-blocking send: a subscriber that isn't ready to receive
		// (e.g. mid re-arm) simply misses this notification and picks up
		// the latest snapshot on its next read via Current, so a full
		// channel must never stall Replace.
		select {
		case ch <- next:
		default:
		}
	}
	return nil
}

// Subscribe registers a channel to receive every future Replace. The
// caller owns the channel and must drain it; Subscribe never blocks.
func (s *Store) Subscribe(ch chan<- Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, ch)
}

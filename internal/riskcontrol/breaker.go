// Package riskcontrol implements the circuit breaker of spec.md §4.8: a
// process-wide atomic flag plus a cycle-local sentinel that halts
// in-flight work the moment bilibili's anti-abuse signal (-352) is seen.
//
// The shape — one package-level atomic plus explicit per-call state
// passed in, no locks on the read path — follows the "global state" design
// note in spec.md §9 and mirrors AVMC's own posture toward its UA pool
// (internal/infra/httpx's globalUA is a package-level, lock-protected
// singleton read by every request).
package riskcontrol

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bilisync/bilisync/internal/bilierr"
)

// processTripped is set the instant ANY cycle, anywhere in the process,
// observes the anti-abuse sentinel. It never resets itself; only
// ResetProcessFlag clears it.
var processTripped atomic.Bool

// Breaker is the cycle-local view of the breaker: a cancellation signal
// scoped to one subscription's cycle, plus the trip time and cooldown
// that CooldownUntil reports (spec.md §4.8 step 5). The scheduler keeps
// its own per-subscription cooldown from the cycle report and config.
type Breaker struct {
	mu      sync.Mutex
	tripped bool
	cancel  context.CancelFunc
	ctx     context.Context

	cooldown     time.Duration
	trippedAt    time.Time
}

// New creates a cycle-local breaker bound to parent; cancelling parent
// (process shutdown, user stop) also cancels the breaker's context.
func New(parent context.Context, cooldown time.Duration) *Breaker {
	ctx, cancel := context.WithCancel(parent)
	return &Breaker{ctx: ctx, cancel: cancel, cooldown: cooldown}
}

// Context returns the cancellation-observing context tasks should select
// on; it is cancelled the moment Trip is called.
func (b *Breaker) Context() context.Context {
	return b.ctx
}

// Trip is called by the first task that observes the upstream anti-abuse
// sentinel. It is idempotent: only the first caller's reason is recorded.
// Per spec.md §4.8 steps 1-3: the originating task still fails with
// RiskControl (the caller does that by returning the error it received);
// Trip's job is to mark the cycle so every task started afterward
// short-circuits with Cancelled before touching the network.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		return
	}
	b.tripped = true
	b.trippedAt = time.Now()
	processTripped.Store(true)
	b.cancel()
}

// Tripped reports whether this cycle's breaker has fired.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Guard is called at the start of every task before it touches the
// network (spec.md §4.8 step 2): if the breaker already tripped, the task
// must short-circuit with Cancelled rather than attempt anything.
func (b *Breaker) Guard() error {
	if b.Tripped() {
		return &bilierr.Cancelled{Reason: "risk control circuit breaker tripped"}
	}
	select {
	case <-b.ctx.Done():
		return &bilierr.Cancelled{Reason: "cycle cancelled"}
	default:
		return nil
	}
}

// CooldownUntil returns the earliest time the Task Manager may schedule
// the next cycle for this subscription, or the zero Time if the breaker
// never tripped.
func (b *Breaker) CooldownUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		return time.Time{}
	}
	return b.trippedAt.Add(b.cooldown)
}

// ProcessTripped reports the process-wide sticky flag: whether ANY
// subscription has hit risk control since the flag was last reset,
// independent of which cycle's Breaker the caller holds. Nothing in this
// module calls it.
func ProcessTripped() bool {
	return processTripped.Load()
}

// ResetProcessFlag clears the process-wide flag. Nothing in this module
// calls it, so once tripped the flag stays set for the rest of the
// process (the scheduler tracks per-subscription cooldowns
// independently, see internal/scheduler).
func ResetProcessFlag() {
	processTripped.Store(false)
}

package riskcontrol

import (
	"context"
	"testing"
	"time"

	"github.com/bilisync/bilisync/internal/bilierr"
)

func TestBreakerTripCancelsContextAndGuards(t *testing.T) {
	b := New(context.Background(), time.Minute)

	if err := b.Guard(); err != nil {
		t.Fatalf("fresh breaker must not guard: %v", err)
	}

	b.Trip()

	if !b.Tripped() {
		t.Fatalf("expected Tripped() true after Trip")
	}
	if err := b.Context().Err(); err == nil {
		t.Fatalf("expected breaker context to be cancelled after Trip")
	}

	err := b.Guard()
	if err == nil {
		t.Fatalf("expected Guard to short-circuit after Trip")
	}
	if _, ok := err.(*bilierr.Cancelled); !ok {
		t.Fatalf("expected *bilierr.Cancelled, got %T", err)
	}
}

func TestBreakerTripIsIdempotent(t *testing.T) {
	b := New(context.Background(), time.Minute)
	b.Trip()
	first := b.CooldownUntil()
	time.Sleep(time.Millisecond)
	b.Trip()
	second := b.CooldownUntil()
	if !first.Equal(second) {
		t.Fatalf("second Trip must not move the cooldown window")
	}
}

func TestCooldownUntilZeroWhenNotTripped(t *testing.T) {
	b := New(context.Background(), time.Minute)
	if !b.CooldownUntil().IsZero() {
		t.Fatalf("expected zero cooldown before any trip")
	}
}

func TestParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	b := New(parent, time.Minute)
	cancel()
	if err := b.Guard(); err == nil {
		t.Fatalf("expected Guard to observe parent cancellation")
	}
}

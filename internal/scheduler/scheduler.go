// Package scheduler implements the Task Manager of spec.md §4.9: one
// cron entry per enabled subscription, a per-subscription run mutex so
// an overrunning cycle never overlaps its own next trigger, manual
// one-shot triggers for a user-initiated "run now", and re-arming when
// either the subscription list or the published config changes.
//
// Grounded on AVMC's cmd/avmc, which drives one flat run loop from a
// single interval read at startup; this module generalizes that to N
// independently scheduled subscriptions via robfig/cron/v3, the
// scheduling library the rest of this system's dependency stack already
// commits to.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/bilisync/bilisync/internal/config"
	"github.com/bilisync/bilisync/internal/cycle"
	"github.com/bilisync/bilisync/internal/domain"
	"github.com/bilisync/bilisync/internal/observer"
	"github.com/bilisync/bilisync/internal/repository"
)

// defaultScheduleExpr is used for any subscription whose ScheduleExpr is
// empty (spec.md §4.9's "process default interval").
const defaultScheduleExpr = "@every 30m"

// DepsFactory builds a fresh cycle.Deps for one subscription's run,
// reading whatever the config Store currently publishes. Building it per
// run (rather than once at startup) is what lets a config change take
// effect on the very next fire without restarting the scheduler.
type DepsFactory func(sub domain.Subscription) cycle.Deps

// Scheduler is the Task Manager: it owns the cron runtime and the
// per-subscription overlap guard.
type Scheduler struct {
	repo     *repository.Repository
	newDeps  DepsFactory
	cfgStore *config.Store
	onReport func(observer.CycleReport)

	cronEngine *cron.Cron

	mu       sync.Mutex
	entries  map[int64]cron.EntryID
	running  map[int64]bool
	cooldown map[int64]time.Time
	ctx      context.Context

	cfgChanges chan config.Snapshot
}

// New constructs a Scheduler. onReport, if non-nil, is called with every
// completed cycle's report — the hook cmd/bilisync uses to persist or
// print run history.
func New(repo *repository.Repository, cfgStore *config.Store, newDeps DepsFactory, onReport func(observer.CycleReport)) *Scheduler {
	return &Scheduler{
		repo:       repo,
		newDeps:    newDeps,
		cfgStore:   cfgStore,
		onReport:   onReport,
		cronEngine: cron.New(),
		entries:    map[int64]cron.EntryID{},
		running:    map[int64]bool{},
		cooldown:   map[int64]time.Time{},
		ctx:        context.Background(),
		cfgChanges: make(chan config.Snapshot, 1),
	}
}

// Start loads every enabled subscription, schedules a cron entry for
// each, subscribes to config changes for re-arming, and starts the cron
// runtime. ctx is retained and handed to every cycle fire starts from
// here on; cancelling it (process shutdown per spec.md §4.9) stops the
// scheduler and cooperatively cancels every in-flight cycle too, since
// cycle.Run binds its Breaker to the same context.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Reload(); err != nil {
		return err
	}
	s.cfgStore.Subscribe(s.cfgChanges)
	go s.watchConfig(ctx)
	s.cronEngine.Start()
	go func() {
		<-ctx.Done()
		<-s.cronEngine.Stop().Done()
	}()
	return nil
}

// cycleContext returns the context in-flight cycles should run under:
// whatever Start was given, or context.Background() if the scheduler is
// only ever driven through TriggerNow (as cmd/bilisync's one-shot
// "trigger" subcommand does, without ever calling Start).
func (s *Scheduler) cycleContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// watchConfig re-arms every schedule whenever the config Store publishes
// a new snapshot, per spec.md §4.10's "schedule-affecting settings
// changed" trigger. The subscription list itself isn't config-owned, so
// this only needs to recompute schedule expressions, not add/remove
// subscriptions — a full Reload does both and is cheap enough to just
// always run.
func (s *Scheduler) watchConfig(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.cfgChanges:
			if err := s.Reload(); err != nil {
				log.Printf("scheduler: reload after config change: %v", err)
			}
		}
	}
}

// Reload reads the current subscription list and makes the cron
// runtime's entries match it exactly: new subscriptions get scheduled,
// removed or disabled ones get unscheduled, and ones whose ScheduleExpr
// changed get re-armed with the new expression.
func (s *Scheduler) Reload() error {
	subs, err := s.repo.ListSubscriptions()
	if err != nil {
		return fmt.Errorf("scheduler: reload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool, len(subs))
	for _, sub := range subs {
		seen[sub.ID] = true
		if id, ok := s.entries[sub.ID]; ok {
			s.cronEngine.Remove(id)
			delete(s.entries, sub.ID)
		}
		expr := sub.ScheduleExpr
		if expr == "" {
			expr = defaultScheduleExpr
		}
		sub := sub
		id, err := s.cronEngine.AddFunc(expr, func() { s.fire(sub.ID) })
		if err != nil {
			return fmt.Errorf("scheduler: subscription %d: bad schedule %q: %w", sub.ID, expr, err)
		}
		s.entries[sub.ID] = id
	}
	for id := range s.entries {
		if !seen[id] {
			s.cronEngine.Remove(s.entries[id])
			delete(s.entries, id)
		}
	}
	return nil
}

// TriggerNow runs subscriptionID's cycle immediately, outside its cron
// schedule, subject to the same overlap guard as a normal fire (spec.md
// §4.9's manual "run now" affordance). Returns immediately; the cycle
// itself runs on its own goroutine.
func (s *Scheduler) TriggerNow(subscriptionID int64) {
	go s.fire(subscriptionID)
}

// fire is what both the cron trigger and TriggerNow call: skip if this
// subscription's previous cycle hasn't finished yet, otherwise look up
// the subscription fresh among the enabled ones (so a since-disabled
// subscription is not found and is skipped with a log line) and run one
// cycle for it.
func (s *Scheduler) fire(subscriptionID int64) {
	s.mu.Lock()
	if s.running[subscriptionID] {
		s.mu.Unlock()
		return
	}
	s.running[subscriptionID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, subscriptionID)
		s.mu.Unlock()
	}()

	sub, err := s.findSubscription(subscriptionID)
	if err != nil {
		log.Printf("scheduler: subscription %d vanished before its cycle could run: %v", subscriptionID, err)
		return
	}
	if !sub.Enabled {
		return
	}

	s.mu.Lock()
	until, onCooldown := s.cooldown[subscriptionID]
	s.mu.Unlock()
	if onCooldown && time.Now().Before(until) {
		log.Printf("scheduler: subscription %d (%s) still cooling down after risk control until %s, skipping", subscriptionID, sub.Title, until.Format(time.RFC3339))
		return
	}

	runID := uuid.NewString()
	deps := s.newDeps(sub)
	report, err := cycle.Run(s.cycleContext(), deps, sub)
	if err != nil {
		log.Printf("scheduler: cycle %s for subscription %d failed to run: %v", runID, subscriptionID, err)
		return
	}
	log.Printf("scheduler: cycle %s for subscription %d (%s) finished: %d discovered, %d videos", runID, subscriptionID, sub.Title, report.Discovered, len(report.Videos))

	s.mu.Lock()
	if report.RiskControlTripped {
		s.cooldown[subscriptionID] = time.Now().Add(time.Duration(deps.Cfg.RiskControlCooldownSeconds) * time.Second)
	} else {
		delete(s.cooldown, subscriptionID)
	}
	s.mu.Unlock()

	if s.onReport != nil {
		s.onReport(report)
	}
}

func (s *Scheduler) findSubscription(id int64) (domain.Subscription, error) {
	subs, err := s.repo.ListSubscriptions()
	if err != nil {
		return domain.Subscription{}, err
	}
	for _, sub := range subs {
		if sub.ID == id {
			return sub, nil
		}
	}
	return domain.Subscription{}, fmt.Errorf("subscription %d not found or disabled", id)
}

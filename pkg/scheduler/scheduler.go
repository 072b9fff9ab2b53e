// Package scheduler fires schedule triggers. A single poller walks every
// schedule trigger in the index on each tick, whatever its cron expression,
// and fires the ones that are due.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

const DefaultTick = 15 * time.Second

// Firer starts a run for a trigger.
type Firer interface {
	Fire(ctx context.Context, triggerID string, payload any) (string, error)
}

// Sweeper is run on every tick, typically the claim reaper.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Config struct {
	Triggers persistence.TriggerRepository
	Firer    Firer
	Reaper   Sweeper
	Logger   *slog.Logger
	Tick     time.Duration
	Now      func() time.Time
}

type entryState struct {
	matchKey string
	next     time.Time
}

type Scheduler struct {
	triggers persistence.TriggerRepository
	firer    Firer
	reaper   Sweeper
	logger   *slog.Logger
	tick     time.Duration
	now      func() time.Time

	mu   sync.Mutex
	next map[string]entryState
}

func New(cfg Config) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Scheduler{
		triggers: cfg.Triggers,
		firer:    cfg.Firer,
		reaper:   cfg.Reaper,
		logger:   cfg.Logger.With("module", "scheduler"),
		tick:     cfg.Tick,
		now:      cfg.Now,
		next:     make(map[string]entryState),
	}
}

// Start ticks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started", "tick", s.tick)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")

			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due schedule trigger and runs the reaper. It returns the
// number of runs started.
func (s *Scheduler) Tick(ctx context.Context) int {
	if s.reaper != nil {
		if _, err := s.reaper.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "claim sweep failed", "error", err)
		}
	}

	entries, err := s.triggers.ByKind(ctx, models.TriggerSchedule)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list schedule triggers", "error", err)

		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	seen := make(map[string]bool, len(entries))
	fired := 0

	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}

		seen[entry.ID] = true

		st, known := s.next[entry.ID]
		if !known || st.matchKey != entry.MatchKey {
			s.schedule(ctx, entry, now)

			continue
		}

		if st.next.After(now) {
			continue
		}

		if s.due(ctx, entry, st.next, now) {
			fired++
		}

		s.schedule(ctx, entry, now)
	}

	for id := range s.next {
		if !seen[id] {
			delete(s.next, id)
		}
	}

	return fired
}

// due fires entry for the fire time at, unless the tick came so late that
// the fire time was missed and the trigger asks to skip missed runs.
func (s *Scheduler) due(ctx context.Context, entry *models.TriggerEntry, at, now time.Time) bool {
	logger := s.logger.With("trigger_id", entry.ID, "workflow_id", entry.DefinitionID, "cron", entry.Config.Cron, "due_at", at)

	if now.Sub(at) > s.tick && entry.Config.Missed != models.MissedRunImmediately {
		logger.WarnContext(ctx, "skipping missed schedule", "late_by", now.Sub(at))

		return false
	}

	payload := map[string]any{
		"cron_expression": entry.Config.Cron,
		"timezone":        entry.Config.Timezone,
		"due_at":          at.Format(time.RFC3339),
		"published_at":    now.Format(time.RFC3339Nano),
	}

	runID, err := s.firer.Fire(ctx, entry.ID, payload)
	if err != nil {
		logger.ErrorContext(ctx, "failed to fire schedule", "error", err)

		return false
	}

	logger.InfoContext(ctx, "schedule fired", "run_id", runID)

	return true
}

// schedule computes the next fire time strictly after now.
func (s *Scheduler) schedule(ctx context.Context, entry *models.TriggerEntry, now time.Time) {
	next, err := models.NextFireTime(entry.Config.Cron, entry.Config.Timezone, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "dropping schedule with invalid cron", "trigger_id", entry.ID, "error", err)
		delete(s.next, entry.ID)

		return
	}

	s.next[entry.ID] = entryState{matchKey: entry.MatchKey, next: next}
}

// NextFire reports the next fire time known for triggerID.
func (s *Scheduler) NextFire(triggerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.next[triggerID]

	return st.next, ok
}

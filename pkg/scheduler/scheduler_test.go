package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/log"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence/file"
	"github.com/dukex/aide/pkg/scheduler"
	"github.com/dukex/aide/pkg/testutil"
	"github.com/dukex/aide/pkg/triggers"
)

type fired struct {
	triggerID string
	payload   map[string]any
}

type recordingFirer struct {
	mu    sync.Mutex
	calls []fired
	err   error
}

func (f *recordingFirer) Fire(_ context.Context, triggerID string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}

	p, _ := payload.(map[string]any)
	f.calls = append(f.calls, fired{triggerID: triggerID, payload: p})

	return "run-" + triggerID, nil
}

func (f *recordingFirer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSweeper) Sweep(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	return 0, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type env struct {
	repo       *file.TriggerRepository
	reconciler *triggers.Reconciler
	firer      *recordingFirer
	clock      *clock
	sched      *scheduler.Scheduler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		repo:  file.NewTriggerRepository(t.TempDir()),
		firer: &recordingFirer{},
		clock: &clock{now: time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC)},
	}
	e.reconciler = triggers.NewReconciler(e.repo, log.Discard())
	e.sched = scheduler.New(scheduler.Config{
		Triggers: e.repo,
		Firer:    e.firer,
		Logger:   log.Discard(),
		Tick:     time.Minute,
		Now:      e.clock.Now,
	})

	return e
}

func scheduledDefinition(config map[string]any) *models.Definition {
	def := testutil.CreateTestDefinition(
		[]models.Node{
			testutil.CreateTestNode("cron", testutil.WithTriggerNode(models.TriggerSchedule), testutil.WithConfig(config)),
			testutil.CreateTestNode("B"),
		},
		testutil.Link("cron", "B"),
	)
	def.ID = "wf-sched"

	return def
}

func (e *env) save(t *testing.T, def *models.Definition) {
	t.Helper()

	_, err := e.reconciler.Reconcile(context.Background(), def)
	require.NoError(t, err)
}

func TestTick_FiresDueScheduleOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.save(t, scheduledDefinition(nil))

	id := triggers.EntryID("wf-sched", "cron")

	assert.Equal(t, 0, e.sched.Tick(ctx))

	next, ok := e.sched.NextFire(id)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC), next)

	e.clock.Set(time.Date(2026, 3, 2, 10, 5, 10, 0, time.UTC))
	assert.Equal(t, 1, e.sched.Tick(ctx))

	e.clock.Set(time.Date(2026, 3, 2, 10, 5, 20, 0, time.UTC))
	assert.Equal(t, 0, e.sched.Tick(ctx))

	require.Equal(t, 1, e.firer.count())
	call := e.firer.calls[0]
	assert.Equal(t, id, call.triggerID)
	assert.Equal(t, "*/5 * * * *", call.payload["cron_expression"])
	assert.Equal(t, "2026-03-02T10:05:00Z", call.payload["due_at"])

	next, _ = e.sched.NextFire(id)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC), next)
}

func TestTick_RemovedTriggerStopsFiring(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	def := scheduledDefinition(nil)
	e.save(t, def)

	e.sched.Tick(ctx)

	// The next version drops the schedule node.
	def.Nodes = def.Nodes[1:]
	def.Edges = nil
	e.save(t, def)

	e.clock.Set(time.Date(2026, 3, 2, 10, 5, 10, 0, time.UTC))
	assert.Equal(t, 0, e.sched.Tick(ctx))
	assert.Zero(t, e.firer.count())

	_, ok := e.sched.NextFire(triggers.EntryID("wf-sched", "cron"))
	assert.False(t, ok)
}

func TestTick_DisabledTriggerDoesNotFire(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.save(t, scheduledDefinition(nil))

	e.sched.Tick(ctx)

	_, err := e.reconciler.SetEnabled(ctx, triggers.EntryID("wf-sched", "cron"), false)
	require.NoError(t, err)

	e.clock.Set(time.Date(2026, 3, 2, 10, 5, 10, 0, time.UTC))
	assert.Equal(t, 0, e.sched.Tick(ctx))
}

func TestTick_ChangedCronIsRescheduled(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	def := scheduledDefinition(nil)
	e.save(t, def)

	e.sched.Tick(ctx)

	def.Nodes[0].Config["cron"] = "0 * * * *"
	e.save(t, def)

	e.clock.Set(time.Date(2026, 3, 2, 10, 5, 10, 0, time.UTC))
	assert.Equal(t, 0, e.sched.Tick(ctx))

	next, _ := e.sched.NextFire(triggers.EntryID("wf-sched", "cron"))
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), next)
}

func TestTick_MissedSchedules(t *testing.T) {
	tests := []struct {
		name   string
		missed models.MissedBehavior
		fires  int
	}{
		{name: "skip", missed: models.MissedSkip, fires: 0},
		{name: "run immediately", missed: models.MissedRunImmediately, fires: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t)
			e.save(t, scheduledDefinition(map[string]any{"missed": string(tt.missed)}))

			e.sched.Tick(ctx)

			// Nothing ticked for almost an hour.
			e.clock.Set(time.Date(2026, 3, 2, 10, 58, 30, 0, time.UTC))
			assert.Equal(t, tt.fires, e.sched.Tick(ctx))
			assert.Equal(t, tt.fires, e.firer.count())

			next, _ := e.sched.NextFire(triggers.EntryID("wf-sched", "cron"))
			assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), next)
		})
	}
}

func TestTick_FireErrorIsNotFatal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.firer.err = errors.New("queue down")
	e.save(t, scheduledDefinition(nil))

	e.sched.Tick(ctx)

	e.clock.Set(time.Date(2026, 3, 2, 10, 5, 10, 0, time.UTC))
	assert.Equal(t, 0, e.sched.Tick(ctx))

	next, ok := e.sched.NextFire(triggers.EntryID("wf-sched", "cron"))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC), next)
}

func TestStart_SweepsEveryTick(t *testing.T) {
	sweeper := &countingSweeper{}
	sched := scheduler.New(scheduler.Config{
		Triggers: file.NewTriggerRepository(t.TempDir()),
		Firer:    &recordingFirer{},
		Reaper:   sweeper,
		Logger:   log.Discard(),
		Tick:     10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- sched.Start(ctx) }()

	assert.Eventually(t, func() bool {
		sweeper.mu.Lock()
		defer sweeper.mu.Unlock()

		return sweeper.calls >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

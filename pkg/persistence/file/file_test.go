package file

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/testutil"
)

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence("file://" + t.TempDir() + "/data")

	require.NoError(t, p.HealthCheck(context.Background()))
	assert.NoError(t, p.Close(context.Background()))
}

func TestEventLog_AppendAssignsSequences(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(t.TempDir())

	out, err := log.Append(ctx, "run-1", 0,
		events.MustNew("run-1", events.RunQueued{DefinitionID: "wf", DefinitionVersion: 1}),
		events.MustNew("run-1", events.RunStarted{OrchestratorID: "o1"}),
	)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].Sequence)
	assert.Equal(t, int64(2), out[1].Sequence)

	_, err = log.Append(ctx, "run-1", 1, events.MustNew("run-1", events.NodeReady{NodeID: "B"}))
	require.ErrorIs(t, err, persistence.ErrSequenceConflict)

	out, err = log.Append(ctx, "run-1", persistence.AnySequence, events.MustNew("run-1", events.NodeStarted{NodeID: "B"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), out[0].Sequence)

	all, err := log.Load(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, events.KindNodeStarted, all[2].Kind)

	tail, err := log.Load(ctx, "run-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Sequence)

	none, err := log.Load(ctx, "run-1", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventLog_UnknownRun(t *testing.T) {
	_, err := NewEventLog(t.TempDir()).Load(context.Background(), "missing", 0)
	require.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestDefinitionRepository_Versions(t *testing.T) {
	ctx := context.Background()
	repo := NewDefinitionRepository(t.TempDir())

	def := testutil.LinearDefinition()

	v1, err := repo.Save(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	def.Name = "renamed"
	v2, err := repo.Save(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	latest, err := repo.Latest(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "renamed", latest.Name)

	first, err := repo.Version(ctx, def.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "test workflow", first.Name)
	assert.Len(t, first.Nodes, 3)

	_, err = repo.Latest(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].Version)
}

func TestTriggerRepository_Apply(t *testing.T) {
	ctx := context.Background()
	repo := NewTriggerRepository(t.TempDir())

	hook := &models.TriggerEntry{ID: "t1", DefinitionID: "wf", NodeID: "W", Kind: models.TriggerWebhook, MatchKey: "/hooks/a", Enabled: true}
	cron := &models.TriggerEntry{ID: "t2", DefinitionID: "wf", NodeID: "S", Kind: models.TriggerSchedule, MatchKey: "* * * * *|UTC", Enabled: true}

	require.NoError(t, repo.Apply(ctx, []*models.TriggerEntry{hook, cron}, nil))

	got, err := repo.ByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.SameAs(hook))

	matches, err := repo.ByMatchKey(ctx, models.TriggerWebhook, "/hooks/a")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	byDef, err := repo.ByDefinition(ctx, "wf")
	require.NoError(t, err)
	assert.Len(t, byDef, 2)

	require.NoError(t, repo.Apply(ctx, nil, []string{"t1"}))

	_, err = repo.ByID(ctx, "t1")
	require.ErrorIs(t, err, persistence.ErrTriggerNotFound)

	schedules, err := repo.ByKind(ctx, models.TriggerSchedule)
	require.NoError(t, err)
	assert.Len(t, schedules, 1)
}

func TestTriggerRepository_IndexFollowsTheFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewTriggerRepository(dir)

	hook := &models.TriggerEntry{ID: "t1", DefinitionID: "wf", NodeID: "W", Kind: models.TriggerWebhook, MatchKey: "/hooks/a", Enabled: true}
	require.NoError(t, repo.Apply(ctx, []*models.TriggerEntry{hook}, nil))

	t.Run("returned entries are copies", func(t *testing.T) {
		got, err := repo.ByMatchKey(ctx, models.TriggerWebhook, "/hooks/a")
		require.NoError(t, err)
		require.Len(t, got, 1)
		got[0].Enabled = false

		again, err := repo.ByID(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, again.Enabled)
	})

	t.Run("match key change moves the entry", func(t *testing.T) {
		moved := *hook
		moved.MatchKey = "/hooks/b"
		require.NoError(t, repo.Apply(ctx, []*models.TriggerEntry{&moved}, nil))

		old, err := repo.ByMatchKey(ctx, models.TriggerWebhook, "/hooks/a")
		require.NoError(t, err)
		assert.Empty(t, old)

		got, err := repo.ByMatchKey(ctx, models.TriggerWebhook, "/hooks/b")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "t1", got[0].ID)
	})

	t.Run("writes by another repository are seen", func(t *testing.T) {
		other := NewTriggerRepository(dir)
		cron := &models.TriggerEntry{ID: "t2", DefinitionID: "wf2", NodeID: "S", Kind: models.TriggerSchedule, MatchKey: "* * * * *|UTC", Enabled: true}

		require.NoError(t, other.Apply(ctx, []*models.TriggerEntry{cron}, nil))

		got, err := repo.ByKind(ctx, models.TriggerSchedule)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "t2", got[0].ID)

		all, err := repo.ByDefinition(ctx, "wf")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestMemoryRepository_Record(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(t.TempDir())

	mem, err := repo.Load(ctx, "wf")
	require.NoError(t, err)
	assert.Nil(t, mem)

	mem, err = repo.Record(ctx, "wf", 0, []byte(`{"count":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), mem.Version)

	_, err = repo.Record(ctx, "wf", 0, []byte(`{"count":2}`))
	require.ErrorIs(t, err, persistence.ErrMemoryVersionConflict)

	mem, err = repo.Record(ctx, "wf", 1, []byte(`{"count":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), mem.Version)

	loaded, err := repo.Load(ctx, "wf")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(loaded.Data))
}

func TestMemoryRepository_InterruptedWriteKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(t.TempDir())

	_, err := repo.Record(ctx, "wf", 0, []byte(`{"state":"old"}`))
	require.NoError(t, err)

	repo.beforeRename = func() error { return errors.New("power loss") }

	_, err = repo.Record(ctx, "wf", 1, []byte(`{"state":"new"}`))
	require.Error(t, err)

	repo.beforeRename = nil

	loaded, err := repo.Load(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.JSONEq(t, `{"state":"old"}`, string(loaded.Data))
}

func TestBlobStore(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "run-1/B", []byte(`"out"`)))

	data, err := store.Get(ctx, "run-1/B")
	require.NoError(t, err)
	assert.Equal(t, `"out"`, string(data))

	_, err = store.Get(ctx, "run-1/missing")
	require.ErrorIs(t, err, persistence.ErrBlobNotFound)

	require.NoError(t, store.Put(ctx, "../../escape", []byte(`1`)))
	data, err = store.Get(ctx, "escape")
	require.NoError(t, err, "dot segments stay inside the blob root")
	assert.Equal(t, "1", string(data))

	assert.Error(t, store.Put(ctx, "", []byte(`1`)))
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(t.TempDir())

	run := &models.Run{ID: "run-1", DefinitionID: "wf", Status: models.RunStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Save(ctx, run, []models.NodeExecution{{RunID: "run-1", NodeID: "B", Status: models.ExecutionRunning}}))

	got, err := repo.ByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)

	runs, err := repo.ByDefinition(ctx, "wf")
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = repo.ByID(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestClaimStore(t *testing.T) {
	ctx := context.Background()
	store := NewClaimStore()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, err := store.Acquire(ctx, "run-1", "a", time.Minute)
	require.NoError(t, err)

	_, err = store.Acquire(ctx, "run-1", "b", time.Minute)
	require.ErrorIs(t, err, persistence.ErrClaimHeld)

	_, err = store.Renew(ctx, "run-1", "b", time.Minute)
	require.ErrorIs(t, err, persistence.ErrClaimLost)

	expired, err := store.Expired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "a", expired[0].Owner)

	now = now.Add(2 * time.Minute)

	claim, err := store.Acquire(ctx, "run-1", "b", time.Minute)
	require.NoError(t, err, "an expired claim may be taken over")
	assert.Equal(t, "b", claim.Owner)

	require.NoError(t, store.Release(ctx, "run-1", "a"), "releasing someone else's claim is a no-op")

	_, err = store.Renew(ctx, "run-1", "b", time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, "run-1", "b"))

	expired, err = store.Expired(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

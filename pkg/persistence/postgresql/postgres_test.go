//go:build integration
// +build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/persistence/postgresql"
	"github.com/dukex/aide/pkg/testutil"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"run_claims", "runs", "blobs", "workflow_memory", "run_events", "run_sequences", "trigger_index", "definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("aide_test"),
			postgres.WithUsername("aide"),
			postgres.WithPassword("aide"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	var version int
	require.NoError(t, p.DB().QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 3, version)
}

func TestEventLog_ConcurrentAppendsStayContiguous(t *testing.T) {
	p, ctx := setupTestDB(t)
	log := p.Events()

	_, err := log.Append(ctx, "run-1", 0, events.MustNew("run-1", events.RunQueued{DefinitionID: "wf", DefinitionVersion: 1}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := log.Append(ctx, "run-1", persistence.AnySequence, events.MustNew("run-1", events.NodeStarted{NodeID: "B"}))
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	all, err := log.Load(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 11)

	for i, env := range all {
		assert.Equal(t, int64(i+1), env.Sequence)
	}

	_, err = log.Append(ctx, "run-1", 3, events.MustNew("run-1", events.RunStarted{}))
	require.ErrorIs(t, err, persistence.ErrSequenceConflict)

	payload, err := all[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, "wf", payload.(*events.RunQueued).DefinitionID)
}

func TestDefinitionRepository(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.Definitions()

	def := testutil.FanOutDefinition()

	v1, err := repo.Save(ctx, def)
	require.NoError(t, err)
	v2, err := repo.Save(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)

	latest, err := repo.Latest(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Len(t, latest.Edges, 5)

	_, err = repo.Version(ctx, def.ID, 9)
	require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTriggerRepository(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.Triggers()

	now := time.Now().UTC()
	entry := &models.TriggerEntry{
		ID: "t1", DefinitionID: "wf", NodeID: "W", Kind: models.TriggerWebhook, MatchKey: "/hooks/a", Enabled: true,
		Config:    models.TriggerConfig{Kind: models.TriggerWebhook, Path: "/hooks/a"},
		CreatedAt: now, UpdatedAt: now,
	}

	require.NoError(t, repo.Apply(ctx, []*models.TriggerEntry{entry}, nil))
	require.NoError(t, repo.Apply(ctx, []*models.TriggerEntry{entry}, nil))

	got, err := repo.ByMatchKey(ctx, models.TriggerWebhook, "/hooks/a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].SameAs(entry))

	require.NoError(t, repo.Apply(ctx, nil, []string{"t1"}))

	_, err = repo.ByID(ctx, "t1")
	require.ErrorIs(t, err, persistence.ErrTriggerNotFound)
}

func TestMemoryRepository(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.Memory()

	mem, err := repo.Load(ctx, "wf")
	require.NoError(t, err)
	assert.Nil(t, mem)

	_, err = repo.Record(ctx, "wf", 0, []byte(`{"n":1}`))
	require.NoError(t, err)

	_, err = repo.Record(ctx, "wf", 0, []byte(`{"n":2}`))
	require.ErrorIs(t, err, persistence.ErrMemoryVersionConflict)

	mem, err = repo.Record(ctx, "wf", 1, []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), mem.Version)

	loaded, err := repo.Load(ctx, "wf")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(loaded.Data))
}

func TestBlobsAndRuns(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.Blobs().Put(ctx, "run-1/B", []byte(`{"a":1}`)))
	require.NoError(t, p.Blobs().Put(ctx, "run-1/B", []byte(`{"a":1}`)))

	data, err := p.Blobs().Get(ctx, "run-1/B")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	trigger := "t1"
	run := &models.Run{ID: "run-1", DefinitionID: "wf", DefinitionVersion: 1, TriggerID: &trigger, Status: models.RunStatusRunning, LastSequence: 4, CreatedAt: time.Now().UTC()}
	require.NoError(t, p.Runs().Save(ctx, run, nil))

	stale := *run
	stale.Status = models.RunStatusQueued
	stale.LastSequence = 1
	require.NoError(t, p.Runs().Save(ctx, &stale, nil))

	got, err := p.Runs().ByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status, "older projections do not overwrite newer ones")
	require.NotNil(t, got.TriggerID)
	assert.Equal(t, "t1", *got.TriggerID)
}

func TestClaimStore(t *testing.T) {
	p, ctx := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	claims := postgresql.NewClaimStore(p.DB(), logger)

	_, err := claims.Acquire(ctx, "run-1", "a", time.Minute)
	require.NoError(t, err)

	_, err = claims.Acquire(ctx, "run-1", "b", time.Minute)
	require.ErrorIs(t, err, persistence.ErrClaimHeld)

	_, err = claims.Acquire(ctx, "run-1", "a", time.Minute)
	require.NoError(t, err, "re-acquiring an owned claim renews it")

	_, err = claims.Renew(ctx, "run-1", "b", time.Minute)
	require.ErrorIs(t, err, persistence.ErrClaimLost)

	_, err = claims.Acquire(ctx, "run-2", "a", -time.Second)
	require.NoError(t, err)

	expired, err := claims.Expired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "run-2", expired[0].RunID)

	_, err = claims.Acquire(ctx, "run-2", "b", time.Minute)
	require.NoError(t, err)

	require.NoError(t, claims.Release(ctx, "run-1", "a"))
	_, err = claims.Acquire(ctx, "run-1", "b", time.Minute)
	require.NoError(t, err)
}

package triggers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/log"
	"github.com/dukex/aide/pkg/mocks"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/persistence/file"
	"github.com/dukex/aide/pkg/testutil"
	"github.com/dukex/aide/pkg/triggers"
)

func scheduled() *models.Definition {
	def := testutil.CreateTestDefinition(
		[]models.Node{
			testutil.CreateTestNode("cron", testutil.WithTriggerNode(models.TriggerSchedule)),
			testutil.CreateTestNode("hook", testutil.WithTriggerNode(models.TriggerWebhook)),
			testutil.CreateTestNode("B"),
		},
		testutil.Link("cron", "B"),
	)
	def.ID = "wf-1"

	return def
}

func TestReconcile_MirrorsTriggerNodes(t *testing.T) {
	ctx := context.Background()
	repo := file.NewTriggerRepository(t.TempDir())
	r := triggers.NewReconciler(repo, log.Discard())

	def := scheduled()

	changes, err := r.Reconcile(ctx, def)
	require.NoError(t, err)
	require.Len(t, changes.Added, 2)
	assert.Empty(t, changes.Updated)
	assert.Empty(t, changes.Deleted)

	cronID := triggers.EntryID("wf-1", "cron")

	entry, err := repo.ByID(ctx, cronID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerSchedule, entry.Kind)
	assert.Equal(t, "*/5 * * * *|UTC", entry.MatchKey)
	assert.Equal(t, models.MissedSkip, entry.Config.Missed)
	assert.True(t, entry.Enabled)

	hooks, err := repo.ByMatchKey(ctx, models.TriggerWebhook, "/hooks/hook")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "hook", hooks[0].NodeID)

	// Change the schedule and drop the webhook.
	def.Nodes[0].Config["cron"] = "0 * * * *"
	def.Nodes = []models.Node{def.Nodes[0], def.Nodes[2]}

	changes, err = r.Reconcile(ctx, def)
	require.NoError(t, err)
	assert.Empty(t, changes.Added)
	require.Len(t, changes.Updated, 1)
	assert.Equal(t, cronID, changes.Updated[0].ID)
	assert.Equal(t, entry.CreatedAt, changes.Updated[0].CreatedAt)
	assert.Equal(t, []string{triggers.EntryID("wf-1", "hook")}, changes.Deleted)

	all, err := repo.ByDefinition(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "0 * * * *|UTC", all[0].MatchKey)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := file.NewTriggerRepository(t.TempDir())

	_, err := triggers.NewReconciler(repo, log.Discard()).Reconcile(ctx, scheduled())
	require.NoError(t, err)

	stored, err := repo.ByDefinition(ctx, "wf-1")
	require.NoError(t, err)

	spy := &mocks.MockTriggerRepository{}
	spy.On("ByDefinition", mock.Anything, "wf-1").Return(stored, nil)

	changes, err := triggers.NewReconciler(spy, log.Discard()).Reconcile(ctx, scheduled())
	require.NoError(t, err)
	assert.False(t, changes.HasChanges())

	spy.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_DisabledFlagComesFromConfig(t *testing.T) {
	ctx := context.Background()
	repo := file.NewTriggerRepository(t.TempDir())
	r := triggers.NewReconciler(repo, log.Discard())

	def := scheduled()
	def.Nodes[1].Config["disabled"] = true

	_, err := r.Reconcile(ctx, def)
	require.NoError(t, err)

	entry, err := repo.ByID(ctx, triggers.EntryID("wf-1", "hook"))
	require.NoError(t, err)
	assert.False(t, entry.Enabled)
}

func TestSetEnabled(t *testing.T) {
	ctx := context.Background()
	repo := file.NewTriggerRepository(t.TempDir())
	r := triggers.NewReconciler(repo, log.Discard())

	_, err := r.Reconcile(ctx, scheduled())
	require.NoError(t, err)

	id := triggers.EntryID("wf-1", "cron")

	entry, err := r.SetEnabled(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, entry.Enabled)

	stored, err := repo.ByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)

	_, err = r.SetEnabled(ctx, "missing", true)
	assert.ErrorIs(t, err, persistence.ErrTriggerNotFound)
}

func TestDeleteForDefinition(t *testing.T) {
	ctx := context.Background()
	repo := file.NewTriggerRepository(t.TempDir())
	r := triggers.NewReconciler(repo, log.Discard())

	_, err := r.Reconcile(ctx, scheduled())
	require.NoError(t, err)

	ids, err := r.DeleteForDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	left, err := repo.ByDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestEntryID_IsStable(t *testing.T) {
	assert.Equal(t, triggers.EntryID("wf", "n"), triggers.EntryID("wf", "n"))
	assert.NotEqual(t, triggers.EntryID("wf", "n"), triggers.EntryID("wf", "m"))
}

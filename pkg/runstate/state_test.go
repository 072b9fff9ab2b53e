package runstate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/runstate"
)

func sequenced(payloads ...events.Payload) []events.Envelope {
	out := make([]events.Envelope, len(payloads))
	for i, p := range payloads {
		out[i] = events.MustNew("run-1", p)
		out[i].Sequence = int64(i + 1)
	}

	return out
}

func queued() events.RunQueued {
	return events.RunQueued{DefinitionID: "wf", DefinitionVersion: 1, TriggerID: "t1", StartNodeID: "A", InputKey: "in"}
}

func TestFold_RequiresRunQueuedFirst(t *testing.T) {
	_, err := runstate.Fold(nil)
	require.ErrorIs(t, err, runstate.ErrNoEvents)

	_, err = runstate.Fold(sequenced(events.RunStarted{}))
	require.ErrorIs(t, err, runstate.ErrMissingRunQueued)

	_, err = runstate.Fold(sequenced(queued(), queued()))
	require.ErrorIs(t, err, runstate.ErrDuplicateRunQueued)
}

func TestFold_RejectsSequenceGaps(t *testing.T) {
	envs := sequenced(queued(), events.RunStarted{})
	envs[1].Sequence = 3

	_, err := runstate.Fold(envs)
	require.ErrorIs(t, err, runstate.ErrOutOfOrder)
}

func TestFold_QueuedCompletesStartTrigger(t *testing.T) {
	st, err := runstate.Fold(sequenced(queued()))
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusQueued, st.Status())

	exec := st.Execution("A", nil)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, "in", exec.OutputKey)
}

func TestFold_LinearRun(t *testing.T) {
	st, err := runstate.Fold(sequenced(
		queued(),
		events.RunStarted{OrchestratorID: "o1"},
		events.NodeReady{NodeID: "B"},
		events.NodeStarted{NodeID: "B", WorkerID: "w1"},
		events.NodeCompleted{NodeID: "B", OutputKey: "b-out"},
		events.RunCompleted{Outputs: map[models.ExecKey]string{"B": "b-out"}},
	))
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, st.Status())
	assert.Equal(t, int64(6), st.LastSequence)
	assert.Equal(t, "w1", st.Execution("B", nil).WorkerID)
	assert.Equal(t, "b-out", st.Outputs["B"])
	assert.NotNil(t, st.FinishedAt)
}

func TestFold_FirstTerminalEventWins(t *testing.T) {
	st, err := runstate.Fold(sequenced(
		queued(),
		events.RunStarted{},
		events.NodeCompleted{NodeID: "B", OutputKey: "first"},
		events.NodeFailed{NodeID: "B", FailureKind: "timeout", Message: "late duplicate"},
		events.NodeCompleted{NodeID: "B", OutputKey: "second"},
	))
	require.NoError(t, err)

	exec := st.Execution("B", nil)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, "first", exec.OutputKey)
}

func TestFold_Idempotent(t *testing.T) {
	envs := sequenced(
		queued(),
		events.RunStarted{},
		events.NodeReady{NodeID: "D", Instance: models.Instance{0}},
		events.NodeCompleted{NodeID: "D", Instance: models.Instance{0}, OutputKey: "x"},
	)

	a, err := runstate.Fold(envs)
	require.NoError(t, err)
	b, err := runstate.Fold(envs)
	require.NoError(t, err)

	assert.Equal(t, a.Executions(), b.Executions())
	assert.Equal(t, a.Status(), b.Status())
}

func TestFold_CancellationWaitsForRunning(t *testing.T) {
	envs := sequenced(
		queued(),
		events.RunStarted{},
		events.NodeStarted{NodeID: "B"},
		events.RunCancelled{Reason: "user"},
	)

	st, err := runstate.Fold(envs)
	require.NoError(t, err)
	assert.True(t, st.CancelRequested)
	assert.Equal(t, models.RunStatusRunning, st.Status())

	done := events.MustNew("run-1", events.NodeCompleted{NodeID: "B", OutputKey: "b"})
	done.Sequence = 5
	require.NoError(t, st.Apply(done))

	assert.Equal(t, models.RunStatusCancelled, st.Status())
	assert.Equal(t, "user", st.CancelReason)
}

func TestState_Breakdown(t *testing.T) {
	st, err := runstate.Fold(sequenced(
		queued(),
		events.RunStarted{},
		events.NodeCompleted{NodeID: "D", Instance: models.Instance{0}, OutputKey: "0"},
		events.NodeFailed{NodeID: "D", Instance: models.Instance{1}, FailureKind: "execution_failed", Message: "boom"},
		events.NodeSkipped{NodeID: "E"},
		events.RunFailed{Error: "stuck"},
	))
	require.NoError(t, err)

	report := st.Report()
	assert.Equal(t, models.RunStatusFailed, report.Run.Status)
	assert.Equal(t, "stuck", report.Run.Error)
	require.NotNil(t, report.Run.TriggerID)
	assert.Equal(t, "t1", *report.Run.TriggerID)

	byNode := map[string]runstate.NodeSummary{}
	for _, n := range report.Nodes {
		byNode[n.NodeID] = n
	}

	assert.Equal(t, 1, byNode["A"].Completed)
	assert.Equal(t, 1, byNode["D"].Completed)
	assert.Equal(t, 1, byNode["D"].Failed)
	require.Len(t, byNode["D"].Failures, 1)
	assert.Equal(t, "boom", byNode["D"].Failures[0].Message)
	assert.Equal(t, models.Instance{1}, byNode["D"].Failures[0].Instance)
	assert.Equal(t, 1, byNode["E"].Skipped)
}

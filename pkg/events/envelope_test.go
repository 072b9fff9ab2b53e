package events_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/codec"
	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/models"
)

func TestEnvelope_DecodeCurrent(t *testing.T) {
	env, err := events.New("run-1", events.NodeCompleted{NodeID: "B", Instance: models.Instance{1}, OutputKey: "k", ItemCount: 3})
	require.NoError(t, err)
	assert.Equal(t, events.CurrentVersion, env.SchemaVersion)
	assert.Equal(t, events.KindNodeCompleted, env.Kind)

	payload, err := env.Decode()
	require.NoError(t, err)

	completed, ok := payload.(*events.NodeCompleted)
	require.True(t, ok)
	assert.Equal(t, "k", completed.OutputKey)
	assert.Equal(t, models.Instance{1}, completed.Instance)
	assert.Equal(t, 3, completed.ItemCount)
}

func TestEnvelope_NodeFailedKeepsKindOnTheWire(t *testing.T) {
	env, err := events.New("run-1", events.NodeFailed{NodeID: "B", FailureKind: "timeout", Message: "late"})
	require.NoError(t, err)
	assert.Equal(t, events.KindNodeFailed, env.Kind)
	assert.Contains(t, string(env.Payload), `"kind":"timeout"`)

	payload, err := env.Decode()
	require.NoError(t, err)

	failed := payload.(*events.NodeFailed)
	assert.Equal(t, "timeout", failed.FailureKind)
	assert.Equal(t, events.KindNodeFailed, failed.Kind())
}

func TestEnvelope_UpcastsVersionOneNodeEvents(t *testing.T) {
	env := events.Envelope{
		SchemaVersion: 1,
		RunID:         "run-1",
		Sequence:      4,
		Kind:          events.KindNodeCompleted,
		Payload:       json.RawMessage(`{"node_id":"B","output_key":"k"}`),
	}

	payload, err := env.Decode()
	require.NoError(t, err)

	completed := payload.(*events.NodeCompleted)
	assert.Equal(t, "B", completed.NodeID)
	assert.Empty(t, completed.Instance)
}

func TestEnvelope_UnknownVersionIsMismatch(t *testing.T) {
	env := events.Envelope{SchemaVersion: 7, Kind: events.KindRunStarted, Payload: json.RawMessage(`{}`)}

	_, err := env.Decode()

	var mismatch *codec.SchemaVersionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 7, mismatch.Version)
	assert.Equal(t, events.CurrentVersion, mismatch.Current)
}

func TestEnvelope_UnknownKind(t *testing.T) {
	env := events.Envelope{SchemaVersion: events.CurrentVersion, Kind: "bogus", Payload: json.RawMessage(`{}`)}

	_, err := env.Decode()
	assert.Error(t, err)
}

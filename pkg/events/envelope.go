package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/aide/pkg/codec"
)

// CurrentVersion is the envelope schema version written by this build.
// v2 added the instance field to node events.
const CurrentVersion = 2

// Envelope is the persisted and transmitted form of one run event.
// Sequence is assigned by the event log on append.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	RunID         string          `json:"run_id"`
	Sequence      int64           `json:"sequence"`
	Kind          Kind            `json:"kind"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

var upcasters = newChain()

func newChain() *codec.Chain {
	chain := codec.NewChain(CurrentVersion)

	for _, kind := range []Kind{KindNodeReady, KindNodeStarted, KindNodeCompleted, KindNodeFailed, KindNodeSkipped} {
		chain.Register(string(kind), 1, addRootInstance)
	}

	for _, kind := range []Kind{KindRunQueued, KindRunStarted, KindRunCompleted, KindRunFailed, KindRunCancelled} {
		chain.Register(string(kind), 1, unchanged)
	}

	return chain
}

func unchanged(p json.RawMessage) (json.RawMessage, error) { return p, nil }

func addRootInstance(p json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(p, &fields); err != nil {
		return nil, err
	}

	if _, ok := fields["instance"]; !ok {
		fields["instance"] = json.RawMessage(`[]`)
	}

	return json.Marshal(fields)
}

// New wraps a payload into a current-version envelope for runID.
func New(runID string, payload Payload) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", payload.Kind(), err)
	}

	return Envelope{
		SchemaVersion: CurrentVersion,
		RunID:         runID,
		Kind:          payload.Kind(),
		Timestamp:     time.Now().UTC(),
		Payload:       raw,
	}, nil
}

// MustNew is New for payloads that always encode.
func MustNew(runID string, payload Payload) Envelope {
	env, err := New(runID, payload)
	if err != nil {
		panic(err)
	}

	return env
}

// Decode upcasts the payload to the current version and returns the typed
// value (always a pointer to one of the payload structs).
func (e Envelope) Decode() (Payload, error) {
	payload, ok := newPayload(e.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q at sequence %d", e.Kind, e.Sequence)
	}

	raw, err := upcasters.Upcast(string(e.Kind), e.SchemaVersion, e.Payload)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload at sequence %d: %w", e.Kind, e.Sequence, err)
	}

	return payload, nil
}

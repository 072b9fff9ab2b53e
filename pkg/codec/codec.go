// Package codec defines the versioned record format used for everything the
// engine persists or transmits, and the explicit upcasting chain that lifts
// old payloads to the current shape.
package codec

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Record kinds other than events.
const (
	KindDefinition = "definition"
	KindNodeOutput = "node_output"
	KindRunInput   = "run_input"
	KindMemory     = "memory"
	KindWorkItem   = "work_item"
	KindRunJob     = "run_job"
	KindRunNotice  = "run_notice"
)

// CurrentVersion is the schema version written for non-event records.
const CurrentVersion = 1

// Record wraps a payload with its kind and schema version.
type Record struct {
	SchemaVersion int             `json:"schema_version"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
}

// SchemaVersionMismatch is returned when a payload version cannot be lifted
// to the version the reader understands.
type SchemaVersionMismatch struct {
	Kind    string
	Version int
	Current int
}

func (e *SchemaVersionMismatch) Error() string {
	return fmt.Sprintf("schema version mismatch for %s: got v%d, reader understands up to v%d", e.Kind, e.Version, e.Current)
}

// Upcaster rewrites a payload of version n into version n+1.
type Upcaster func(payload json.RawMessage) (json.RawMessage, error)

// Chain holds the upcasters of one record family.
type Chain struct {
	current int
	mu      sync.RWMutex
	steps   map[string]map[int]Upcaster
}

func NewChain(current int) *Chain {
	return &Chain{current: current, steps: make(map[string]map[int]Upcaster)}
}

func (c *Chain) Current() int { return c.current }

// Register installs the step lifting kind from version from to from+1.
func (c *Chain) Register(kind string, from int, fn Upcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.steps[kind] == nil {
		c.steps[kind] = make(map[int]Upcaster)
	}

	c.steps[kind][from] = fn
}

// Upcast lifts payload from version to the current version step by step.
func (c *Chain) Upcast(kind string, version int, payload json.RawMessage) (json.RawMessage, error) {
	if version < 1 || version > c.current {
		return nil, &SchemaVersionMismatch{Kind: kind, Version: version, Current: c.current}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for v := version; v < c.current; v++ {
		step, ok := c.steps[kind][v]
		if !ok {
			return nil, &SchemaVersionMismatch{Kind: kind, Version: version, Current: c.current}
		}

		var err error

		payload, err = step(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to upcast %s from v%d: %w", kind, v, err)
		}
	}

	return payload, nil
}

// Records is the chain for non-event records.
var Records = NewChain(CurrentVersion)

// Marshal encodes v as a current-version record of the given kind.
func Marshal(kind string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	return json.Marshal(Record{SchemaVersion: CurrentVersion, Kind: kind, Payload: payload})
}

// Unmarshal decodes a record, checks its kind and upcasts it into v.
func Unmarshal(data []byte, kind string, v any) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to decode %s record: %w", kind, err)
	}

	if rec.Kind != kind {
		return fmt.Errorf("unexpected record kind %q, want %q", rec.Kind, kind)
	}

	payload, err := Records.Upcast(kind, rec.SchemaVersion, rec.Payload)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}

	return nil
}

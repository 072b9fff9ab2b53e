package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/persistence"
)

// EventLog appends one JSON envelope per line to events/{run}.jsonl.
// Appends are serialized within the process.
type EventLog struct {
	root string
	mu   sync.Mutex
}

func NewEventLog(root string) *EventLog {
	return &EventLog{root: root}
}

func (l *EventLog) path(runID string) string {
	return filepath.Join(l.root, "events", safeName(runID)+".jsonl")
}

func (l *EventLog) Append(_ context.Context, runID string, expectedLast int64, envs ...events.Envelope) ([]events.Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read(runID)
	if err != nil {
		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	last := int64(len(existing))
	if expectedLast != persistence.AnySequence && expectedLast != last {
		return nil, persistence.NewStoreError("AppendEvents", runID,
			fmt.Errorf("%w: expected %d, log is at %d", persistence.ErrSequenceConflict, expectedLast, last))
	}

	var buf bytes.Buffer

	out := make([]events.Envelope, len(envs))
	for i, env := range envs {
		env.RunID = runID
		env.Sequence = last + int64(i) + 1
		out[i] = env

		line, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event %d of run %s: %w", env.Sequence, runID, err)
		}

		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(l.path(runID)), 0750); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}

	f, err := os.OpenFile(l.path(runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()

		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	if err := f.Close(); err != nil {
		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	return out, nil
}

func (l *EventLog) Load(_ context.Context, runID string, afterSequence int64) ([]events.Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.read(runID)
	if err != nil {
		return nil, persistence.NewStoreError("LoadEvents", runID, err)
	}

	if len(all) == 0 {
		return nil, persistence.NewStoreError("LoadEvents", runID, persistence.ErrRunNotFound)
	}

	if afterSequence >= int64(len(all)) {
		return nil, nil
	}

	if afterSequence < 0 {
		afterSequence = 0
	}

	return all[afterSequence:], nil
}

func (l *EventLog) read(runID string) ([]events.Envelope, error) {
	f, err := os.Open(l.path(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}
	defer f.Close()

	var out []events.Envelope

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}

		var env events.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			return nil, fmt.Errorf("corrupt event line %d: %w", len(out)+1, err)
		}

		out = append(out, env)
	}

	return out, scanner.Err()
}

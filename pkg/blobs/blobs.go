// Package blobs names and encodes the values that events reference by key:
// run inputs and node outputs.
package blobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/aide/pkg/codec"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

func InputKey(runID string) string {
	return runID + "/input"
}

func OutputKey(runID string, key models.ExecKey) string {
	return runID + "/" + string(key)
}

func WriteInput(ctx context.Context, store persistence.BlobStore, runID string, v any) (string, error) {
	key := InputKey(runID)

	return key, write(ctx, store, key, codec.KindRunInput, v)
}

func WriteOutput(ctx context.Context, store persistence.BlobStore, runID string, exec models.ExecKey, v any) (string, error) {
	key := OutputKey(runID, exec)

	return key, write(ctx, store, key, codec.KindNodeOutput, v)
}

func write(ctx context.Context, store persistence.BlobStore, key, kind string, v any) error {
	data, err := codec.Marshal(kind, v)
	if err != nil {
		return err
	}

	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}

	return nil
}

// Read decodes a run input or node output blob into plain JSON values.
func Read(ctx context.Context, store persistence.BlobStore, key string) (any, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var rec codec.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode blob %s: %w", key, err)
	}

	var v any

	switch rec.Kind {
	case codec.KindRunInput, codec.KindNodeOutput:
		if err := codec.Unmarshal(data, rec.Kind, &v); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("blob %s holds unexpected record kind %q", key, rec.Kind)
	}

	return v, nil
}

// Normalize round-trips v through JSON so that it has the shape a reader of
// its blob will see.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}

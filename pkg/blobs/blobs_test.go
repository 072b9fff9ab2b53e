package blobs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/blobs"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/persistence/file"
)

func TestWriteAndRead(t *testing.T) {
	ctx := context.Background()
	store := file.NewBlobStore(t.TempDir())

	key, err := blobs.WriteInput(ctx, store, "run-1", map[string]any{"subject": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "run-1/input", key)

	v, err := blobs.Read(ctx, store, key)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"subject": "hi"}, v)

	key, err = blobs.WriteOutput(ctx, store, "run-1", models.MakeExecKey("D", models.Instance{0, 2}), []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "run-1/D#0.2", key)

	v, err = blobs.Read(ctx, store, key)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, v)
}

func TestRead_Missing(t *testing.T) {
	_, err := blobs.Read(context.Background(), file.NewBlobStore(t.TempDir()), "run-1/nope")
	assert.ErrorIs(t, err, persistence.ErrBlobNotFound)
}

func TestRead_RejectsOtherRecords(t *testing.T) {
	ctx := context.Background()
	store := file.NewBlobStore(t.TempDir())
	require.NoError(t, store.Put(ctx, "k", []byte(`{"schema_version":1,"kind":"definition","payload":{}}`)))

	_, err := blobs.Read(ctx, store, "k")
	assert.ErrorContains(t, err, "unexpected record kind")
}

func TestNormalize(t *testing.T) {
	v, err := blobs.Normalize(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, v)

	_, err = blobs.Normalize(make(chan int))
	assert.Error(t, err)
}

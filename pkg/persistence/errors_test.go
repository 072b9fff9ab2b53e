package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dukex/aide/pkg/persistence"
)

func TestStoreError(t *testing.T) {
	err := persistence.NewStoreError("AppendEvents", "run-1", persistence.ErrSequenceConflict)

	assert.Equal(t, "AppendEvents failed for run-1: event sequence conflict", err.Error())
	assert.ErrorIs(t, err, persistence.ErrSequenceConflict)
	assert.ErrorIs(t, fmt.Errorf("outer: %w", err), persistence.ErrSequenceConflict)
	assert.False(t, errors.Is(err, persistence.ErrRunNotFound))

	var storeErr *persistence.StoreError
	assert.ErrorAs(t, fmt.Errorf("outer: %w", err), &storeErr)
	assert.Equal(t, "AppendEvents", storeErr.Op)
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "run", err: persistence.ErrRunNotFound, want: true},
		{name: "wrapped blob", err: persistence.NewStoreError("GetBlob", "k", persistence.ErrBlobNotFound), want: true},
		{name: "conflict", err: persistence.ErrMemoryVersionConflict, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, persistence.IsNotFound(tt.err))
		})
	}
}

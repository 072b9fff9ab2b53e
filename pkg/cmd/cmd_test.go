package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/log"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence/file"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"./data", "file"},
		{"file://./data", "file"},
		{"postgres://u:p@localhost/aide", "postgres"},
		{"postgresql://localhost/aide", "postgresql"},
		{"mongodb://localhost", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, parsePersistenceProvider(tt.url))
		})
	}
}

func TestNewPersistence_File(t *testing.T) {
	store, err := NewPersistence(context.Background(), log.Discard(), "file://"+t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, store)
	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestNewClaimStore(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	claims, err := NewClaimStore("", store, log.Discard())
	require.NoError(t, err)
	assert.IsType(t, &file.ClaimStore{}, claims)

	claims, err = NewClaimStore(ClaimsMemory, store, log.Discard())
	require.NoError(t, err)
	assert.IsType(t, &file.ClaimStore{}, claims)

	_, err = NewClaimStore("postgres", store, log.Discard())
	assert.Error(t, err)

	_, err = NewClaimStore("etcd://x", store, log.Discard())
	assert.Error(t, err)
}

func TestNewQueue(t *testing.T) {
	q, err := NewQueue(QueueConfig{Provider: QueueGoChannel}, log.Discard())
	require.NoError(t, err)
	require.NoError(t, q.Close())

	_, err = NewQueue(QueueConfig{Provider: QueueKafka}, log.Discard())
	assert.Error(t, err)

	_, err = NewQueue(QueueConfig{Provider: "nats"}, log.Discard())
	assert.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry(log.Discard(), file.NewMemoryRepository(t.TempDir()), "")

	keys := reg.Keys()
	for _, want := range []string{
		capability.Key(models.NodeTypeTransform, ""),
		capability.Key(models.NodeTypeAILayer, ""),
	} {
		assert.Contains(t, keys, want)
	}

	_, ok := reg.Lookup(&models.Node{ID: "f", Type: models.NodeTypeControlFlow, Config: map[string]any{"kind": "fan_out"}})
	assert.True(t, ok)
}

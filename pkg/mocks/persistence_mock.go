// Package mocks holds testify doubles of the storage and queue contracts.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

// MockEventLog is a mock implementation of persistence.EventLog.
type MockEventLog struct {
	mock.Mock
}

var _ persistence.EventLog = (*MockEventLog)(nil)

func (m *MockEventLog) Append(ctx context.Context, runID string, expectedLast int64, envs ...events.Envelope) ([]events.Envelope, error) {
	args := m.Called(ctx, runID, expectedLast, envs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]events.Envelope), args.Error(1)
}

func (m *MockEventLog) Load(ctx context.Context, runID string, afterSequence int64) ([]events.Envelope, error) {
	args := m.Called(ctx, runID, afterSequence)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]events.Envelope), args.Error(1)
}

// MockDefinitionRepository is a mock implementation of persistence.DefinitionRepository.
type MockDefinitionRepository struct {
	mock.Mock
}

var _ persistence.DefinitionRepository = (*MockDefinitionRepository)(nil)

func (m *MockDefinitionRepository) Save(ctx context.Context, def *models.Definition) (*models.Definition, error) {
	args := m.Called(ctx, def)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Definition), args.Error(1)
}

func (m *MockDefinitionRepository) Latest(ctx context.Context, id string) (*models.Definition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Definition), args.Error(1)
}

func (m *MockDefinitionRepository) Version(ctx context.Context, id string, version int) (*models.Definition, error) {
	args := m.Called(ctx, id, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Definition), args.Error(1)
}

func (m *MockDefinitionRepository) List(ctx context.Context) ([]*models.Definition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Definition), args.Error(1)
}

// MockTriggerRepository is a mock implementation of persistence.TriggerRepository.
type MockTriggerRepository struct {
	mock.Mock
}

var _ persistence.TriggerRepository = (*MockTriggerRepository)(nil)

func (m *MockTriggerRepository) ByID(ctx context.Context, id string) (*models.TriggerEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.TriggerEntry), args.Error(1)
}

func (m *MockTriggerRepository) ByDefinition(ctx context.Context, definitionID string) ([]*models.TriggerEntry, error) {
	args := m.Called(ctx, definitionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.TriggerEntry), args.Error(1)
}

func (m *MockTriggerRepository) ByKind(ctx context.Context, kind models.TriggerKind) ([]*models.TriggerEntry, error) {
	args := m.Called(ctx, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.TriggerEntry), args.Error(1)
}

func (m *MockTriggerRepository) ByMatchKey(ctx context.Context, kind models.TriggerKind, matchKey string) ([]*models.TriggerEntry, error) {
	args := m.Called(ctx, kind, matchKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.TriggerEntry), args.Error(1)
}

func (m *MockTriggerRepository) Apply(ctx context.Context, upserts []*models.TriggerEntry, deletes []string) error {
	args := m.Called(ctx, upserts, deletes)

	return args.Error(0)
}

// MockMemoryRepository is a mock implementation of persistence.MemoryRepository.
type MockMemoryRepository struct {
	mock.Mock
}

var _ persistence.MemoryRepository = (*MockMemoryRepository)(nil)

func (m *MockMemoryRepository) Load(ctx context.Context, workflowID string) (*models.WorkflowMemory, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowMemory), args.Error(1)
}

func (m *MockMemoryRepository) Record(ctx context.Context, workflowID string, expectedVersion int64, data []byte) (*models.WorkflowMemory, error) {
	args := m.Called(ctx, workflowID, expectedVersion, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowMemory), args.Error(1)
}

// MockBlobStore is a mock implementation of persistence.BlobStore.
type MockBlobStore struct {
	mock.Mock
}

var _ persistence.BlobStore = (*MockBlobStore)(nil)

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)

	return args.Error(0)
}

func (m *MockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}

// MockClaimStore is a mock implementation of persistence.ClaimStore.
type MockClaimStore struct {
	mock.Mock
}

var _ persistence.ClaimStore = (*MockClaimStore)(nil)

func (m *MockClaimStore) Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (*persistence.Claim, error) {
	args := m.Called(ctx, runID, owner, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.Claim), args.Error(1)
}

func (m *MockClaimStore) Renew(ctx context.Context, runID, owner string, ttl time.Duration) (*persistence.Claim, error) {
	args := m.Called(ctx, runID, owner, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.Claim), args.Error(1)
}

func (m *MockClaimStore) Release(ctx context.Context, runID, owner string) error {
	args := m.Called(ctx, runID, owner)

	return args.Error(0)
}

func (m *MockClaimStore) Expired(ctx context.Context, now time.Time) ([]persistence.Claim, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]persistence.Claim), args.Error(1)
}

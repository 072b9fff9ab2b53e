package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/queue"
)

// MockPublisher is a mock implementation of queue.Publisher.
type MockPublisher struct {
	mock.Mock
}

var _ queue.Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) PublishRunJob(ctx context.Context, job models.RunJob) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockPublisher) PublishWorkItem(ctx context.Context, item models.WorkItem) error {
	args := m.Called(ctx, item)

	return args.Error(0)
}

func (m *MockPublisher) PublishRunNotice(ctx context.Context, notice models.RunNotice) error {
	args := m.Called(ctx, notice)

	return args.Error(0)
}

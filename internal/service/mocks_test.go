package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/events"
	"github.com/orthoflow/orthoflow/internal/store"
	"github.com/stretchr/testify/mock"
)

// MockDatasetStore is a mock implementation of store.DatasetStore.
type MockDatasetStore struct {
	mock.Mock
}

func (m *MockDatasetStore) CreateUploading(ctx context.Context, dataset *domain.Dataset) (*domain.Dataset, error) {
	args := m.Called(ctx, dataset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Dataset), args.Error(1)
}

func (m *MockDatasetStore) GetByID(ctx context.Context, id int64) (*domain.Dataset, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Dataset), args.Error(1)
}

func (m *MockDatasetStore) GetByUploadID(ctx context.Context, uploadID string) (*domain.Dataset, error) {
	args := m.Called(ctx, uploadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Dataset), args.Error(1)
}

func (m *MockDatasetStore) Finalize(ctx context.Context, id int64, f store.DatasetFinalization) (*domain.Dataset, error) {
	args := m.Called(ctx, id, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Dataset), args.Error(1)
}

func (m *MockDatasetStore) UpdateStatus(ctx context.Context, id int64, status domain.DatasetStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// WithTx returns the same mock so expectations apply inside transactions.
func (m *MockDatasetStore) WithTx(tx *sql.Tx) store.DatasetStore {
	return m
}

// MockQueueStore is a mock implementation of store.QueueStore.
type MockQueueStore struct {
	mock.Mock
}

func (m *MockQueueStore) RunningCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockQueueStore) QueueLength(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockQueueStore) NextTask(ctx context.Context) (*domain.QueueTask, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueTask), args.Error(1)
}

func (m *MockQueueStore) Claim(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockQueueStore) Release(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockQueueStore) Remove(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockQueueStore) ResetStale(ctx context.Context, claimedBefore time.Time) (int, error) {
	args := m.Called(ctx, claimedBefore)
	return args.Int(0), args.Error(1)
}

func (m *MockQueueStore) Enqueue(ctx context.Context, task *domain.QueueTask) error {
	return m.Called(ctx, task).Error(0)
}

func (m *MockQueueStore) Position(ctx context.Context, id int64) (*domain.QueueTask, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueTask), args.Error(1)
}

// WithTx returns the same mock so expectations apply inside transactions.
func (m *MockQueueStore) WithTx(tx *sql.Tx) store.QueueStore {
	return m
}

// MockEventEmitter implements events.EventEmitter for testing.
type MockEventEmitter struct {
	mock.Mock
}

func (m *MockEventEmitter) EmitEvent(ctx context.Context, event *events.TaskEvent) error {
	return m.Called(ctx, event).Error(0)
}

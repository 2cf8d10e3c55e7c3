package mocks

import (
	"context"
	"sync"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/service"
)

// MockTaskService implements service.TaskService for testing
type MockTaskService struct {
	// SubmitFn allows test cases to mock the Submit behavior
	SubmitFn func(ctx context.Context, req service.SubmitRequest) (*domain.QueueTask, error)

	// Default values used when SubmitFn isn't defined
	Task *domain.QueueTask
	Err  error

	mu       sync.Mutex
	requests []service.SubmitRequest
}

var _ service.TaskService = (*MockTaskService)(nil)

// Submit implements the service.TaskService interface
func (m *MockTaskService) Submit(ctx context.Context, req service.SubmitRequest) (*domain.QueueTask, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, req)
	}
	return m.Task, m.Err
}

// Requests returns the requests Submit received, in order.
func (m *MockTaskService) Requests() []service.SubmitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.SubmitRequest(nil), m.requests...)
}

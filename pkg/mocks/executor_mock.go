package mocks

import (
	"context"

	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/stretchr/testify/mock"
)

// MockExecutor is a mock implementation of web.Executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Start(ctx context.Context, workflowType string, initial workflow.Context) (*workflow.Task, error) {
	args := m.Called(ctx, workflowType, initial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*workflow.Task), args.Error(1)
}

func (m *MockExecutor) Resume(ctx context.Context, executionID string) (*workflow.Task, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*workflow.Task), args.Error(1)
}

func (m *MockExecutor) Running() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]string)
}

func (m *MockExecutor) Registry() *workflow.Registry {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(*workflow.Registry)
}

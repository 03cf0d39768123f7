package task_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docproof/apps/backend/features/history"
	"docproof/apps/backend/features/task"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Create(ctx context.Context, t *task.Task, input []byte) error {
	return m.Called(ctx, t, input).Error(0)
}

func (m *MockRepo) Update(ctx context.Context, t *task.Task) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*task.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*task.Task), args.Error(1)
}

func (m *MockRepo) CountByStatus(ctx context.Context) (map[task.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[task.Status]int), args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

type MockResults struct{ mock.Mock }

func (m *MockResults) Get(ctx context.Context, taskID string) (*history.AnalysisResult, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*history.AnalysisResult), args.Error(1)
}

package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docproof/apps/backend/features/job"
	"docproof/apps/backend/features/task"
	"docproof/apps/backend/internal/analysis"
	"docproof/apps/backend/internal/progress"
)

type MockTaskLoader struct{ mock.Mock }

func (m *MockTaskLoader) Get(ctx context.Context, id string) (*task.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*task.Task), args.Error(1)
}

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Execute(ctx context.Context, t *task.Task, req analysis.Request) error {
	return m.Called(ctx, t, req).Error(0)
}

func (m *MockRunner) Fail(ctx context.Context, t *task.Task, err error) error {
	return m.Called(ctx, t, err).Error(0)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	return m.Called(ctx, j).Error(0)
}

type MockTaskPublisher struct{ mock.Mock }

func (m *MockTaskPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type MockSink struct{ mock.Mock }

func (m *MockSink) Publish(e progress.Event) int {
	return m.Called(e).Int(0)
}

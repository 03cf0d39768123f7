package worker

import (
	"context"

	"docproof/apps/backend/features/job"
	"docproof/apps/backend/features/task"
	"docproof/apps/backend/internal/analysis"
	"docproof/apps/backend/internal/progress"
)

type TaskLoader interface {
	Get(ctx context.Context, id string) (*task.Task, error)
}

// Runner executes a task. Both methods record the outcome on the task.
type Runner interface {
	Execute(ctx context.Context, t *task.Task, req analysis.Request) error
	Fail(ctx context.Context, t *task.Task, err error) error
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type JobSaver interface {
	Save(ctx context.Context, j *job.Job) error
}

type EventSink interface {
	Publish(e progress.Event) int
}

package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docproof/apps/backend/features/task"
)

const retryTimeout = 5 * time.Second

var ErrRetryTimeout = errors.New("timeout waiting for task resubmission")

// TaskSubmitter starts a new task from a stored dispatch payload.
type TaskSubmitter interface {
	Resubmit(ctx context.Context, payload []byte) (*task.Task, error)
}

type Service struct {
	repo      Repository
	submitter TaskSubmitter
	logger    *slog.Logger
	timeout   time.Duration
}

func NewService(repo Repository, submitter TaskSubmitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, submitter: submitter, logger: logger, timeout: retryTimeout}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry resubmits the job's payload as a new task and removes the job. The
// failed task keeps its status.
func (s *Service) Retry(ctx context.Context, id string) (*task.Task, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	type result struct {
		t   *task.Task
		err error
	}
	done := make(chan result, 1)
	go func() {
		t, err := s.submitter.Resubmit(ctx, j.Payload)
		done <- result{t, err}
	}()

	var t *task.Task
	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		t = res.t
	case <-time.After(s.timeout):
		return nil, ErrRetryTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.logger.InfoContext(ctx, "job resubmitted", "job_id", id, "failed_task_id", j.TaskID, "task_id", t.ID)

	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

// Dismiss drops a failed job without running it again.
func (s *Service) Dismiss(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "failed job dismissed", "job_id", id)
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

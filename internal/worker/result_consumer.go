package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docproof/apps/backend/features/job"
	"docproof/apps/backend/features/task"
	"docproof/apps/backend/internal/middleware"
)

const analysisHandlerName = "analysis-worker"

// ResultConsumer records failed analyses in the failed-jobs table so they can
// be retried.
type ResultConsumer struct {
	jobs JobSaver
}

func NewResultConsumer(j JobSaver) *ResultConsumer {
	return &ResultConsumer{jobs: j}
}

func (h *ResultConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload ResultEvent
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid message format", "error", err)
		return nil // Don't retry invalid messages
	}
	if payload.TaskID == "" {
		slog.ErrorContext(ctx, "missing task id, dropping")
		return nil
	}
	ctx = middleware.WithTaskID(ctx, payload.TaskID)

	switch task.Status(payload.Status) {
	case task.StatusSucceeded:
		slog.InfoContext(ctx, "analysis succeeded")
		return nil
	case task.StatusCanceled:
		slog.InfoContext(ctx, "analysis canceled", "progress", payload.Progress)
		return nil
	case task.StatusFailed:
	default:
		slog.WarnContext(ctx, "unexpected result status, dropping", "status", payload.Status)
		return nil
	}

	slog.ErrorContext(ctx, "analysis failed", "progress", payload.Progress, "error", payload.Error)

	if payload.OriginalPayload == nil {
		return nil
	}

	failedJob := &job.Job{
		TaskID:  payload.TaskID,
		Handler: analysisHandlerName,
		Payload: payload.OriginalPayload,
		Error:   payload.Error,
	}
	if err := h.jobs.Save(ctx, failedJob); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		// Don't return error here, we don't want to retry the result processing loop
		return nil
	}
	slog.InfoContext(ctx, "saved failed job for retry", "job_id", failedJob.ID)
	return nil
}

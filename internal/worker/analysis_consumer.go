package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docproof/apps/backend/features/task"
	"docproof/apps/backend/internal/analysis"
	"docproof/apps/backend/internal/config"
	"docproof/apps/backend/internal/middleware"
	"docproof/apps/backend/internal/source"
)

const (
	defaultRunTimeout    = 30 * time.Minute
	defaultTouchInterval = 30 * time.Second
)

type AnalysisConsumer struct {
	tasks     TaskLoader
	runner    Runner
	publisher TaskPublisher

	timeout time.Duration
	touch   time.Duration
}

func NewAnalysisConsumer(tasks TaskLoader, r Runner, pub TaskPublisher, timeout time.Duration) *AnalysisConsumer {
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	return &AnalysisConsumer{
		tasks:     tasks,
		runner:    r,
		publisher: pub,
		timeout:   timeout,
		touch:     defaultTouchInterval,
	}
}

func (h *AnalysisConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload task.Payload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid json", "error", err)
		return nil
	}
	if payload.TaskID == "" {
		slog.ErrorContext(ctx, "missing task id, dropping")
		return nil
	}
	ctx = middleware.WithTaskID(ctx, payload.TaskID)

	t, err := h.tasks.Get(ctx, payload.TaskID)
	if errors.Is(err, task.ErrNotFound) {
		slog.WarnContext(ctx, "task not found, dropping")
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to load task", "error", err)
		return err
	}
	if t.Status != task.StatusPending {
		slog.InfoContext(ctx, "task already picked up, skipping", "status", t.Status)
		return nil
	}

	if m.Delegate != nil {
		stop := h.keepAlive(m)
		defer stop()
	}

	ref, err := resolve(payload)
	if err != nil {
		_ = h.runner.Fail(ctx, t, err)
		h.report(ctx, t, payload)
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err = h.runner.Execute(runCtx, t, analysis.Request{
		Ref:         ref,
		Credentials: payload.Credentials,
		Prompt:      payload.Prompt,
	})
	h.report(ctx, t, payload)

	if err == nil && payload.UploadPath != "" {
		if rmErr := os.Remove(payload.UploadPath); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.WarnContext(ctx, "failed to remove upload", "path", payload.UploadPath, "error", rmErr)
		}
	}
	return nil
}

// keepAlive touches m until stopped so that nsqd does not requeue a long
// analysis.
func (h *AnalysisConsumer) keepAlive(m *nsq.Message) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.touch)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Touch()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func resolve(p task.Payload) (source.Reference, error) {
	if p.UploadPath == "" {
		return source.ResolveRemote(p.Source)
	}
	data, err := os.ReadFile(p.UploadPath)
	if err != nil {
		return source.Reference{}, fmt.Errorf("%w: uploaded file is no longer available", source.ErrInvalidReference)
	}
	return source.ResolveUpload(data, p.FileName, p.MimeType)
}

func (h *AnalysisConsumer) report(ctx context.Context, t *task.Task, p task.Payload) {
	original, err := json.Marshal(p.Redacted())
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal original payload", "error", err)
		return
	}

	body, err := json.Marshal(ResultEvent{
		TaskID:          t.ID,
		Status:          string(t.Status),
		Error:           t.Error,
		Progress:        t.Progress,
		CorrelationID:   middleware.GetCorrelationID(ctx),
		OriginalPayload: original,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal result event", "error", err)
		return
	}

	if err := h.publisher.Publish(config.TopicAnalysisResult, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish analysis result", "error", err)
	}
}

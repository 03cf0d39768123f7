package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"docproof/apps/backend/internal/config"
	"docproof/apps/backend/internal/fetch"
	"docproof/apps/backend/internal/middleware"
	"docproof/apps/backend/internal/source"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo      Repository
	pub       EventPublisher
	uploadDir string
}

func NewService(repo Repository, pub EventPublisher, uploadDir string) *Service {
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	return &Service{repo: repo, pub: pub, uploadDir: uploadDir}
}

// RunAnalysis creates a pending task for ref and hands it to the analysis
// workers. The returned task is already persisted.
func (s *Service) RunAnalysis(ctx context.Context, ref source.Reference, creds *fetch.Credentials, cfg PromptConfig) (*Task, error) {
	t := &Task{
		ID:          uuid.New().String(),
		Type:        TypeAnalysis,
		Status:      StatusPending,
		DocumentRef: ref.Display(),
	}

	payload := Payload{
		TaskID:        t.ID,
		Credentials:   creds,
		Prompt:        cfg,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}

	switch ref.Kind {
	case source.KindUpload:
		path, err := s.storeUpload(ref)
		if err != nil {
			return nil, err
		}
		payload.UploadPath = path
		payload.FileName = ref.FileName
		payload.MimeType = ref.MIMEType
	default:
		payload.Source = ref.Input
	}

	return s.dispatch(ctx, t, payload)
}

// Resubmit starts a new task from a stored dispatch payload. The original
// task is left as it is.
func (s *Service) Resubmit(ctx context.Context, raw []byte) (*Task, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid task payload: %w", err)
	}
	if payload.Source == "" && payload.UploadPath == "" {
		return nil, errors.New("task payload has no document")
	}

	t := &Task{
		ID:          uuid.New().String(),
		Type:        TypeAnalysis,
		Status:      StatusPending,
		DocumentRef: payload.Source,
	}
	if t.DocumentRef == "" {
		t.DocumentRef = payload.FileName
	}

	payload.TaskID = t.ID
	payload.CorrelationID = middleware.GetCorrelationID(ctx)
	return s.dispatch(ctx, t, payload)
}

func (s *Service) dispatch(ctx context.Context, t *Task, payload Payload) (*Task, error) {
	stored, err := json.Marshal(payload.Redacted())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t, stored); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if err := s.pub.Publish(config.TopicAnalysisTask, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish analysis task", "task_id", t.ID, "error", err)
		t.Error = fmt.Sprintf("failed to dispatch task: %v", err)
		if terr := t.Transition(StatusFailed); terr == nil {
			if uerr := s.repo.Update(ctx, t); uerr != nil {
				slog.WarnContext(ctx, "failed to record dispatch failure", "task_id", t.ID, "error", uerr)
			}
		}
		return nil, fmt.Errorf("failed to dispatch task: %w", err)
	}

	slog.InfoContext(ctx, "published analysis task", "task_id", t.ID, "document", t.DocumentRef)
	return t, nil
}

func (s *Service) storeUpload(ref source.Reference) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	name := filepath.Base(ref.FileName)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Clean(filepath.Join(s.uploadDir, fmt.Sprintf("%s_%s", uuid.New().String(), name)))
	if err := os.WriteFile(path, ref.Data, 0o600); err != nil { // #nosec G306 -- path is UUID-based
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return path, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.repo.Get(ctx, id)
}

// Cancel marks an active task canceled. In-flight network calls are not
// interrupted; the pipeline notices at its next update.
func (s *Service) Cancel(ctx context.Context, id string) (*Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := t.Transition(StatusCanceled); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "task canceled", "task_id", id)
	return t, nil
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}

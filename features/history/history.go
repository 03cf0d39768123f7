package history

import (
	"context"
	"errors"
	"time"

	"docproof/apps/backend/internal/completion"
)

var ErrNotFound = errors.New("analysis result not found")

// AnalysisResult is written once when a task succeeds and never changed.
type AnalysisResult struct {
	ID          string               `json:"id"`
	TaskID      string               `json:"task_id"`
	DocumentID  string               `json:"document_id"`
	SourceType  string               `json:"source_type"`
	DocumentRef string               `json:"document_ref"`
	FileName    string               `json:"file_name,omitempty"`
	Findings    []completion.Finding `json:"findings"`
	FromCache   bool                 `json:"from_cache"`
	CreatedAt   time.Time            `json:"created_at"`
}

type Repository interface {
	Save(ctx context.Context, r *AnalysisResult) error
	GetByTask(ctx context.Context, taskID string) (*AnalysisResult, error)
	List(ctx context.Context, limit, offset int) ([]AnalysisResult, error)
	Delete(ctx context.Context, taskID string) error
	Count(ctx context.Context) (int, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Save(ctx context.Context, r *AnalysisResult) error {
	if r.Findings == nil {
		r.Findings = []completion.Finding{}
	}
	return s.repo.Save(ctx, r)
}

func (s *Service) Get(ctx context.Context, taskID string) (*AnalysisResult, error) {
	return s.repo.GetByTask(ctx, taskID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]AnalysisResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Delete(ctx context.Context, taskID string) error {
	return s.repo.Delete(ctx, taskID)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

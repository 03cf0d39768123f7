package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"docproof/apps/backend/features/task"
	"docproof/apps/backend/internal/middleware"
)

type TaskCounter interface {
	CountByStatus(ctx context.Context) (map[task.Status]int, error)
}

type ResultCounter interface {
	Count(ctx context.Context) (int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	tasks   TaskCounter
	results ResultCounter
	jobRepo JobRepo
}

func NewHandler(t TaskCounter, r ResultCounter, j JobRepo) *Handler {
	return &Handler{tasks: t, results: r, jobRepo: j}
}

type StatsResponse struct {
	Tasks      map[task.Status]int `json:"tasks"`
	TotalTasks int                 `json:"total_tasks"`
	Analyses   int                 `json:"analyses"`
	FailedJobs int                 `json:"failed_jobs"`
}

var reportedStatuses = []task.Status{
	task.StatusPending, task.StatusRunning, task.StatusSucceeded, task.StatusFailed, task.StatusCanceled,
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	byStatus, err := h.tasks.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count tasks", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count tasks", http.StatusInternalServerError)
		return
	}

	rCount, err := h.results.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count analyses", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count analyses", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Tasks:      make(map[task.Status]int, len(reportedStatuses)),
		Analyses:   rCount,
		FailedJobs: jCount,
	}
	for _, s := range reportedStatuses {
		resp.Tasks[s] = byStatus[s]
		resp.TotalTasks += byStatus[s]
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"docproof/apps/backend/internal/middleware"
)

type Handler struct {
	service *Service
	now     func() time.Time
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s, now: time.Now}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	results, err := h.service.List(ctx, limit, offset)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list analysis results", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []AnalysisResult{}
	}

	h.writeJSON(ctx, w, map[string]interface{}{
		"data": results,
		"meta": map[string]int{"count": len(results)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.service.Get(ctx, r.PathValue("id"))
	if err != nil {
		h.writeLookupError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, map[string]interface{}{"data": res})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := h.service.Delete(ctx, id); err != nil {
		h.writeLookupError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "analysis result deleted", "task_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Export renders a task's findings as csv, json or xlsx.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatCSV && format != FormatJSON && format != FormatXLSX {
		h.writeError(ctx, w, "VALIDATION_ERROR", "format must be csv, json or xlsx", http.StatusBadRequest)
		return
	}

	res, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeLookupError(ctx, w, err)
		return
	}

	filename := fmt.Sprintf("proofreading_%s.%s", id, format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	switch format {
	case FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = WriteCSV(w, res.Findings)
	case FormatXLSX:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		err = WriteXLSX(w, res.Findings)
	default:
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(NewReport(res.Findings, h.now()))
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to write export", "task_id", id, "format", format, "error", err)
	}
}

func (h *Handler) writeLookupError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		h.writeError(ctx, w, "NOT_FOUND", "Analysis result not found", http.StatusNotFound)
		return
	}
	slog.ErrorContext(ctx, "analysis result lookup failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
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

package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docproof/apps/backend/features/history"
	"docproof/apps/backend/internal/fetch"
	"docproof/apps/backend/internal/middleware"
	"docproof/apps/backend/internal/progress"
	"docproof/apps/backend/internal/source"
)

type ResultReader interface {
	Get(ctx context.Context, taskID string) (*history.AnalysisResult, error)
}

type Handler struct {
	service        *Service
	results        ResultReader
	hub            *progress.Hub
	maxUploadBytes int64
	keepAlive      time.Duration
}

func NewHandler(s *Service, results ResultReader, hub *progress.Hub, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handler{
		service:        s,
		results:        results,
		hub:            hub,
		maxUploadBytes: maxUploadBytes,
		keepAlive:      15 * time.Second,
	}
}

type CreateRequest struct {
	Source         string   `json:"source"`
	PromptOverride string   `json:"prompt_override,omitempty"`
	Knowledge      []string `json:"knowledge,omitempty"`
	UseO1          bool     `json:"use_o1"`
	UseEB1         bool     `json:"use_eb1"`
	SkipCache      bool     `json:"skip_cache"`
	AccessToken    string   `json:"access_token,omitempty"`
	RefreshToken   string   `json:"refresh_token,omitempty"`
}

func (req CreateRequest) promptConfig() PromptConfig {
	return PromptConfig{
		Override:  req.PromptOverride,
		Knowledge: req.Knowledge,
		UseO1:     req.UseO1,
		UseEB1:    req.UseEB1,
		SkipCache: req.SkipCache,
	}
}

func (req CreateRequest) credentials() *fetch.Credentials {
	if req.AccessToken == "" {
		return nil
	}
	return &fetch.Credentials{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON body", http.StatusBadRequest)
		return
	}

	ref, err := source.ResolveRemote(req.Source)
	if err != nil {
		h.writeError(ctx, w, "INVALID_REFERENCE", err.Error(), http.StatusBadRequest)
		return
	}

	t, err := h.service.RunAnalysis(ctx, ref, req.credentials(), req.promptConfig())
	if err != nil {
		slog.ErrorContext(ctx, "failed to start analysis", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{"data": t})
}

var uploadExtensions = map[string]bool{
	".docx": true, ".pdf": true, ".txt": true, ".md": true, ".csv": true,
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(ctx, w, "BAD_REQUEST", "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, "BAD_REQUEST", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !uploadExtensions[strings.ToLower(filepath.Ext(header.Filename))] {
		h.writeError(ctx, w, "BAD_REQUEST", "Unsupported file type", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to read file", http.StatusInternalServerError)
		return
	}

	ref, err := source.ResolveUpload(data, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		h.writeError(ctx, w, "INVALID_REFERENCE", err.Error(), http.StatusBadRequest)
		return
	}

	cfg := PromptConfig{
		Override:  r.FormValue("prompt_override"),
		UseO1:     formBool(r, "use_o1"),
		UseEB1:    formBool(r, "use_eb1"),
		SkipCache: formBool(r, "skip_cache"),
	}
	if k := r.MultipartForm.Value["knowledge"]; len(k) > 0 {
		cfg.Knowledge = k
	}

	t, err := h.service.RunAnalysis(ctx, ref, nil, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start analysis", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{"data": t})
}

func formBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.FormValue(name))
	return b
}

// Get returns the task, with its result once it has succeeded.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	t, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeTaskError(ctx, w, err)
		return
	}

	data := map[string]interface{}{"task": t}
	if t.Status == StatusSucceeded && h.results != nil {
		res, err := h.results.Get(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "succeeded task has no readable result", "task_id", id, "error", err)
		} else {
			data["result"] = res
		}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": data})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.service.Cancel(ctx, r.PathValue("id"))
	if err != nil {
		h.writeTaskError(ctx, w, err)
		return
	}
	if h.hub != nil {
		h.hub.Publish(progress.Event{TaskID: t.ID, Progress: t.Progress, Stage: string(StatusCanceled), Message: "Analysis canceled", Terminal: true})
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": t})
}

// Events streams progress for one task as server-sent events. The stream
// ends after a terminal event.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(ctx, w, "INTERNAL_ERROR", "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := h.hub.Subscribe(id)
	defer unsubscribe()

	t, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeTaskError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	slog.InfoContext(ctx, "progress stream started", "task_id", id)
	defer slog.InfoContext(ctx, "progress stream ended", "task_id", id)

	current := progress.Event{TaskID: t.ID, Progress: t.Progress, Stage: t.Stage, Message: t.Error, Terminal: t.Status.Terminal()}
	if current.Stage == "" {
		current.Stage = string(t.Status)
	}
	if err := writeEvent(w, current); err != nil {
		return
	}
	flusher.Flush()
	if current.Terminal {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
			if e.Terminal {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w io.Writer, e progress.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", body)
	return err
}

func (h *Handler) writeTaskError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "Task not found", http.StatusNotFound)
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrTaskInactive):
		h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
	default:
		slog.ErrorContext(ctx, "task request failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
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

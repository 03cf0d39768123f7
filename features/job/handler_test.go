package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docproof/apps/backend/features/job"
	"docproof/apps/backend/features/task"
)

// MockRepo implements job.Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockRepo) List(ctx context.Context) ([]job.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]job.Job), args.Error(1)
}
func (m *MockRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}
func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Resubmit(ctx context.Context, payload []byte) (*task.Task, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*task.Task), args.Error(1)
}

func TestHandler_List(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("List", mock.Anything).Return([]job.Job{{ID: "1", TaskID: "t1", Error: "document is private"}}, nil)

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp struct {
		Data []job.Job     `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Meta["count"])
	assert.Equal(t, "t1", resp.Data[0].TaskID)
}

func TestHandler_List_EmptyList(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything).Return(nil, nil)

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHandler_List_ServiceError(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything).Return(nil, errors.New("database error"))

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
	mockRepo.AssertExpectations(t)
}

func TestHandler_Retry(t *testing.T) {
	mockRepo := new(MockRepo)
	mockSub := new(MockSubmitter)
	handler := job.NewHandler(job.NewService(mockRepo, mockSub, slog.Default()))

	payload := []byte(`{"task_id":"old","source":"abc"}`)
	mockRepo.On("Get", mock.Anything, "1").Return(&job.Job{ID: "1", TaskID: "old", Payload: payload}, nil)
	mockSub.On("Resubmit", mock.Anything, mock.Anything).Return(&task.Task{ID: "new", Status: task.StatusPending}, nil)
	mockRepo.On("Delete", mock.Anything, "1").Return(nil)

	req := httptest.NewRequest("POST", "/jobs/1/retry", nil)
	req.SetPathValue("id", "1")
	w := httptest.NewRecorder()

	handler.Retry(w, req)

	assert.Equal(t, http.StatusAccepted, w.Result().StatusCode)
	var resp struct {
		Data task.Task `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "new", resp.Data.ID)
	mockRepo.AssertExpectations(t)
	mockSub.AssertExpectations(t)
}

func TestHandler_Retry_NotFound(t *testing.T) {
	mockRepo := new(MockRepo)
	mockSub := new(MockSubmitter)
	handler := job.NewHandler(job.NewService(mockRepo, mockSub, slog.Default()))

	mockRepo.On("Get", mock.Anything, "99").Return(nil, job.ErrNotFound)

	req := httptest.NewRequest("POST", "/jobs/99/retry", nil)
	req.SetPathValue("id", "99")
	w := httptest.NewRecorder()

	handler.Retry(w, req)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
	mockSub.AssertNotCalled(t, "Resubmit", mock.Anything, mock.Anything)
}

func TestHandler_Retry_SubmitError(t *testing.T) {
	mockRepo := new(MockRepo)
	mockSub := new(MockSubmitter)
	handler := job.NewHandler(job.NewService(mockRepo, mockSub, slog.Default()))

	mockRepo.On("Get", mock.Anything, "1").Return(&job.Job{ID: "1", Payload: []byte(`{}`)}, nil)
	mockSub.On("Resubmit", mock.Anything, mock.Anything).Return(nil, errors.New("task payload has no document"))

	req := httptest.NewRequest("POST", "/jobs/1/retry", nil)
	req.SetPathValue("id", "1")
	w := httptest.NewRecorder()

	handler.Retry(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
	mockRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestHandler_Dismiss(t *testing.T) {
	tests := []struct {
		name     string
		repoErr  error
		expected int
	}{
		{"Deleted", nil, http.StatusNoContent},
		{"Unknown job", job.ErrNotFound, http.StatusNotFound},
		{"Database error", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockRepo)
			handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))
			mockRepo.On("Delete", mock.Anything, "7").Return(tt.repoErr)

			req := httptest.NewRequest("DELETE", "/jobs/7", nil)
			req.SetPathValue("id", "7")
			w := httptest.NewRecorder()

			handler.Dismiss(w, req)

			assert.Equal(t, tt.expected, w.Result().StatusCode)
			mockRepo.AssertExpectations(t)
		})
	}
}

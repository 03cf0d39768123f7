package task

import (
	"errors"
	"fmt"
	"time"

	"docproof/apps/backend/internal/fetch"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrIllegalTransition = errors.New("illegal task transition")
	// ErrTaskInactive is returned when a guarded update finds the task already
	// in a terminal state, typically because it was canceled meanwhile.
	ErrTaskInactive      = errors.New("task is no longer active")
	ErrPersistenceFailed = errors.New("persistence failed")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed, StatusCanceled},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusCanceled},
}

const TypeAnalysis = "analysis"

type Task struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	DocumentRef string    `json:"document_ref"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transition moves the task to status to. Terminal states have no exits.
func (t *Task) Transition(to Status) error {
	for _, allowed := range transitions[t.Status] {
		if allowed == to {
			t.Status = to
			if to == StatusSucceeded {
				t.Progress = 100
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, to)
}

// Advance records a milestone. Progress never moves backwards and a terminal
// task is left untouched.
func (t *Task) Advance(progress int, stage string) {
	if t.Status.Terminal() {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	t.Stage = stage
}

// PromptConfig selects the system instructions for a run. Knowledge holds
// prebuilt text blocks appended to the base prompt; the flags only feed the
// cache fingerprint.
type PromptConfig struct {
	Override  string   `json:"override,omitempty"`
	Knowledge []string `json:"knowledge,omitempty"`
	UseO1     bool     `json:"use_o1"`
	UseEB1    bool     `json:"use_eb1"`
	SkipCache bool     `json:"skip_cache"`
}

// Flags is the feature-flag fingerprint used in cache keys.
func (c PromptConfig) Flags() string {
	return fmt.Sprintf("O1:%t,EB1:%t", c.UseO1, c.UseEB1)
}

// Payload is the dispatch message on the analysis topic.
type Payload struct {
	TaskID        string             `json:"task_id"`
	Source        string             `json:"source,omitempty"`
	UploadPath    string             `json:"upload_path,omitempty"`
	FileName      string             `json:"file_name,omitempty"`
	MimeType      string             `json:"mime_type,omitempty"`
	Credentials   *fetch.Credentials `json:"credentials,omitempty"`
	Prompt        PromptConfig       `json:"prompt"`
	CorrelationID string             `json:"correlation_id,omitempty"`
}

// Redacted drops credentials before the payload is stored.
func (p Payload) Redacted() Payload {
	p.Credentials = nil
	return p
}

package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docproof/apps/backend/internal/fetch"
)

var allStatuses = []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled}

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCanceled, true},
		{StatusPending, StatusSucceeded, false},
		{StatusRunning, StatusSucceeded, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCanceled, true},
		{StatusRunning, StatusPending, false},
	}

	for _, tt := range tests {
		task := &Task{Status: tt.from}
		err := task.Transition(tt.to)
		if tt.ok {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
			assert.Equal(t, tt.to, task.Status)
		} else {
			assert.True(t, errors.Is(err, ErrIllegalTransition), "%s -> %s", tt.from, tt.to)
			assert.Equal(t, tt.from, task.Status)
		}
	}
}

func TestTransition_TerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range allStatuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range allStatuses {
			task := &Task{Status: from, Progress: 42}
			err := task.Transition(to)
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, ErrIllegalTransition))
			assert.Equal(t, from, task.Status)
			assert.Equal(t, 42, task.Progress)
		}
	}
}

func TestTransition_SuccessCompletesProgress(t *testing.T) {
	task := &Task{Status: StatusRunning, Progress: 90}
	require.NoError(t, task.Transition(StatusSucceeded))
	assert.Equal(t, 100, task.Progress)
}

func TestAdvance(t *testing.T) {
	task := &Task{Status: StatusRunning}

	task.Advance(25, "fetched")
	assert.Equal(t, 25, task.Progress)
	assert.Equal(t, "fetched", task.Stage)

	task.Advance(10, "retry")
	assert.Equal(t, 25, task.Progress, "progress never moves backwards")
	assert.Equal(t, "retry", task.Stage)

	task.Advance(150, "done")
	assert.Equal(t, 100, task.Progress)

	done := &Task{Status: StatusCanceled, Progress: 40, Stage: "extracted"}
	done.Advance(60, "prompt_built")
	assert.Equal(t, 40, done.Progress)
	assert.Equal(t, "extracted", done.Stage)
}

func TestPromptConfig_Flags(t *testing.T) {
	assert.Equal(t, "O1:false,EB1:false", PromptConfig{}.Flags())
	assert.Equal(t, "O1:true,EB1:false", PromptConfig{UseO1: true, Override: "ignored"}.Flags())
	assert.Equal(t, "O1:true,EB1:true", PromptConfig{UseO1: true, UseEB1: true}.Flags())
}

func TestPayload_Redacted(t *testing.T) {
	p := Payload{TaskID: "t1", Source: "abc", Credentials: &fetch.Credentials{AccessToken: "secret"}}
	r := p.Redacted()
	assert.Nil(t, r.Credentials)
	assert.Equal(t, "abc", r.Source)
	assert.NotNil(t, p.Credentials, "original is untouched")
}

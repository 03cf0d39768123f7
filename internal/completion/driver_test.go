package completion_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docproof/apps/backend/internal/completion"
	"docproof/apps/backend/internal/text"
)

type MockModel struct{ mock.Mock }

func (m *MockModel) GenerateStream(ctx context.Context, req completion.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockModel) Generate(ctx context.Context, req completion.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func fastPolicies() completion.Policies {
	return completion.Policies{
		Stream:   completion.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 10 * time.Millisecond},
		Fallback: completion.Backoff{Attempts: 2, Initial: time.Millisecond, Max: 5 * time.Millisecond},
		Chunk:    completion.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 8 * time.Millisecond},
	}
}

const oneFinding = `[{"error_type":"Spelling","location_context":"first paragraph","original_text":"recieve","suggestion":"receive","page":2}]`

type retryCall struct {
	mode    string
	attempt int
	delay   time.Duration
}

func TestDriver_Analyze(t *testing.T) {
	t.Run("Streaming success", func(t *testing.T) {
		m := new(MockModel)
		m.On("GenerateStream", mock.Anything, completion.Request{
			SystemInstructions: "sys",
			Content:            "Analyze this document:\n\nbody",
		}).Return(oneFinding, nil).Once()

		findings, err := completion.NewDriver(m, fastPolicies()).Analyze(context.Background(), "sys", "body", nil)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, completion.Finding{
			ErrorType: "Spelling", LocationContext: "first paragraph", OriginalText: "recieve", Suggestion: "receive", Page: 2,
		}, findings[0])
		m.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("Streaming retries report attempt and delay", func(t *testing.T) {
		m := new(MockModel)
		m.On("GenerateStream", mock.Anything, mock.Anything).Return("", errors.New("internal error")).Twice()
		m.On("GenerateStream", mock.Anything, mock.Anything).Return("[]", nil).Once()

		var calls []retryCall
		findings, err := completion.NewDriver(m, fastPolicies()).Analyze(context.Background(), "sys", "body", func(mode string, attempt int, delay time.Duration) {
			calls = append(calls, retryCall{mode, attempt, delay})
		})
		require.NoError(t, err)
		assert.Empty(t, findings)
		assert.Equal(t, []retryCall{
			{"stream", 1, time.Millisecond},
			{"stream", 2, 2 * time.Millisecond},
		}, calls)
	})

	t.Run("Fallback succeeds after streaming is exhausted", func(t *testing.T) {
		m := new(MockModel)
		m.On("GenerateStream", mock.Anything, mock.Anything).Return("", errors.New("stream reset")).Times(3)
		m.On("Generate", mock.Anything, mock.Anything).Return(oneFinding, nil).Once()

		findings, err := completion.NewDriver(m, fastPolicies()).Analyze(context.Background(), "sys", "body", nil)
		require.NoError(t, err)
		assert.Len(t, findings, 1)
		m.AssertNumberOfCalls(t, "GenerateStream", 3)
		m.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("Network failures are summarized", func(t *testing.T) {
		m := new(MockModel)
		streamErr := errors.New("Server disconnected without sending a response")
		fallbackErr := errors.New("remote end closed connection")
		m.On("GenerateStream", mock.Anything, mock.Anything).Return("", streamErr).Times(3)
		m.On("Generate", mock.Anything, mock.Anything).Return("", fallbackErr).Times(2)

		_, err := completion.NewDriver(m, fastPolicies()).Analyze(context.Background(), "sys", "body", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, completion.ErrCompletionFailed))
		assert.Equal(t, "connection to the completion service failed after 5 attempts (3 streaming + 2 non-streaming)", err.Error())
		assert.NotContains(t, err.Error(), "remote end")

		var exhausted *completion.ExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, fallbackErr, exhausted.Last)
		m.AssertNumberOfCalls(t, "GenerateStream", 3)
		m.AssertNumberOfCalls(t, "Generate", 2)
	})

	t.Run("Non-network failure is surfaced verbatim", func(t *testing.T) {
		m := new(MockModel)
		m.On("GenerateStream", mock.Anything, mock.Anything).Return("", errors.New("stream failed")).Times(3)
		m.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("API key not valid. Please pass a valid API key.")).Times(2)

		_, err := completion.NewDriver(m, fastPolicies()).Analyze(context.Background(), "sys", "body", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, completion.ErrCompletionFailed))
		assert.Equal(t, "API key not valid. Please pass a valid API key.", err.Error())
	})

	t.Run("Malformed body fails the call", func(t *testing.T) {
		m := new(MockModel)
		m.On("GenerateStream", mock.Anything, mock.Anything).Return("I found no issues!", nil).Once()

		_, err := completion.NewDriver(m, fastPolicies()).Analyze(context.Background(), "sys", "body", nil)
		assert.True(t, errors.Is(err, completion.ErrCompletionFailed))
		assert.True(t, errors.Is(err, completion.ErrMalformedResponse))
	})

	t.Run("Canceled context stops retries", func(t *testing.T) {
		m := new(MockModel)
		ctx, cancel := context.WithCancel(context.Background())
		m.On("GenerateStream", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return("", errors.New("boom")).Once()

		_, err := completion.NewDriver(m, fastPolicies()).Analyze(ctx, "sys", "body", nil)
		assert.True(t, errors.Is(err, completion.ErrCompletionFailed))
		assert.True(t, errors.Is(err, context.Canceled))
		m.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})
}

func TestDriver_AnalyzeChunks(t *testing.T) {
	chunks := []text.Chunk{
		{Index: 0, Total: 3, Text: "chunk-a"},
		{Index: 1, Total: 3, Text: "chunk-b"},
		{Index: 2, Total: 3, Text: "chunk-c"},
	}
	forChunk := func(name string, part int) interface{} {
		return mock.MatchedBy(func(r completion.Request) bool {
			return strings.HasSuffix(r.Content, name) &&
				strings.HasSuffix(r.SystemInstructions, "part "+string(rune('0'+part))+" of 3 of a larger document.")
		})
	}

	t.Run("Invalid chunk response is dropped", func(t *testing.T) {
		m := new(MockModel)
		m.On("Generate", mock.Anything, forChunk("chunk-a", 1)).Return(`[{"error_type":"A","location_context":"l","original_text":"o","suggestion":"s","page":1}]`, nil).Once()
		m.On("Generate", mock.Anything, forChunk("chunk-b", 2)).Return(`{not json`, nil).Once()
		m.On("Generate", mock.Anything, forChunk("chunk-c", 3)).Return(`[{"error_type":"C","location_context":"l","original_text":"o","suggestion":"s","page":9}]`, nil).Once()

		var seen []int
		findings, err := completion.NewDriver(m, fastPolicies()).AnalyzeChunks(context.Background(), "sys", chunks, func(c text.Chunk) {
			seen = append(seen, c.Index)
		}, nil)
		require.NoError(t, err)
		require.Len(t, findings, 2)
		assert.Equal(t, "A", findings[0].ErrorType)
		assert.Equal(t, "C", findings[1].ErrorType)
		assert.Equal(t, []int{0, 1, 2}, seen)
		m.AssertNotCalled(t, "GenerateStream", mock.Anything, mock.Anything)
		m.AssertExpectations(t)
	})

	t.Run("Chunk retries then skip", func(t *testing.T) {
		m := new(MockModel)
		m.On("Generate", mock.Anything, forChunk("chunk-a", 1)).Return("", errors.New("quota")).Times(3)
		m.On("Generate", mock.Anything, forChunk("chunk-b", 2)).Return("[]", nil).Once()
		m.On("Generate", mock.Anything, forChunk("chunk-c", 3)).Return(oneFinding, nil).Once()

		findings, err := completion.NewDriver(m, fastPolicies()).AnalyzeChunks(context.Background(), "sys", chunks, nil, nil)
		require.NoError(t, err)
		assert.Len(t, findings, 1)
		m.AssertExpectations(t)
	})

	t.Run("All chunks failing is an error", func(t *testing.T) {
		m := new(MockModel)
		m.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

		_, err := completion.NewDriver(m, fastPolicies()).AnalyzeChunks(context.Background(), "sys", chunks, nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, completion.ErrCompletionFailed))
		assert.Equal(t, "connection to the completion service failed for all 3 chunks", err.Error())
		m.AssertNumberOfCalls(t, "Generate", 9)
	})
}

func TestParseFindings(t *testing.T) {
	t.Run("Fenced body", func(t *testing.T) {
		findings, dropped, err := completion.ParseFindings("```json\n" + oneFinding + "\n```")
		require.NoError(t, err)
		assert.Zero(t, dropped)
		assert.Len(t, findings, 1)
	})

	t.Run("Invalid elements are dropped", func(t *testing.T) {
		body := `[
			{"error_type":"A","location_context":"l","original_text":"o","suggestion":"s","page":1},
			{"error_type":"B","location_context":"l","original_text":"o","suggestion":"s"},
			{"error_type":"C","location_context":"l","original_text":"o","suggestion":"s","page":0},
			{"error_type":"D","location_context":"l","original_text":"o","suggestion":"s","page":"3"}
		]`
		findings, dropped, err := completion.ParseFindings(body)
		require.NoError(t, err)
		assert.Equal(t, 3, dropped)
		require.Len(t, findings, 1)
		assert.Equal(t, "A", findings[0].ErrorType)
	})

	t.Run("Not an array", func(t *testing.T) {
		_, _, err := completion.ParseFindings(`{"error_type":"A"}`)
		assert.True(t, errors.Is(err, completion.ErrMalformedResponse))
	})
}

func TestIsNetworkError(t *testing.T) {
	assert.True(t, completion.IsNetworkError(errors.New("Connection reset by peer")))
	assert.True(t, completion.IsNetworkError(errors.New("read TIMEOUT")))
	assert.True(t, completion.IsNetworkError(context.DeadlineExceeded))
	assert.False(t, completion.IsNetworkError(errors.New("invalid argument")))
	assert.False(t, completion.IsNetworkError(nil))
}

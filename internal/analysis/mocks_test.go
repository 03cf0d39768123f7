package analysis_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"docproof/apps/backend/features/history"
	"docproof/apps/backend/features/task"
	"docproof/apps/backend/internal/cache"
	"docproof/apps/backend/internal/completion"
	"docproof/apps/backend/internal/fetch"
	"docproof/apps/backend/internal/progress"
	"docproof/apps/backend/internal/source"
	"docproof/apps/backend/internal/text"
)

// journal records side effects across fakes in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

type fakeTasks struct {
	log *journal
	// inactiveAt makes Update report a concurrent cancellation once the task
	// reaches this stage.
	inactiveAt string
	// successFailures is how many writes of a succeeded task fail before
	// one goes through.
	successFailures int
	updates         []task.Task
}

func (f *fakeTasks) Update(ctx context.Context, t *task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.inactiveAt != "" && t.Stage == f.inactiveAt {
		return task.ErrTaskInactive
	}
	if t.Status == task.StatusSucceeded && f.successFailures > 0 {
		f.successFailures--
		return errors.New("connection reset by peer")
	}
	f.updates = append(f.updates, *t)
	f.log.add("task:%s:%d", t.Status, t.Progress)
	return nil
}

func (f *fakeTasks) progressions() []int {
	var out []int
	for _, u := range f.updates {
		out = append(out, u.Progress)
	}
	return out
}

type fakeResults struct {
	log   *journal
	err   error
	saved []*history.AnalysisResult
}

func (f *fakeResults) Save(ctx context.Context, r *history.AnalysisResult) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, r)
	f.log.add("result:%s", r.TaskID)
	return nil
}

type fakePublisher struct {
	err    error
	events []progress.Event
}

func (f *fakePublisher) Publish(topic string, body []byte) error {
	var e progress.Event
	if err := json.Unmarshal(body, &e); err == nil {
		f.events = append(f.events, e)
	}
	return f.err
}

func (f *fakePublisher) last() progress.Event {
	return f.events[len(f.events)-1]
}

type MockFetcher struct{ mock.Mock }

func (m *MockFetcher) Fetch(ctx context.Context, ref source.Reference, creds *fetch.Credentials, status fetch.StatusFunc) (*fetch.RawDocument, error) {
	args := m.Called(ctx, ref, creds, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fetch.RawDocument), args.Error(1)
}

type MockCompleter struct{ mock.Mock }

func (m *MockCompleter) Analyze(ctx context.Context, system, body string, onRetry completion.RetryFunc) ([]completion.Finding, error) {
	args := m.Called(ctx, system, body, onRetry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]completion.Finding), args.Error(1)
}

func (m *MockCompleter) AnalyzeChunks(ctx context.Context, system string, chunks []text.Chunk, onChunk completion.ChunkFunc, onRetry completion.RetryFunc) ([]completion.Finding, error) {
	args := m.Called(ctx, system, chunks, onChunk, onRetry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]completion.Finding), args.Error(1)
}

type MockModel struct{ mock.Mock }

func (m *MockModel) GenerateStream(ctx context.Context, req completion.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockModel) Generate(ctx context.Context, req completion.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type MockCache struct{ mock.Mock }

func (m *MockCache) Lookup(ctx context.Context, key cache.Key) ([]completion.Finding, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]completion.Finding), args.Bool(1), args.Error(2)
}

func (m *MockCache) Store(ctx context.Context, key cache.Key, findings []completion.Finding) error {
	return m.Called(ctx, key, findings).Error(0)
}

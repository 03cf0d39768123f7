package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"docproof/apps/backend/features/history"
	"docproof/apps/backend/features/task"
	"docproof/apps/backend/internal/cache"
	"docproof/apps/backend/internal/completion"
	"docproof/apps/backend/internal/config"
	"docproof/apps/backend/internal/extract"
	"docproof/apps/backend/internal/fetch"
	"docproof/apps/backend/internal/middleware"
	"docproof/apps/backend/internal/progress"
	"docproof/apps/backend/internal/prompt"
	"docproof/apps/backend/internal/source"
	"docproof/apps/backend/internal/text"
)

// Milestones reported while a task runs.
const (
	StageStarted     = "started"
	StageFetched     = "fetched"
	StageExtracted   = "extracted"
	StagePromptBuilt = "prompt_built"
	StageCompletion  = "completion"
	StageDone        = "done"
	StageFailed      = "failed"
	StageCanceled    = "canceled"
)

var milestones = map[string]int{
	StageStarted:     10,
	StageFetched:     25,
	StageExtracted:   40,
	StagePromptBuilt: 60,
	StageCompletion:  90,
	StageDone:        100,
}

type TaskStore interface {
	Update(ctx context.Context, t *task.Task) error
}

type ResultStore interface {
	Save(ctx context.Context, r *history.AnalysisResult) error
}

type Fetcher interface {
	Fetch(ctx context.Context, ref source.Reference, creds *fetch.Credentials, status fetch.StatusFunc) (*fetch.RawDocument, error)
}

type Extractor interface {
	Extract(ctx context.Context, doc *fetch.RawDocument) (*extract.PagedText, error)
}

type Completer interface {
	Analyze(ctx context.Context, system, body string, onRetry completion.RetryFunc) ([]completion.Finding, error)
	AnalyzeChunks(ctx context.Context, system string, chunks []text.Chunk, onChunk completion.ChunkFunc, onRetry completion.RetryFunc) ([]completion.Finding, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Request is everything one run needs besides the task itself.
type Request struct {
	Ref         source.Reference
	Credentials *fetch.Credentials
	Prompt      task.PromptConfig
}

type Pipeline struct {
	tasks     TaskStore
	results   ResultStore
	fetcher   Fetcher
	extractor Extractor
	driver    Completer
	cache     cache.Cache
	pub       EventPublisher
	maxChunk  int
	now       func() time.Time
}

type Option func(*Pipeline)

// WithCache enables result reuse for identical requests.
func WithCache(c cache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

func WithMaxChunkChars(n int) Option {
	return func(p *Pipeline) { p.maxChunk = n }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(tasks TaskStore, results ResultStore, f Fetcher, e Extractor, d Completer, pub EventPublisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		tasks:     tasks,
		results:   results,
		fetcher:   f,
		extractor: e,
		driver:    d,
		pub:       pub,
		maxChunk:  text.DefaultMaxChunkChars,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SystemPrompt builds the instructions for cfg. An override replaces the base
// text; knowledge blocks are appended either way.
func (p *Pipeline) SystemPrompt(cfg task.PromptConfig) string {
	if cfg.Override != "" {
		return prompt.Compose(cfg.Override, p.now(), cfg.Knowledge...)
	}
	return prompt.Build(p.now(), cfg.Knowledge...)
}

// Execute runs fetch, extract, chunk and completion for t in order and
// records the outcome. It is the only place pipeline errors are caught: any
// stage failure moves t to failed with progress left at the last milestone.
// A task canceled meanwhile stops at the next milestone with ErrTaskInactive.
func (p *Pipeline) Execute(ctx context.Context, t *task.Task, req Request) error {
	ctx = middleware.WithTaskID(ctx, t.ID)
	start := time.Now()

	if err := t.Transition(task.StatusRunning); err != nil {
		return err
	}
	if err := p.milestone(ctx, t, StageStarted, "Analysis started"); err != nil {
		return p.finish(ctx, t, err)
	}

	system := p.SystemPrompt(req.Prompt)
	key := cache.NewKey(req.Ref.Identity(), system, req.Prompt.Flags())

	findings, cached, err := p.lookup(ctx, key, req.Prompt)
	if err != nil {
		return p.finish(ctx, t, err)
	}

	fileName := req.Ref.FileName
	if !cached {
		var name string
		findings, name, err = p.analyze(ctx, t, req, system)
		if err != nil {
			return p.finish(ctx, t, err)
		}
		if fileName == "" {
			fileName = name
		}
		p.store(ctx, key, findings)
	}

	res := &history.AnalysisResult{
		TaskID:      t.ID,
		SourceType:  string(req.Ref.Kind),
		DocumentRef: req.Ref.Display(),
		FileName:    fileName,
		Findings:    findings,
		FromCache:   cached,
	}
	if res.Findings == nil {
		res.Findings = []completion.Finding{}
	}
	if err := p.results.Save(ctx, res); err != nil {
		return p.finish(ctx, t, fmt.Errorf("%w: save analysis result: %w", task.ErrPersistenceFailed, err))
	}

	running := *t
	if err := t.Transition(task.StatusSucceeded); err != nil {
		return p.finish(ctx, t, err)
	}
	t.Stage = StageDone
	if err := p.persistTerminal(ctx, t); err != nil {
		*t = running
		if errors.Is(err, task.ErrTaskInactive) {
			return p.finish(ctx, t, err)
		}
		return p.finish(ctx, t, fmt.Errorf("%w: record task success: %w", task.ErrPersistenceFailed, err))
	}

	slog.InfoContext(ctx, "analysis completed", "findings", len(findings), "cached", cached, "duration", time.Since(start))
	p.publish(ctx, t, StageDone, fmt.Sprintf("Found %d issues", len(findings)), true)
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, t *task.Task, req Request, system string) ([]completion.Finding, string, error) {
	raw, err := p.fetcher.Fetch(ctx, req.Ref, req.Credentials, func(msg string) {
		p.publish(ctx, t, "fetching", msg, false)
	})
	if err != nil {
		return nil, "", err
	}
	if err := p.milestone(ctx, t, StageFetched, "Document fetched"); err != nil {
		return nil, "", err
	}

	paged, err := p.extractor.Extract(ctx, raw)
	if err != nil {
		return nil, "", err
	}
	name := raw.Name

	if err := p.milestone(ctx, t, StageExtracted, fmt.Sprintf("Extracted %d pages", len(paged.Pages))); err != nil {
		return nil, "", err
	}

	body := paged.Flatten()
	chunks := text.Split(body, p.maxChunk)

	if err := p.milestone(ctx, t, StagePromptBuilt, "Prompt prepared"); err != nil {
		return nil, "", err
	}

	onRetry := func(mode string, attempt int, delay time.Duration) {
		p.publish(ctx, t, StageCompletion, fmt.Sprintf("Retrying %s request (attempt %d) in %s", mode, attempt, delay), false)
	}

	var findings []completion.Finding
	if len(chunks) == 1 {
		if err := p.milestone(ctx, t, StageCompletion, "Analyzing document"); err != nil {
			return nil, "", err
		}
		findings, err = p.driver.Analyze(ctx, system, body, onRetry)
	} else {
		if err := p.milestone(ctx, t, StageCompletion, fmt.Sprintf("Document split into %d parts", len(chunks))); err != nil {
			return nil, "", err
		}
		findings, err = p.driver.AnalyzeChunks(ctx, system, chunks, func(c text.Chunk) {
			p.publish(ctx, t, StageCompletion, fmt.Sprintf("Analyzing part %d of %d", c.Index+1, c.Total), false)
		}, onRetry)
	}
	if err != nil {
		return nil, "", err
	}
	return findings, name, nil
}

func (p *Pipeline) lookup(ctx context.Context, key cache.Key, cfg task.PromptConfig) ([]completion.Finding, bool, error) {
	if p.cache == nil || cfg.SkipCache {
		return nil, false, nil
	}
	findings, ok, err := p.cache.Lookup(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "cache lookup failed, analyzing", "error", err)
		return nil, false, nil
	}
	if ok {
		slog.InfoContext(ctx, "cache hit", "doc_ref", key.DocRef, "flags", key.Flags)
	}
	return findings, ok, nil
}

func (p *Pipeline) store(ctx context.Context, key cache.Key, findings []completion.Finding) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Store(ctx, key, findings); err != nil {
		slog.WarnContext(ctx, "failed to cache analysis result", "error", err)
	}
}

// milestone advances and persists t. Only a concurrent cancellation stops
// the run; other persistence errors are logged.
func (p *Pipeline) milestone(ctx context.Context, t *task.Task, stage, msg string) error {
	t.Advance(milestones[stage], stage)
	if err := p.tasks.Update(ctx, t); err != nil {
		if errors.Is(err, task.ErrTaskInactive) {
			return err
		}
		slog.WarnContext(ctx, "failed to persist progress", "stage", stage, "error", err)
	}
	p.publish(ctx, t, stage, msg, false)
	return nil
}

// Fail records err on t without running the pipeline, for tasks whose input
// could not be prepared.
func (p *Pipeline) Fail(ctx context.Context, t *task.Task, err error) error {
	return p.finish(middleware.WithTaskID(ctx, t.ID), t, err)
}

func (p *Pipeline) finish(ctx context.Context, t *task.Task, cause error) error {
	if errors.Is(cause, task.ErrTaskInactive) {
		slog.InfoContext(ctx, "task no longer active, stopping", "progress", t.Progress)
		// The stored row is already terminal; mirror it.
		t.Status = task.StatusCanceled
		p.publish(ctx, t, StageCanceled, "Analysis canceled", true)
		return cause
	}

	slog.ErrorContext(ctx, "analysis failed", "stage", t.Stage, "progress", t.Progress, "error", cause)

	t.Error = cause.Error()
	if err := t.Transition(task.StatusFailed); err != nil {
		slog.WarnContext(ctx, "cannot mark task failed", "status", t.Status, "error", err)
		return cause
	}
	t.Stage = StageFailed
	if err := p.persistTerminal(ctx, t); err != nil {
		slog.ErrorContext(ctx, "failed to record task failure", "error", err)
	}
	p.publish(ctx, t, StageFailed, t.Error, true)
	return cause
}

const (
	terminalWriteTimeout  = 10 * time.Second
	terminalWriteAttempts = 3
	terminalWriteDelay    = 200 * time.Millisecond
)

// persistTerminal writes a final status. The run context may already be
// done, so the write gets its own deadline.
func (p *Pipeline) persistTerminal(ctx context.Context, t *task.Task) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(terminalWriteDelay), terminalWriteAttempts-1), ctx)
	return backoff.RetryNotify(func() error {
		err := p.tasks.Update(ctx, t)
		if errors.Is(err, task.ErrTaskInactive) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, delay time.Duration) {
		slog.WarnContext(ctx, "retrying terminal task update", "status", t.Status, "delay", delay, "error", err)
	})
}

// publish is fire-and-forget.
func (p *Pipeline) publish(ctx context.Context, t *task.Task, stage, msg string, terminal bool) {
	if p.pub == nil {
		return
	}
	body, err := json.Marshal(progress.Event{
		TaskID:        t.ID,
		Progress:      t.Progress,
		Stage:         stage,
		Message:       msg,
		Terminal:      terminal,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return
	}
	if err := p.pub.Publish(config.TopicAnalysisProgress, body); err != nil {
		slog.WarnContext(ctx, "failed to publish progress", "stage", stage, "error", err)
	}
}

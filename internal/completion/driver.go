package completion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"docproof/apps/backend/internal/text"
)

// Request is one call to the model. The response schema and sampling
// parameters are fixed by the Model implementation.
type Request struct {
	SystemInstructions string
	Content            string
}

// Model is an LLM that answers with a JSON array of findings.
type Model interface {
	// GenerateStream accumulates streamed deltas into the full body.
	GenerateStream(ctx context.Context, req Request) (string, error)
	Generate(ctx context.Context, req Request) (string, error)
}

// RetryFunc is told about every scheduled retry before the driver sleeps.
type RetryFunc func(mode string, attempt int, delay time.Duration)

// ChunkFunc is called before each chunk is sent.
type ChunkFunc func(c text.Chunk)

type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

type Policies struct {
	Stream   Backoff
	Fallback Backoff
	Chunk    Backoff
}

func DefaultPolicies() Policies {
	return Policies{
		Stream:   Backoff{Attempts: 3, Initial: time.Second, Max: 10 * time.Second},
		Fallback: Backoff{Attempts: 2, Initial: time.Second, Max: 5 * time.Second},
		Chunk:    Backoff{Attempts: 3, Initial: time.Second, Max: 8 * time.Second},
	}
}

func (p Backoff) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

const (
	modeStream   = "stream"
	modeFallback = "fallback"
	modeChunk    = "chunk"
)

type Driver struct {
	model    Model
	policies Policies
}

func NewDriver(model Model, policies Policies) *Driver {
	return &Driver{model: model, policies: policies}
}

func userContent(body string) string {
	return "Analyze this document:\n\n" + body
}

// Analyze sends the whole document, streaming first and falling back to a
// blocking call once streaming retries are spent.
func (d *Driver) Analyze(ctx context.Context, system, body string, onRetry RetryFunc) ([]Finding, error) {
	req := Request{SystemInstructions: system, Content: userContent(body)}

	raw, err := d.complete(ctx, req, onRetry)
	if err != nil {
		return nil, err
	}

	findings, dropped, err := ParseFindings(raw)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	if dropped > 0 {
		slog.WarnContext(ctx, "dropped findings that failed schema validation", "dropped", dropped)
	}
	return findings, nil
}

func (d *Driver) complete(ctx context.Context, req Request, onRetry RetryFunc) (string, error) {
	raw, streamErr := d.retry(ctx, modeStream, d.policies.Stream, onRetry, func() (string, error) {
		return d.model.GenerateStream(ctx, req)
	})
	if streamErr == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletionFailed, ctx.Err())
	}

	slog.WarnContext(ctx, "streaming completion exhausted, falling back to non-streaming",
		"attempts", d.policies.Stream.Attempts, "network", IsNetworkError(streamErr), "error", streamErr)

	raw, err := d.retry(ctx, modeFallback, d.policies.Fallback, onRetry, func() (string, error) {
		return d.model.Generate(ctx, req)
	})
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletionFailed, ctx.Err())
	}

	if !IsNetworkError(err) {
		return "", &ProviderError{Err: err}
	}

	s, f := d.policies.Stream.Attempts, d.policies.Fallback.Attempts
	return "", &ExhaustedError{
		Summary: fmt.Sprintf("connection to the completion service failed after %d attempts (%d streaming + %d non-streaming)", s+f, s, f),
		Last:    err,
	}
}

// AnalyzeChunks drives each chunk through a blocking call, in order. A chunk
// whose response cannot be parsed, or whose retries run out, is logged and
// skipped. The call fails only when every chunk failed at the provider.
func (d *Driver) AnalyzeChunks(ctx context.Context, system string, chunks []text.Chunk, onChunk ChunkFunc, onRetry RetryFunc) ([]Finding, error) {
	var (
		all     []Finding
		failed  int
		lastErr error
	)

	for _, c := range chunks {
		if onChunk != nil {
			onChunk(c)
		}

		req := Request{SystemInstructions: system + c.ContinuationNote(), Content: userContent(c.Text)}
		raw, err := d.retry(ctx, modeChunk, d.policies.Chunk, onRetry, func() (string, error) {
			return d.model.Generate(ctx, req)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrCompletionFailed, ctx.Err())
			}
			failed++
			lastErr = err
			slog.ErrorContext(ctx, "chunk completion failed, skipping", "chunk", c.Index+1, "total", c.Total, "error", err)
			continue
		}

		findings, dropped, err := ParseFindings(raw)
		if err != nil {
			slog.WarnContext(ctx, "chunk response is not valid JSON, dropping its findings", "chunk", c.Index+1, "total", c.Total, "error", err)
			continue
		}
		if dropped > 0 {
			slog.WarnContext(ctx, "dropped findings that failed schema validation", "chunk", c.Index+1, "dropped", dropped)
		}
		all = append(all, findings...)
	}

	if len(chunks) > 0 && failed == len(chunks) {
		if IsNetworkError(lastErr) {
			return nil, &ExhaustedError{
				Summary: fmt.Sprintf("connection to the completion service failed for all %d chunks", len(chunks)),
				Last:    lastErr,
			}
		}
		return nil, &ProviderError{Err: lastErr}
	}

	return all, nil
}

func (d *Driver) retry(ctx context.Context, mode string, p Backoff, onRetry RetryFunc, op func() (string, error)) (string, error) {
	var (
		out      string
		attempts int
	)

	err := backoff.RetryNotify(func() error {
		attempts++
		s, err := op()
		if err != nil {
			return err
		}
		out = s
		return nil
	}, p.policy(ctx), func(err error, delay time.Duration) {
		slog.WarnContext(ctx, "completion retry scheduled", "mode", mode, "attempt", attempts, "delay", delay, "error", err)
		if onRetry != nil {
			onRetry(mode, attempts, delay)
		}
	})

	return out, err
}

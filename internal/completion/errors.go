package completion

import (
	"context"
	"errors"
	"net"
	"strings"
)

var ErrCompletionFailed = errors.New("completion failed")

// ProviderError carries a non-network provider failure. Its message is the
// provider's, unchanged.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return e.Err.Error() }

func (e *ProviderError) Unwrap() []error { return []error{ErrCompletionFailed, e.Err} }

// ExhaustedError summarizes a run of network failures without exposing the
// raw provider text. Last is kept for logs.
type ExhaustedError struct {
	Summary string
	Last    error
}

func (e *ExhaustedError) Error() string { return e.Summary }

func (e *ExhaustedError) Unwrap() []error { return []error{ErrCompletionFailed, e.Last} }

var networkKeywords = []string{"disconnected", "timeout", "connection", "remote"}

// IsNetworkError reports whether err looks like a transport failure.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range networkKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

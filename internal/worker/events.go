package worker

import "encoding/json"

// ResultEvent is published on the result topic once a task has left the
// analysis worker, whatever its outcome.
type ResultEvent struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	Progress      int    `json:"progress"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// OriginalPayload is the dispatch payload without credentials, kept so
	// a failed task can be retried.
	OriginalPayload json.RawMessage `json:"original_payload,omitempty"`
}

package worker

import (
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"docproof/apps/backend/internal/progress"
)

// ProgressConsumer relays progress events from the bus to local stream
// subscribers. Every API process needs its own channel on the topic.
type ProgressConsumer struct {
	sink EventSink
}

func NewProgressConsumer(s EventSink) *ProgressConsumer {
	return &ProgressConsumer{sink: s}
}

func (h *ProgressConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var e progress.Event
	if err := json.Unmarshal(m.Body, &e); err != nil {
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if e.TaskID == "" {
		return nil
	}

	if n := h.sink.Publish(e); n > 0 {
		slog.Debug("relayed progress event", "task_id", e.TaskID, "stage", e.Stage, "subscribers", n)
	}
	return nil
}

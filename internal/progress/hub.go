package progress

import (
	"sync"
)

// Event is one progress update for a task.
type Event struct {
	TaskID        string `json:"task_id"`
	Progress      int    `json:"progress"`
	Stage         string `json:"stage"`
	Message       string `json:"message,omitempty"`
	Terminal      bool   `json:"terminal,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

const subscriberBuffer = 32

// Hub fans progress events out to in-process subscribers keyed by task id.
// Publishing never blocks: a subscriber whose buffer is full misses events,
// except terminal ones, which replace the oldest buffered event.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for taskID and a function that
// unsubscribes and closes it.
func (h *Hub) Subscribe(taskID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[chan Event]struct{})
	}
	h.subs[taskID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[taskID], ch)
			if len(h.subs[taskID]) == 0 {
				delete(h.subs, taskID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to the current subscribers of e.TaskID and reports how
// many received it.
func (h *Hub) Publish(e Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.subs[e.TaskID] {
		if send(ch, e) {
			delivered++
		}
	}
	return delivered
}

func send(ch chan Event, e Event) bool {
	for i := 0; i <= subscriberBuffer; i++ {
		select {
		case ch <- e:
			return true
		default:
		}
		if !e.Terminal {
			return false
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}

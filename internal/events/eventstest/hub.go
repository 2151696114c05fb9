// Package eventstest provides an in-process broadcaster for tests that need
// live status streams without a Redis server.
package eventstest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// Buffer is the per-subscriber channel capacity.
const Buffer = 32

// Hub is an in-process broadcaster with the same delivery contract as the
// Redis one: best effort, at most once, no replay. A subscriber whose buffer
// is full misses the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan domain.StatusEvent]struct{}
	logger *slog.Logger
}

// NewHub creates an empty Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[chan domain.StatusEvent]struct{}),
		logger: logger,
	}
}

func (h *Hub) Publish(_ context.Context, topic string, event domain.StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[topic] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Subscriber lagging, event dropped",
				slog.String("topic", topic),
				slog.String("job_id", event.JobID),
			)
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan domain.StatusEvent, error) {
	ch := make(chan domain.StatusEvent, Buffer)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan domain.StatusEvent]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[topic], ch)
		close(ch)
		h.mu.Unlock()
	}()

	return ch, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

var _ domain.Broadcaster = (*Hub)(nil)

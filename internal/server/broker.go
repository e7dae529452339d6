package server

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ashita-ai/ichiba/internal/model"
)

// SSE event names.
const (
	eventEpoch  = "epoch"
	eventAnchor = "anchor"
)

// Broker fans committed epoch summaries out to SSE subscribers. Whatever
// runs epochs in-process calls Publish after each one.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a new SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts an epoch summary to every subscriber.
func (b *Broker) Publish(s model.EpochSummary) {
	payload, err := json.Marshal(s)
	if err != nil {
		b.logger.Warn("broker: marshal summary", "epoch", s.Epoch.Number, "error", err)
		return
	}
	b.broadcast(formatSSE(eventEpoch, strconv.Itoa(s.Epoch.Number), string(payload)))
}

// PublishAnchor broadcasts a late-attached anchor.
func (b *Broker) PublishAnchor(a model.EpochAnchor) {
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	b.broadcast(formatSSE(eventAnchor, "", string(payload)))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Subscribers returns the number of connected clients.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// broadcast sends an event to all subscribers. A subscriber whose buffer is
// full misses the event rather than stalling the others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("broker: subscriber buffer full, event dropped")
		}
	}
}

// formatSSE formats one Server-Sent Events message. id is omitted when empty.
func formatSSE(eventType, id, data string) []byte {
	msg := "event: " + eventType + "\n"
	if id != "" {
		msg += "id: " + id + "\n"
	}
	return []byte(msg + "data: " + data + "\n\n")
}

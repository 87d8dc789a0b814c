package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"pitalert/internal/domain"
	"pitalert/internal/metrics"
)

const (
	subscriberBuffer = 16
	defaultRecentCap = 50
)

// Broker fans out notification events to connected push subscribers and
// keeps a bounded ring of recent events for the polling fallback.
// Params: structured logger and recent-ring capacity.
// Returns: push delivery channel implementation.
type Broker struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	recent  []domain.NotificationEvent
	cap     int
}

// NewBroker creates push broker.
// Params: logger and recent history capacity; capacity <= 0 uses default.
// Returns: initialized broker.
func NewBroker(logger *slog.Logger, recentCap int) *Broker {
	if recentCap <= 0 {
		recentCap = defaultRecentCap
	}
	return &Broker{
		logger:  logger,
		clients: make(map[chan []byte]struct{}),
		recent:  make([]domain.NotificationEvent, 0, recentCap),
		cap:     recentCap,
	}
}

// Name returns channel name.
// Params: none.
// Returns: static channel key.
func (b *Broker) Name() string {
	return "push"
}

// Deliver broadcasts one event to all subscribers and records it in the
// recent ring. Slow subscribers are skipped rather than blocking delivery.
// Params: context and event payload.
// Returns: encoding error only; broadcast itself cannot fail.
func (b *Broker) Deliver(_ context.Context, event domain.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.recent = append(b.recent, event)
	if len(b.recent) > b.cap {
		b.recent = b.recent[len(b.recent)-b.cap:]
	}
	clients := make([]chan []byte, 0, len(b.clients))
	for ch := range b.clients {
		clients = append(clients, ch)
	}
	b.mu.Unlock()

	for _, ch := range clients {
		select {
		case ch <- payload:
		default:
			b.logger.Warn("push subscriber is slow, dropping event",
				"alert_id", event.AlertID)
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel.
// Params: none.
// Returns: buffered channel that receives encoded events.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	count := len(b.clients)
	b.mu.Unlock()
	metrics.PushSubscribers.Set(float64(count))
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is never closed:
// Deliver sends to its snapshot outside the lock, and a close here would
// turn a client disconnect during a broadcast into a send-on-closed panic.
// Readers exit via their request context instead.
// Params: channel previously returned by Subscribe.
// Returns: nothing.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if ch == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.clients[ch]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, ch)
	count := len(b.clients)
	b.mu.Unlock()
	metrics.PushSubscribers.Set(float64(count))
}

// Recent returns up to limit most recent events, newest first.
// Params: maximum number of events; limit <= 0 returns all retained.
// Returns: copy of the recent ring in reverse chronological order.
func (b *Broker) Recent(limit int) []domain.NotificationEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := len(b.recent)
	if limit <= 0 || limit > total {
		limit = total
	}
	out := make([]domain.NotificationEvent, 0, limit)
	for i := total - 1; i >= total-limit; i-- {
		out = append(out, b.recent[i])
	}
	return out
}

// SubscriberCount reports currently connected subscribers.
// Params: none.
// Returns: subscriber count.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

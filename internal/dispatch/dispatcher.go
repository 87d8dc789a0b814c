package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pitalert/internal/domain"
	"pitalert/internal/metrics"

	"github.com/google/uuid"
)

// Channel delivers notifications to one subscribed transport.
// Params: channel name and per-event delivery operation.
// Returns: delivery error for transient failures.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, event domain.NotificationEvent) error
}

// Producer enqueues notification events into an external delivery queue.
// Params: context and event payload.
// Returns: enqueue error.
type Producer interface {
	Enqueue(ctx context.Context, event domain.NotificationEvent) error
}

// Dispatcher fans out triggered events to all subscribed delivery channels.
// Dispatch never blocks rule evaluation: events go through a buffered queue
// worked by background goroutines, or through an external queue producer in
// cluster mode. Delivery is at-least-once per channel; the client cache
// dedup key absorbs duplicates downstream.
// Params: channels, queue capacity, worker count, and logger.
// Returns: asynchronous notification fan-out.
type Dispatcher struct {
	mu       sync.RWMutex
	channels []Channel
	producer Producer

	logger *slog.Logger
	queue  chan domain.NotificationEvent
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDispatcher creates dispatcher and starts its delivery workers.
// Params: logger, delivery channels, queue buffer size, and worker count.
// Returns: running dispatcher.
func NewDispatcher(logger *slog.Logger, channels []Channel, buffer, workers int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		channels: channels,
		logger:   logger,
		queue:    make(chan domain.NotificationEvent, buffer),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// SetProducer routes subsequent dispatches through an external queue.
// Params: queue producer (nil restores in-process delivery).
// Returns: none.
func (d *Dispatcher) SetProducer(producer Producer) {
	d.mu.Lock()
	d.producer = producer
	d.mu.Unlock()
}

// Dispatch constructs and enqueues one notification for a triggered rule.
// Params: triggered rule, trigger timestamp, and value in the rule unit.
// Returns: none; a saturated queue drops the event with a warning
// (at-least-once holds per accepted event, not across overload).
func (d *Dispatcher) Dispatch(rule domain.AlertRule, triggeredAt time.Time, value float64) {
	d.enqueue(domain.BuildNotification(rule, triggeredAt, value))
}

// DispatchTest sends one synthetic notification through the delivery path.
// Params: device and probe identifiers for the test payload.
// Returns: the synthetic event, for caller-side connectivity verification.
func (d *Dispatcher) DispatchTest(deviceID, probeID string) domain.NotificationEvent {
	event := domain.NotificationEvent{
		AlertID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Message:   "Test notification: delivery path is working",
		DeviceID:  deviceID,
		ProbeID:   probeID,
		Test:      true,
	}
	d.enqueue(event)
	return event
}

// enqueue hands one event to the producer or the in-process queue.
func (d *Dispatcher) enqueue(event domain.NotificationEvent) {
	d.mu.RLock()
	producer := d.producer
	d.mu.RUnlock()

	if producer != nil {
		if err := producer.Enqueue(context.Background(), event); err != nil {
			d.logger.Error("notify queue enqueue failed", "alert_id", event.AlertID, "error", err.Error())
		}
		return
	}

	select {
	case d.queue <- event:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
	default:
		d.logger.Warn("dispatch queue full, notification dropped", "alert_id", event.AlertID)
	}
}

// Deliver delivers one event to every subscribed channel.
// Params: context and event payload.
// Returns: nil; per-channel failures are logged and counted, never propagated
// to rule evaluation.
func (d *Dispatcher) Deliver(ctx context.Context, event domain.NotificationEvent) error {
	d.mu.RLock()
	channels := d.channels
	d.mu.RUnlock()

	for _, channel := range channels {
		if err := channel.Deliver(ctx, event); err != nil {
			metrics.NotificationsDispatchedTotal.WithLabelValues(channel.Name(), "failed").Inc()
			d.logger.Warn("channel delivery failed",
				"channel", channel.Name(), "alert_id", event.AlertID, "error", err.Error())
			continue
		}
		metrics.NotificationsDispatchedTotal.WithLabelValues(channel.Name(), "delivered").Inc()
	}
	return nil
}

// worker drains the in-process queue until Close.
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case event := <-d.queue:
			metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
			_ = d.Deliver(context.Background(), event)
		}
	}
}

// Close stops delivery workers.
// Params: none.
// Returns: nil after workers exit.
func (d *Dispatcher) Close() error {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
	return nil
}

package notifyqueue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"pitalert/internal/domain"
	"pitalert/internal/permanent"
)

// Job is one outbound notification task in the async delivery queue.
// Params: deterministic id and notification payload.
// Returns: queue unit consumed by delivery workers.
type Job struct {
	ID        string                   `json:"id"`
	Event     domain.NotificationEvent `json:"event"`
	CreatedAt time.Time                `json:"created_at"`
}

// BuildJobID creates deterministic id for one notification queue task.
// Derived from the event dedup key so broker-level redelivery suppression
// lines up with the client cache's idempotent insert.
// Params: notification payload.
// Returns: stable SHA1-based id string.
func BuildJobID(event domain.NotificationEvent) string {
	raw := fmt.Sprintf("%s|%d|%s|%s", event.AlertID, event.Timestamp.UnixNano(), event.DeviceID, event.ProbeID)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Producer enqueues notification delivery jobs.
// Params: context and event payload.
// Returns: enqueue error.
type Producer interface {
	Enqueue(ctx context.Context, event domain.NotificationEvent) error
	Close() error
}

// Worker consumes queued jobs and acknowledges delivery status.
// Params: close hook for shutdown lifecycle.
// Returns: queue worker lifecycle.
type Worker interface {
	Close() error
}

// MarkPermanent wraps error as permanent delivery failure.
// Params: source error.
// Returns: wrapped permanent error (or nil when input is nil).
func MarkPermanent(err error) error {
	return permanent.Mark(err)
}

// IsPermanent reports whether error is marked as non-retryable.
// Params: delivery error.
// Returns: true when worker must not retry.
func IsPermanent(err error) bool {
	return permanent.Is(err)
}

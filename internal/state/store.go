package state

import (
	"context"
	"errors"

	"pitalert/internal/domain"
)

var (
	// ErrNotFound indicates absent trigger record.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch or existing key for CAS write.
	ErrConflict = errors.New("revision conflict")
)

// Store provides trigger state persistence with revision compare-and-set.
// A lost CAS (ErrConflict) is the correctness mechanism for exactly-once
// trigger emission under concurrent evaluators, not a failure path.
// Params: CRUD operations for per-rule trigger records.
// Returns: backend persistence behavior.
type Store interface {
	Get(ctx context.Context, alertID string) (domain.TriggerRecord, uint64, error)
	Create(ctx context.Context, alertID string, record domain.TriggerRecord) (uint64, error)
	Update(ctx context.Context, alertID string, expectedRevision uint64, record domain.TriggerRecord) (uint64, error)
	Delete(ctx context.Context, alertID string) error
	Close() error
}

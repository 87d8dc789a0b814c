package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"pitalert/internal/domain"
)

func TestMemoryStoreCreateRejectsExistingKey(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	record := domain.TriggerRecord{AlertID: "a1", Phase: domain.PhaseIdle}

	rev, err := store.Create(ctx, "a1", record)
	if err != nil || rev != 1 {
		t.Fatalf("create: rev=%d err=%v", rev, err)
	}
	if _, err := store.Create(ctx, "a1", record); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate create, got %v", err)
	}
}

func TestMemoryStoreUpdateCAS(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	at := time.Now().UTC()
	record := domain.TriggerRecord{AlertID: "a1", Phase: domain.PhaseIdle, LastValueAt: at}

	rev, err := store.Create(ctx, "a1", record)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	record.Phase = domain.PhaseTriggered
	nextRev, err := store.Update(ctx, "a1", rev, record)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if nextRev != rev+1 {
		t.Fatalf("expected revision bump, got %d", nextRev)
	}

	// Stale revision must lose the race.
	if _, err := store.Update(ctx, "a1", rev, record); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale revision, got %v", err)
	}
	if _, err := store.Update(ctx, "missing", 1, record); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	stored, _, err := store.Get(ctx, "a1")
	if err != nil || stored.Phase != domain.PhaseTriggered {
		t.Fatalf("get after update: %+v %v", stored, err)
	}
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, "a1", domain.TriggerRecord{AlertID: "a1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Delete(ctx, "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "a1"); err != nil {
		t.Fatalf("second delete must be a no-op, got %v", err)
	}
	if _, _, err := store.Get(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"pitalert/internal/clock"
	"pitalert/internal/domain"
	"pitalert/internal/state"
)

func triggerDecision(value float64) domain.Decision {
	target := 165.0
	return domain.Decision{
		Rule: domain.AlertRule{
			ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "done",
			AlertType: domain.AlertTypeTarget, Unit: domain.UnitFahrenheit,
			TargetTemperature: &target, IsActive: true,
		},
		Kind:       domain.DecisionTrigger,
		Value:      value,
		ObservedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func clearDecision(value float64) domain.Decision {
	decision := triggerDecision(value)
	decision.Kind = domain.DecisionClear
	return decision
}

func TestTrackerTriggersExactlyOncePerExcursion(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := New(state.NewMemoryStore(), clock.NewFake(now))
	ctx := context.Background()

	first, err := tr.Apply(ctx, triggerDecision(168))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !first.Transitioned {
		t.Fatalf("expected first trigger to transition")
	}
	if first.Record.TriggeredAt == nil || !first.Record.TriggeredAt.Equal(now) {
		t.Fatalf("expected triggeredAt set to now, got %+v", first.Record)
	}

	// Repeated trigger decisions while triggered must not re-emit.
	second, err := tr.Apply(ctx, triggerDecision(170))
	if err != nil {
		t.Fatalf("apply repeat: %v", err)
	}
	if second.Transitioned {
		t.Fatalf("expected dedup by state, got transition")
	}
}

func TestTrackerClearReArmsRule(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := New(state.NewMemoryStore(), clock.NewFake(now))
	ctx := context.Background()

	if _, err := tr.Apply(ctx, triggerDecision(168)); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	cleared, err := tr.Apply(ctx, clearDecision(158))
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !cleared.Transitioned || cleared.Record.Phase != domain.PhaseIdle {
		t.Fatalf("expected clear transition to idle, got %+v", cleared)
	}
	if cleared.Record.TriggeredAt != nil {
		t.Fatalf("clear must drop triggeredAt")
	}

	// Re-armed rule triggers again on the next excursion.
	again, err := tr.Apply(ctx, triggerDecision(169))
	if err != nil {
		t.Fatalf("retrigger: %v", err)
	}
	if !again.Transitioned {
		t.Fatalf("expected second excursion to transition")
	}
}

func TestTrackerClearWithoutTriggerIsNoOp(t *testing.T) {
	t.Parallel()

	tr := New(state.NewMemoryStore(), clock.NewFake(time.Now().UTC()))
	outcome, err := tr.Apply(context.Background(), clearDecision(150))
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if outcome.Transitioned {
		t.Fatalf("clear while idle must be a no-op")
	}
}

func TestTrackerConcurrentWorkersDispatchOneTrigger(t *testing.T) {
	t.Parallel()

	tr := New(state.NewMemoryStore(), clock.NewFake(time.Now().UTC()))
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	transitions := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := tr.Apply(ctx, triggerDecision(168))
			if err != nil {
				t.Errorf("apply: %v", err)
				return
			}
			transitions <- outcome.Transitioned
		}()
	}
	wg.Wait()
	close(transitions)

	won := 0
	for transitioned := range transitions {
		if transitioned {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", won)
	}
}

func TestTrackerDiscardForgetsPriorTriggers(t *testing.T) {
	t.Parallel()

	tr := New(state.NewMemoryStore(), clock.NewFake(time.Now().UTC()))
	ctx := context.Background()

	if _, err := tr.Apply(ctx, triggerDecision(168)); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := tr.Discard(ctx, "r1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, ok := tr.Snapshot(ctx, "r1"); ok {
		t.Fatalf("expected no record after discard")
	}

	// Reactivated rule has no memory of prior excursions.
	outcome, err := tr.Apply(ctx, triggerDecision(168))
	if err != nil || !outcome.Transitioned {
		t.Fatalf("expected fresh trigger after discard, got %+v %v", outcome, err)
	}
}

func TestTrackerMarkNotified(t *testing.T) {
	t.Parallel()

	tr := New(state.NewMemoryStore(), clock.NewFake(time.Now().UTC()))
	ctx := context.Background()

	if _, err := tr.Apply(ctx, triggerDecision(168)); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	tr.MarkNotified(ctx, "r1")
	record, ok := tr.Snapshot(ctx, "r1")
	if !ok || !record.NotificationSent {
		t.Fatalf("expected notification marker, got %+v", record)
	}
	// Missing records are ignored.
	tr.MarkNotified(ctx, "missing")
}

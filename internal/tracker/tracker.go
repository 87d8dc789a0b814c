package tracker

import (
	"context"
	"errors"
	"fmt"

	"pitalert/internal/clock"
	"pitalert/internal/domain"
	"pitalert/internal/state"
)

// Outcome is one tracker transition result.
// Params: transition flag and the resulting trigger record.
// Returns: dispatch request signal for the manager.
type Outcome struct {
	Transitioned bool
	Record       domain.TriggerRecord
}

// Tracker owns the per-rule Idle/Triggered lifecycle.
// Transitions go through the store's revision CAS so a rule triggers exactly
// once per excursion regardless of concurrent evaluator workers; a lost CAS
// discards the losing decision silently.
// Params: trigger state backend and clock.
// Returns: idempotent transition application.
type Tracker struct {
	store state.Store
	clock clock.Clock
}

// New creates tracker over one state backend.
// Params: store backend and clock implementation.
// Returns: initialized tracker.
func New(store state.Store, clk clock.Clock) *Tracker {
	return &Tracker{store: store, clock: clk}
}

// Apply applies one evaluator decision to the rule trigger state.
// Params: context and evaluator decision.
// Returns: outcome with Transitioned=true only on the winning Idle->Triggered
// transition, or backend error for non-CAS failures.
func (t *Tracker) Apply(ctx context.Context, decision domain.Decision) (Outcome, error) {
	switch decision.Kind {
	case domain.DecisionTrigger:
		return t.applyTrigger(ctx, decision)
	case domain.DecisionClear:
		return t.applyClear(ctx, decision)
	default:
		return Outcome{}, nil
	}
}

// applyTrigger performs the Idle->Triggered transition with CAS.
func (t *Tracker) applyTrigger(ctx context.Context, decision domain.Decision) (Outcome, error) {
	now := t.clock.Now()
	alertID := decision.Rule.ID

	record, revision, err := t.store.Get(ctx, alertID)
	if errors.Is(err, state.ErrNotFound) {
		fresh := domain.TriggerRecord{
			AlertID:     alertID,
			Phase:       domain.PhaseTriggered,
			TriggeredAt: &now,
			LastValue:   decision.Value,
			LastValueAt: decision.ObservedAt,
		}
		if _, err := t.store.Create(ctx, alertID, fresh); err != nil {
			if errors.Is(err, state.ErrConflict) {
				// Race lost: another worker created the record first.
				return Outcome{}, nil
			}
			return Outcome{}, fmt.Errorf("create trigger record: %w", err)
		}
		return Outcome{Transitioned: true, Record: fresh}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get trigger record: %w", err)
	}

	if record.Phase == domain.PhaseTriggered {
		// Already triggered for this excursion; dedup by state.
		return Outcome{Record: record}, nil
	}

	record.Phase = domain.PhaseTriggered
	record.TriggeredAt = &now
	record.NotificationSent = false
	record.LastValue = decision.Value
	record.LastValueAt = decision.ObservedAt
	if _, err := t.store.Update(ctx, alertID, revision, record); err != nil {
		if errors.Is(err, state.ErrConflict) {
			return Outcome{}, nil
		}
		return Outcome{}, fmt.Errorf("update trigger record: %w", err)
	}
	return Outcome{Transitioned: true, Record: record}, nil
}

// applyClear performs the Triggered->Idle transition with CAS.
func (t *Tracker) applyClear(ctx context.Context, decision domain.Decision) (Outcome, error) {
	alertID := decision.Rule.ID

	record, revision, err := t.store.Get(ctx, alertID)
	if errors.Is(err, state.ErrNotFound) {
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get trigger record: %w", err)
	}
	if record.Phase != domain.PhaseTriggered {
		return Outcome{Record: record}, nil
	}

	record.Phase = domain.PhaseIdle
	record.TriggeredAt = nil
	record.NotificationSent = false
	record.LastValue = decision.Value
	record.LastValueAt = decision.ObservedAt
	if _, err := t.store.Update(ctx, alertID, revision, record); err != nil {
		if errors.Is(err, state.ErrConflict) {
			return Outcome{}, nil
		}
		return Outcome{}, fmt.Errorf("update trigger record: %w", err)
	}
	return Outcome{Transitioned: true, Record: record}, nil
}

// MarkNotified flags the current excursion as notified, best effort.
// Params: context and alert ID.
// Returns: none; CAS loss and missing records are ignored.
func (t *Tracker) MarkNotified(ctx context.Context, alertID string) {
	record, revision, err := t.store.Get(ctx, alertID)
	if err != nil || record.Phase != domain.PhaseTriggered || record.NotificationSent {
		return
	}
	record.NotificationSent = true
	_, _ = t.store.Update(ctx, alertID, revision, record)
}

// Discard removes trigger state for a deleted or deactivated rule.
// Params: context and rule ID.
// Returns: backend delete error.
func (t *Tracker) Discard(ctx context.Context, ruleID string) error {
	return t.store.Delete(ctx, ruleID)
}

// Snapshot reads the current trigger record for one rule.
// Params: context and rule ID.
// Returns: record copy and existence flag.
func (t *Tracker) Snapshot(ctx context.Context, ruleID string) (domain.TriggerRecord, bool) {
	record, _, err := t.store.Get(ctx, ruleID)
	if err != nil {
		return domain.TriggerRecord{}, false
	}
	return record, true
}

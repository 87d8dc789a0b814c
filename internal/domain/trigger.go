package domain

import "time"

// TriggerPhase is the per-rule lifecycle state.
// Params: idle/triggered phase constants.
// Returns: phase transitions for the trigger state tracker.
type TriggerPhase string

const (
	// PhaseIdle indicates the rule is armed and waiting for its condition.
	PhaseIdle TriggerPhase = "idle"
	// PhaseTriggered indicates the rule condition currently holds.
	PhaseTriggered TriggerPhase = "triggered"
)

// DecisionKind is one evaluator verdict for a rule against a reading.
// Params: no-change/trigger/clear constants.
// Returns: verdict consumed by the trigger state tracker.
type DecisionKind string

const (
	// DecisionNoChange keeps the current trigger phase.
	DecisionNoChange DecisionKind = "no_change"
	// DecisionTrigger requests the idle-to-triggered transition.
	DecisionTrigger DecisionKind = "trigger"
	// DecisionClear requests the triggered-to-idle transition.
	DecisionClear DecisionKind = "clear"
)

// Decision pairs one rule with its evaluation verdict for a reading.
// Params: evaluated rule, verdict, and the value normalized to the rule unit.
// Returns: deterministic evaluator output.
type Decision struct {
	Rule       AlertRule
	Kind       DecisionKind
	Value      float64
	ObservedAt time.Time
}

// TriggerRecord is the persisted trigger state for one rule.
// Params: phase, trigger timestamp, notification marker, and last reading snapshot.
// Returns: record stored with revision CAS by the state backend.
type TriggerRecord struct {
	AlertID          string       `json:"alert_id"`
	Phase            TriggerPhase `json:"phase"`
	TriggeredAt      *time.Time   `json:"triggered_at,omitempty"`
	NotificationSent bool         `json:"notification_sent"`
	LastValue        float64      `json:"last_value"`
	LastValueAt      time.Time    `json:"last_value_at"`
}

package engine

import (
	"sync"
	"time"

	"pitalert/internal/domain"
)

// defaultLookback bounds the rising/falling delta computation window.
const defaultLookback = 5 * time.Minute

// RuleSource provides active rules for one device/probe pair.
// Params: reading device and probe identifiers.
// Returns: applicable rule snapshot.
type RuleSource interface {
	ListActive(deviceID, probeID string) []domain.AlertRule
}

// WindowPoint stores one reading contribution in the rising/falling window.
// Params: reading timestamp and value in the rule unit.
// Returns: one window sample for delta rules.
type WindowPoint struct {
	At    time.Time
	Value float64
}

// evalState stores per-rule mutable evaluation context.
// Mutated only under its own lock so cross-rule evaluation stays parallel.
type evalState struct {
	mu        sync.Mutex
	lastValue *float64
	lastAt    time.Time
	excursion bool
	fromBelow bool
	window    []WindowPoint
	newestAt  time.Time
}

// Evaluator computes trigger decisions for readings against active rules.
// Params: rule source, per-rule evaluation states, and delta lookback window.
// Returns: deterministic decision stream for the trigger state tracker.
type Evaluator struct {
	mu       sync.RWMutex
	states   map[string]*evalState
	rules    RuleSource
	lookback time.Duration
}

// New constructs evaluator with empty runtime state.
// Params: rule source and delta lookback (<=0 selects the 5 minute default).
// Returns: initialized evaluator instance.
func New(rules RuleSource, lookback time.Duration) *Evaluator {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &Evaluator{
		states:   make(map[string]*evalState),
		rules:    rules,
		lookback: lookback,
	}
}

// SetLookback replaces the rising/falling lookback window.
// Params: new lookback duration (<=0 selects the default).
// Returns: none; applies to subsequent evaluations.
func (e *Evaluator) SetLookback(lookback time.Duration) {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	e.mu.Lock()
	e.lookback = lookback
	e.mu.Unlock()
}

// Evaluate evaluates one reading against all matching active rules.
// Params: validated probe reading.
// Returns: zero or more decisions; unmatched readings produce an empty slice.
func (e *Evaluator) Evaluate(reading domain.Reading) []domain.Decision {
	rules := e.rules.ListActive(reading.DeviceID, reading.ProbeID)
	if len(rules) == 0 {
		return nil
	}

	e.mu.RLock()
	lookback := e.lookback
	e.mu.RUnlock()

	at := reading.ReadingTime()
	decisions := make([]domain.Decision, 0, len(rules))
	for _, rule := range rules {
		value := reading.Unit.Convert(reading.Temperature, rule.Unit)
		state := e.ensureState(rule.ID)

		state.mu.Lock()
		kind := evaluateRule(state, rule, value, at, lookback)
		state.mu.Unlock()

		decisions = append(decisions, domain.Decision{
			Rule:       rule,
			Kind:       kind,
			Value:      value,
			ObservedAt: at,
		})
	}
	return decisions
}

// evaluateRule applies per-type trigger semantics to one rule state.
// Caller holds the state lock.
func evaluateRule(state *evalState, rule domain.AlertRule, value float64, at time.Time, lookback time.Duration) domain.DecisionKind {
	defer func() {
		last := value
		state.lastValue = &last
		state.lastAt = at
	}()

	switch rule.AlertType {
	case domain.AlertTypeTarget:
		return evaluateTarget(state, *rule.TargetTemperature, value)
	case domain.AlertTypeRange:
		if value < *rule.MinTemperature || value > *rule.MaxTemperature {
			return domain.DecisionTrigger
		}
		return domain.DecisionClear
	case domain.AlertTypeRising:
		delta := advanceWindow(state, value, at, lookback)
		if delta >= *rule.ThresholdDelta {
			return domain.DecisionTrigger
		}
		return domain.DecisionClear
	case domain.AlertTypeFalling:
		delta := advanceWindow(state, value, at, lookback)
		if delta <= -*rule.ThresholdDelta {
			return domain.DecisionTrigger
		}
		return domain.DecisionClear
	default:
		return domain.DecisionNoChange
	}
}

// evaluateTarget handles setpoint crossing with touch-the-other-side re-arm.
// The first reading only establishes a baseline; a crossing needs a prior
// reading on the opposite side. Exact equality counts as reached.
func evaluateTarget(state *evalState, target, value float64) domain.DecisionKind {
	if state.excursion {
		if (state.fromBelow && value < target) || (!state.fromBelow && value > target) {
			state.excursion = false
			return domain.DecisionClear
		}
		return domain.DecisionNoChange
	}

	if state.lastValue == nil {
		return domain.DecisionNoChange
	}
	last := *state.lastValue
	switch {
	case last < target && value >= target:
		state.excursion = true
		state.fromBelow = true
		return domain.DecisionTrigger
	case last > target && value <= target:
		state.excursion = true
		state.fromBelow = false
		return domain.DecisionTrigger
	default:
		return domain.DecisionNoChange
	}
}

// advanceWindow appends one sample, prunes stale points, and returns the delta.
// Caller holds the state lock.
func advanceWindow(state *evalState, value float64, at time.Time, lookback time.Duration) float64 {
	state.window = append(state.window, WindowPoint{At: at, Value: value})
	if at.After(state.newestAt) {
		state.newestAt = at
	}
	cutoff := state.newestAt.Add(-lookback)
	drop := 0
	for ; drop < len(state.window)-1; drop++ {
		if !state.window[drop].At.Before(cutoff) {
			break
		}
	}
	if drop > 0 {
		state.window = state.window[drop:]
	}
	return value - state.window[0].Value
}

// DiscardState drops evaluation state for one rule.
// Params: rule ID.
// Returns: state removed so a reactivated rule starts fresh.
func (e *Evaluator) DiscardState(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, ruleID)
}

// CompactStates evicts evaluation states idle beyond the TTL.
// Params: current time and idle TTL threshold (<=0 disables eviction).
// Returns: number of evicted states.
func (e *Evaluator) CompactStates(now time.Time, idleTTL time.Duration) int {
	if idleTTL <= 0 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for ruleID, state := range e.states {
		state.mu.Lock()
		idle := !state.lastAt.IsZero() && now.Sub(state.lastAt) >= idleTTL && !state.excursion
		state.mu.Unlock()
		if idle {
			delete(e.states, ruleID)
			removed++
		}
	}
	return removed
}

// WindowSnapshot returns a copy of the rising/falling window for one rule.
// Params: rule ID.
// Returns: window points copy and existence flag.
func (e *Evaluator) WindowSnapshot(ruleID string) ([]WindowPoint, bool) {
	e.mu.RLock()
	state, ok := e.states[ruleID]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return append([]WindowPoint(nil), state.window...), true
}

// ensureState gets or initializes evaluation state for one rule.
// Params: rule ID.
// Returns: mutable state pointer.
func (e *Evaluator) ensureState(ruleID string) *evalState {
	e.mu.RLock()
	state, ok := e.states[ruleID]
	e.mu.RUnlock()
	if ok {
		return state
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok = e.states[ruleID]; ok {
		return state
	}
	state = &evalState{}
	e.states[ruleID] = state
	return state
}

package engine

import (
	"testing"
	"time"

	"pitalert/internal/domain"
)

type staticRules struct {
	rules []domain.AlertRule
}

func (s staticRules) ListActive(deviceID, probeID string) []domain.AlertRule {
	out := make([]domain.AlertRule, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.IsActive && rule.Matches(deviceID, probeID) {
			out = append(out, rule)
		}
	}
	return out
}

func floatPtr(v float64) *float64 {
	return &v
}

func reading(temp float64, at time.Time) domain.Reading {
	return domain.Reading{
		DeviceID:    "grill-1",
		ProbeID:     "probe-1",
		Temperature: temp,
		Unit:        domain.UnitFahrenheit,
		DT:          at.UnixMilli(),
		IsConnected: true,
	}
}

func feed(t *testing.T, e *Evaluator, base time.Time, temps ...float64) []domain.DecisionKind {
	t.Helper()
	kinds := make([]domain.DecisionKind, 0, len(temps))
	for i, temp := range temps {
		decisions := e.Evaluate(reading(temp, base.Add(time.Duration(i)*10*time.Second)))
		if len(decisions) != 1 {
			t.Fatalf("expected one decision for reading %v, got %d", temp, len(decisions))
		}
		kinds = append(kinds, decisions[0].Kind)
	}
	return kinds
}

func TestTargetCrossingTriggersOnceAndClearsOnReCross(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "chicken done",
		AlertType: domain.AlertTypeTarget, Unit: domain.UnitFahrenheit,
		TargetTemperature: floatPtr(165), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	kinds := feed(t, e, base, 150, 160, 168, 170, 166, 158)
	want := []domain.DecisionKind{
		domain.DecisionNoChange,
		domain.DecisionNoChange,
		domain.DecisionTrigger,
		domain.DecisionNoChange,
		domain.DecisionNoChange,
		domain.DecisionClear,
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("reading %d: expected %s, got %s (all: %v)", i, want[i], kinds[i], kinds)
		}
	}
}

func TestTargetExactEqualityCountsAsReached(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "t",
		AlertType: domain.AlertTypeTarget, Unit: domain.UnitFahrenheit,
		TargetTemperature: floatPtr(165), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	kinds := feed(t, e, base, 160, 165)
	if kinds[1] != domain.DecisionTrigger {
		t.Fatalf("exact equality must trigger, got %v", kinds)
	}
}

func TestTargetCrossingFromAbove(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "ice bath",
		AlertType: domain.AlertTypeTarget, Unit: domain.UnitFahrenheit,
		TargetTemperature: floatPtr(40), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	kinds := feed(t, e, base, 55, 39, 38, 45)
	want := []domain.DecisionKind{
		domain.DecisionNoChange,
		domain.DecisionTrigger,
		domain.DecisionNoChange,
		domain.DecisionClear,
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("reading %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestRangeExcursionAndReturn(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "pit band",
		AlertType: domain.AlertTypeRange, Unit: domain.UnitFahrenheit,
		MinTemperature: floatPtr(32), MaxTemperature: floatPtr(165), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	kinds := feed(t, e, base, 160, 170, 180, 150)
	want := []domain.DecisionKind{
		domain.DecisionClear,
		domain.DecisionTrigger,
		domain.DecisionTrigger,
		domain.DecisionClear,
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("reading %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestRangeBoundaryValuesAreInside(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "band",
		AlertType: domain.AlertTypeRange, Unit: domain.UnitFahrenheit,
		MinTemperature: floatPtr(32), MaxTemperature: floatPtr(165), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	kinds := feed(t, e, base, 32, 165)
	for i, kind := range kinds {
		if kind != domain.DecisionClear {
			t.Fatalf("boundary reading %d must stay inside, got %s", i, kind)
		}
	}
}

func TestRisingDeltaThresholdEquality(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "flare up",
		AlertType: domain.AlertTypeRising, Unit: domain.UnitFahrenheit,
		ThresholdDelta: floatPtr(20), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	// Delta of exactly thresholdDelta triggers; thresholdDelta-ε does not.
	kinds := feed(t, e, base, 200, 219.9, 220)
	want := []domain.DecisionKind{
		domain.DecisionClear,
		domain.DecisionClear,
		domain.DecisionTrigger,
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("reading %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestFallingDeltaTriggersAndClears(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "fire out",
		AlertType: domain.AlertTypeFalling, Unit: domain.UnitFahrenheit,
		ThresholdDelta: floatPtr(30), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 10*time.Minute)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	kinds := feed(t, e, base, 250, 230, 215)
	if kinds[2] != domain.DecisionTrigger {
		t.Fatalf("expected falling trigger at 35 degree drop, got %v", kinds)
	}
}

func TestRisingWindowPrunesOldSamples(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "ramp",
		AlertType: domain.AlertTypeRising, Unit: domain.UnitFahrenheit,
		ThresholdDelta: floatPtr(50), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 45*time.Second)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	// 10s spacing: by the seventh reading the first two fall out of the 45s window.
	feed(t, e, base, 100, 110, 120, 130, 140, 150, 160)
	window, ok := e.WindowSnapshot("r1")
	if !ok {
		t.Fatalf("expected window state for rule")
	}
	if len(window) != 5 {
		t.Fatalf("expected 5 samples after pruning, got %d", len(window))
	}
	if window[0].Value != 120 {
		t.Fatalf("unexpected oldest window value %v", window[0].Value)
	}
}

func TestEvaluateNormalizesReadingUnit(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "boil",
		AlertType: domain.AlertTypeTarget, Unit: domain.UnitCelsius,
		TargetTemperature: floatPtr(100), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	// Fahrenheit readings against a Celsius rule: 200F=93.3C, 213F=100.6C.
	kinds := feed(t, e, base, 200, 213)
	if kinds[1] != domain.DecisionTrigger {
		t.Fatalf("expected trigger after unit conversion, got %v", kinds)
	}
}

func TestEvaluateUnmatchedReadingIsNoOp(t *testing.T) {
	t.Parallel()

	e := New(staticRules{}, 0)
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if decisions := e.Evaluate(reading(150, at)); len(decisions) != 0 {
		t.Fatalf("expected no decisions, got %d", len(decisions))
	}
}

func TestMultipleRulesEvaluateIndependently(t *testing.T) {
	t.Parallel()

	target := domain.AlertRule{
		ID: "target", DeviceID: "grill-1", ProbeID: "probe-1", Name: "done",
		AlertType: domain.AlertTypeTarget, Unit: domain.UnitFahrenheit,
		TargetTemperature: floatPtr(165), IsActive: true,
	}
	band := domain.AlertRule{
		ID: "band", DeviceID: "grill-1", ProbeID: "probe-1", Name: "band",
		AlertType: domain.AlertTypeRange, Unit: domain.UnitFahrenheit,
		MinTemperature: floatPtr(100), MaxTemperature: floatPtr(160), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{target, band}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	e.Evaluate(reading(150, base))
	decisions := e.Evaluate(reading(170, base.Add(10*time.Second)))
	if len(decisions) != 2 {
		t.Fatalf("expected both rules evaluated, got %d", len(decisions))
	}
	byID := map[string]domain.DecisionKind{}
	for _, decision := range decisions {
		byID[decision.Rule.ID] = decision.Kind
	}
	if byID["target"] != domain.DecisionTrigger || byID["band"] != domain.DecisionTrigger {
		t.Fatalf("both rules may transition in the same call, got %+v", byID)
	}
}

func TestDiscardStateResetsBaseline(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "done",
		AlertType: domain.AlertTypeTarget, Unit: domain.UnitFahrenheit,
		TargetTemperature: floatPtr(165), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	feed(t, e, base, 150)
	e.DiscardState("r1")
	// Fresh state has no baseline: a reading beyond target must not trigger.
	decisions := e.Evaluate(reading(170, base.Add(time.Minute)))
	if decisions[0].Kind != domain.DecisionNoChange {
		t.Fatalf("expected baseline reset after discard, got %s", decisions[0].Kind)
	}
}

func TestCompactStatesEvictsIdleRules(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		ID: "r1", DeviceID: "grill-1", ProbeID: "probe-1", Name: "done",
		AlertType: domain.AlertTypeTarget, Unit: domain.UnitFahrenheit,
		TargetTemperature: floatPtr(165), IsActive: true,
	}
	e := New(staticRules{rules: []domain.AlertRule{rule}}, 0)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	feed(t, e, base, 150)
	if removed := e.CompactStates(base.Add(time.Hour), 30*time.Minute); removed != 1 {
		t.Fatalf("expected one evicted state, got %d", removed)
	}
	if removed := e.CompactStates(base.Add(time.Hour), 0); removed != 0 {
		t.Fatalf("disabled TTL must evict nothing, got %d", removed)
	}
}

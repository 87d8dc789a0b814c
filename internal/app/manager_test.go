package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pitalert/internal/clock"
	"pitalert/internal/config"
	"pitalert/internal/dispatch"
	"pitalert/internal/domain"
	"pitalert/internal/registry"
	"pitalert/internal/state"
	"pitalert/internal/tracker"
)

type recordingChannel struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
	signal chan struct{}
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{signal: make(chan struct{}, 16)}
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Deliver(_ context.Context, event domain.NotificationEvent) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	c.signal <- struct{}{}
	return nil
}

func (c *recordingChannel) waitForEvent(t *testing.T) domain.NotificationEvent {
	t.Helper()
	select {
	case <-c.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func floatPtr(v float64) *float64 { return &v }

func newTestManager(t *testing.T) (*Manager, *registry.Registry, *recordingChannel) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	channel := newRecordingChannel()
	dispatcher := dispatch.NewDispatcher(logger, []dispatch.Channel{channel}, 16, 1)
	t.Cleanup(func() { _ = dispatcher.Close() })

	rules := registry.New()
	store := state.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC))
	cfg := config.Config{}
	cfg.Alerts.RisingLookbackSec = 300
	cfg.Service.StateIdleTTLSec = 3600

	manager := NewManager(cfg, logger, rules, tracker.New(store, clk), dispatcher, clk)
	return manager, rules, channel
}

func reading(temp float64, at time.Time) domain.Reading {
	return domain.Reading{
		DeviceID:    "dev-1",
		ProbeID:     "1",
		Temperature: temp,
		Unit:        domain.UnitFahrenheit,
		DT:          at.UnixMilli(),
		IsConnected: true,
	}
}

func TestManagerTargetPipelineTriggersOnce(t *testing.T) {
	t.Parallel()

	manager, rules, channel := newTestManager(t)
	rule, err := rules.Create(domain.AlertRule{
		DeviceID:          "dev-1",
		ProbeID:           "1",
		Name:              "Brisket done",
		AlertType:         domain.AlertTypeTarget,
		Unit:              domain.UnitFahrenheit,
		TargetTemperature: floatPtr(165),
		IsActive:          true,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	base := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	for i, temp := range []float64{150, 160, 168, 170} {
		if err := manager.Push(reading(temp, base.Add(time.Duration(i)*10*time.Second))); err != nil {
			t.Fatalf("push %g: %v", temp, err)
		}
	}

	event := channel.waitForEvent(t)
	if event.AlertID != rule.ID || event.CurrentTemperature != 168 {
		t.Fatalf("event = %+v, want trigger at 168", event)
	}
	if got := channel.count(); got != 1 {
		t.Fatalf("delivered %d notifications, want 1", got)
	}

	record, ok := manager.TriggerSnapshot(context.Background(), rule.ID)
	if !ok || record.Phase != domain.PhaseTriggered {
		t.Fatalf("trigger record = %+v, want triggered phase", record)
	}

	// Falling back below the target clears without a new notification.
	for i, temp := range []float64{166, 158} {
		if err := manager.Push(reading(temp, base.Add(time.Duration(4+i)*10*time.Second))); err != nil {
			t.Fatalf("push %g: %v", temp, err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if got := channel.count(); got != 1 {
		t.Fatalf("delivered %d notifications after clear, want 1", got)
	}
	record, ok = manager.TriggerSnapshot(context.Background(), rule.ID)
	if !ok || record.Phase != domain.PhaseIdle {
		t.Fatalf("trigger record = %+v, want idle phase", record)
	}
}

func TestManagerSkipsDisconnectedProbes(t *testing.T) {
	t.Parallel()

	manager, rules, channel := newTestManager(t)
	if _, err := rules.Create(domain.AlertRule{
		DeviceID:          "dev-1",
		ProbeID:           "1",
		Name:              "Brisket done",
		AlertType:         domain.AlertTypeTarget,
		Unit:              domain.UnitFahrenheit,
		TargetTemperature: floatPtr(165),
		IsActive:          true,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	at := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	sample := reading(170, at)
	sample.IsConnected = false
	if err := manager.Push(sample); err != nil {
		t.Fatalf("push: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := channel.count(); got != 0 {
		t.Fatalf("delivered %d notifications for disconnected probe, want 0", got)
	}
}

func TestManagerDeactivationDiscardsTriggerState(t *testing.T) {
	t.Parallel()

	manager, rules, channel := newTestManager(t)
	rule, err := rules.Create(domain.AlertRule{
		DeviceID:          "dev-1",
		ProbeID:           "1",
		Name:              "Brisket done",
		AlertType:         domain.AlertTypeTarget,
		Unit:              domain.UnitFahrenheit,
		TargetTemperature: floatPtr(165),
		IsActive:          true,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	base := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	_ = manager.Push(reading(150, base))
	_ = manager.Push(reading(170, base.Add(10*time.Second)))
	channel.waitForEvent(t)

	deactivated := rule
	deactivated.IsActive = false
	if _, err := rules.Update(rule.ID, deactivated); err != nil {
		t.Fatalf("deactivate rule: %v", err)
	}
	if _, ok := manager.TriggerSnapshot(context.Background(), rule.ID); ok {
		t.Fatal("trigger state survived deactivation")
	}

	// Reactivation starts a fresh excursion: crossing triggers again.
	reactivated := rule
	reactivated.IsActive = true
	if _, err := rules.Update(rule.ID, reactivated); err != nil {
		t.Fatalf("reactivate rule: %v", err)
	}
	_ = manager.Push(reading(150, base.Add(20*time.Second)))
	_ = manager.Push(reading(170, base.Add(30*time.Second)))
	channel.waitForEvent(t)
	if got := channel.count(); got != 2 {
		t.Fatalf("delivered %d notifications, want 2", got)
	}
}

func TestManagerApplyConfigRejectsInvalidLookback(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t)
	bad := config.Config{}
	if err := manager.ApplyConfig(context.Background(), bad); err == nil {
		t.Fatal("ApplyConfig accepted zero lookback")
	}

	good := config.Config{}
	good.Alerts.RisingLookbackSec = 120
	if err := manager.ApplyConfig(context.Background(), good); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
}

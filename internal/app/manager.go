package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pitalert/internal/clock"
	"pitalert/internal/config"
	"pitalert/internal/dispatch"
	"pitalert/internal/domain"
	"pitalert/internal/engine"
	"pitalert/internal/metrics"
	"pitalert/internal/notifyqueue"
	"pitalert/internal/registry"
	"pitalert/internal/tracker"
)

// Manager coordinates rule evaluation, trigger state, and notification dispatch.
// Params: rule registry, evaluator, tracker, dispatcher, logger, and clock.
// Returns: reading sink for ingest interfaces.
type Manager struct {
	mu         sync.RWMutex
	cfg        config.Config
	logger     *slog.Logger
	rules      *registry.Registry
	evaluator  *engine.Evaluator
	tracker    *tracker.Tracker
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
}

// NewManager creates manager with initial configuration.
// Params: initial config, logger, registry, tracker, dispatcher, and clock.
// Returns: initialized manager with rule-removal cleanup wired.
func NewManager(cfg config.Config, logger *slog.Logger, rules *registry.Registry, trk *tracker.Tracker, dispatcher *dispatch.Dispatcher, clk clock.Clock) *Manager {
	manager := &Manager{
		cfg:        cfg,
		logger:     logger,
		rules:      rules,
		evaluator:  engine.New(rules, time.Duration(cfg.Alerts.RisingLookbackSec)*time.Second),
		tracker:    trk,
		dispatcher: dispatcher,
		clock:      clk,
	}

	// Deactivation and deletion discard runtime state so a reactivated rule
	// starts a fresh Idle excursion.
	rules.OnRemoval(func(ruleID string) {
		manager.evaluator.DiscardState(ruleID)
		if err := trk.Discard(context.Background(), ruleID); err != nil {
			logger.Warn("trigger state discard failed", "alert_id", ruleID, "error", err.Error())
		}
	})
	return manager
}

// Push processes one incoming reading from ingest interfaces.
// Params: validated reading.
// Returns: processing error when the state backend fails.
func (m *Manager) Push(reading domain.Reading) error {
	return m.ProcessReading(context.Background(), reading)
}

// ProcessReading evaluates one reading against all applicable rules and
// applies the resulting transitions.
// Params: context and validated reading.
// Returns: first non-CAS backend error.
func (m *Manager) ProcessReading(ctx context.Context, reading domain.Reading) error {
	if !reading.IsConnected {
		metrics.ReadingsEvaluatedTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	decisions := m.evaluator.Evaluate(reading)
	if len(decisions) == 0 {
		metrics.ReadingsEvaluatedTotal.WithLabelValues("unmatched").Inc()
		return nil
	}
	metrics.ReadingsEvaluatedTotal.WithLabelValues("matched").Inc()

	var firstErr error
	for _, decision := range decisions {
		if err := m.applyDecision(ctx, decision); err != nil {
			m.logger.Error("decision apply failed",
				"alert_id", decision.Rule.ID, "kind", string(decision.Kind), "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// applyDecision routes one evaluator decision through the tracker CAS and
// dispatches a notification on the winning trigger transition.
func (m *Manager) applyDecision(ctx context.Context, decision domain.Decision) error {
	if decision.Kind == domain.DecisionNoChange {
		return nil
	}

	outcome, err := m.tracker.Apply(ctx, decision)
	if err != nil {
		return err
	}
	if !outcome.Transitioned {
		if decision.Kind == domain.DecisionTrigger && outcome.Record.AlertID == "" {
			metrics.RaceLossesTotal.Inc()
		}
		return nil
	}

	metrics.TriggerTransitionsTotal.WithLabelValues(
		string(decision.Rule.AlertType), transitionLabel(decision.Kind)).Inc()

	if decision.Kind == domain.DecisionTrigger {
		triggeredAt := m.clock.Now()
		if outcome.Record.TriggeredAt != nil {
			triggeredAt = *outcome.Record.TriggeredAt
		}
		m.dispatcherSnapshot().Dispatch(decision.Rule, triggeredAt, decision.Value)
		m.tracker.MarkNotified(ctx, decision.Rule.ID)
		m.logger.Info("alert triggered",
			"alert_id", decision.Rule.ID, "alert_type", string(decision.Rule.AlertType),
			"value", decision.Value)
	} else {
		m.logger.Info("alert cleared",
			"alert_id", decision.Rule.ID, "alert_type", string(decision.Rule.AlertType),
			"value", decision.Value)
	}
	return nil
}

// CompactRuntimeState drops idle evaluator state older than the idle TTL.
// Params: context (unused today, kept for symmetry with periodic workers).
// Returns: number of discarded states.
func (m *Manager) CompactRuntimeState(_ context.Context) int {
	m.mu.RLock()
	idleTTL := time.Duration(m.cfg.Service.StateIdleTTLSec) * time.Second
	m.mu.RUnlock()
	if idleTTL <= 0 {
		return 0
	}
	dropped := m.evaluator.CompactStates(m.clock.Now(), idleTTL)
	if dropped > 0 {
		m.logger.Info("runtime state compacted", "dropped", dropped)
	}
	return dropped
}

// ApplyConfig applies a reloaded config snapshot to runtime components.
// Params: context and next config snapshot.
// Returns: apply error; the previous snapshot stays active on failure.
func (m *Manager) ApplyConfig(_ context.Context, cfg config.Config) error {
	lookback := time.Duration(cfg.Alerts.RisingLookbackSec) * time.Second
	if lookback <= 0 {
		return errors.New("alerts.rising_lookback_sec must be >0")
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.evaluator.SetLookback(lookback)
	return nil
}

// SetDispatcher swaps the dispatcher after a config reload.
// Params: replacement dispatcher.
// Returns: nothing.
func (m *Manager) SetDispatcher(dispatcher *dispatch.Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatcher = dispatcher
}

// ProcessQueuedNotification delivers one dequeued notification job to the
// local channel set. Queue workers call this on every delivery attempt.
// Params: context and dequeued job.
// Returns: transient delivery error for broker redelivery.
func (m *Manager) ProcessQueuedNotification(ctx context.Context, job notifyqueue.Job) error {
	if job.Event.AlertID == "" {
		return notifyqueue.MarkPermanent(errors.New("job event has no alert id"))
	}
	return m.dispatcherSnapshot().Deliver(ctx, job.Event)
}

// TriggerSnapshot reads the current trigger record for one rule.
// Params: context and rule ID.
// Returns: record copy and existence flag.
func (m *Manager) TriggerSnapshot(ctx context.Context, ruleID string) (domain.TriggerRecord, bool) {
	return m.tracker.Snapshot(ctx, ruleID)
}

func (m *Manager) dispatcherSnapshot() *dispatch.Dispatcher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dispatcher
}

func transitionLabel(kind domain.DecisionKind) string {
	if kind == domain.DecisionTrigger {
		return "trigger"
	}
	return "clear"
}

package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pitalert/internal/domain"
)

// Status is the connection status surfaced to the UI layer.
// Params: connecting/connected/disconnected/error constants.
// Returns: normalized status usage across the client.
type Status string

const (
	// StatusConnecting marks an in-flight push connection attempt.
	StatusConnecting Status = "connecting"
	// StatusConnected marks an established push channel.
	StatusConnected Status = "connected"
	// StatusDisconnected marks a lost push channel pending reconnect.
	StatusDisconnected Status = "disconnected"
	// StatusError marks an exhausted retry budget awaiting manual retry.
	StatusError Status = "error"
)

// TransportKind names the active notification source.
type TransportKind string

const (
	// TransportPush marks the live push channel as the active source.
	TransportPush TransportKind = "push"
	// TransportPolling marks the fallback poller as the active source.
	TransportPolling TransportKind = "polling"
)

// ErrConnectivityExhausted marks a retry budget exhausted; recovery needs
// an explicit user-triggered retry.
var ErrConnectivityExhausted = errors.New("push channel retry budget exhausted")

// ConnectionState is one snapshot of manager state for the UI layer.
// Params: status, active transport, consecutive reconnect failures, and the
// time of the last connection attempt.
// Returns: read-only state view.
type ConnectionState struct {
	Status        Status
	Transport     TransportKind
	Failures      int
	LastAttemptAt time.Time
}

// PushTransport is one persistent push channel implementation.
// Params: context, connect callback, and per-event delivery callback.
// Returns: Run blocks while connected and returns the break cause.
type PushTransport interface {
	Run(ctx context.Context, onConnect func(), deliver func(domain.NotificationEvent)) error
}

// Poller fetches recent notifications for the fallback path.
// Params: context.
// Returns: most recent events or transport error.
type Poller interface {
	Poll(ctx context.Context) ([]domain.NotificationEvent, error)
}

// Options tunes manager reconnect and fallback behavior.
// Params: poll interval, backoff shape, and retry budget.
// Returns: manager configuration; zero fields use defaults.
type Options struct {
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	RetryBudget  int

	// Sleep is the backoff wait; tests inject a recording stub.
	Sleep func(ctx context.Context, delay time.Duration) error
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.RetryBudget <= 0 {
		o.RetryBudget = 5
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Manager maintains the client's push channel with polling fallback.
// Push is the primary source; on loss the poller takes over while reconnect
// attempts run with exponential backoff. Exhausting the retry budget parks
// the push channel in Error until Retry is called; polling keeps running so
// notifications still arrive, just with latency.
// Params: transport, poller, target cache, and tuning options.
// Returns: delivery channel manager lifecycle handle.
type Manager struct {
	logger    *slog.Logger
	transport PushTransport
	poller    Poller
	cache     *Cache
	opts      Options

	mu          sync.Mutex
	status      Status
	failures    int
	lastAttempt time.Time
	retry       chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates delivery channel manager.
// Params: logger, push transport, fallback poller, cache, and options.
// Returns: manager ready for Start.
func NewManager(logger *slog.Logger, transport PushTransport, poller Poller, cache *Cache, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		logger:    logger,
		transport: transport,
		poller:    poller,
		cache:     cache,
		opts:      opts,
		status:    StatusConnecting,
		retry:     make(chan struct{}, 1),
	}
}

// Start launches the push loop and the fallback poll loop.
// Params: parent context; cancellation tears the manager down.
// Returns: nothing; use Close for explicit teardown.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		m.pushLoop(runCtx)
	}()
	go func() {
		defer loops.Done()
		m.pollLoop(runCtx)
	}()
	go func() {
		loops.Wait()
		close(m.done)
	}()
}

// Close tears the manager down, closing the push channel and cancelling
// any pending poll timer.
// Params: none.
// Returns: nothing; blocks until both loops exit.
func (m *Manager) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Retry resets the retry budget after ConnectivityExhausted.
// Params: none.
// Returns: nothing; no-op unless the channel is in Error.
func (m *Manager) Retry() {
	m.mu.Lock()
	if m.status != StatusError {
		m.mu.Unlock()
		return
	}
	m.failures = 0
	m.status = StatusConnecting
	m.mu.Unlock()

	select {
	case m.retry <- struct{}{}:
	default:
	}
}

// State returns the current connection snapshot.
// Params: none.
// Returns: status, active transport, and failure count.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	transport := TransportPolling
	if m.status == StatusConnected {
		transport = TransportPush
	}
	return ConnectionState{
		Status:        m.status,
		Transport:     transport,
		Failures:      m.failures,
		LastAttemptAt: m.lastAttempt,
	}
}

// pushLoop keeps one push connection alive with backoff between attempts.
// Attempts never overlap: each Run must return before the next is scheduled.
func (m *Manager) pushLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		m.status = StatusConnecting
		m.lastAttempt = time.Now()
		m.mu.Unlock()

		err := m.transport.Run(ctx, func() {
			m.mu.Lock()
			m.status = StatusConnected
			m.failures = 0
			m.mu.Unlock()
			m.logger.Info("push channel connected")
		}, func(event domain.NotificationEvent) {
			m.cache.Insert(event)
		})
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.failures++
		failures := m.failures
		m.mu.Unlock()
		if err != nil {
			m.logger.Warn("push channel lost", "failures", failures, "error", err.Error())
		}

		if failures > m.opts.RetryBudget {
			m.setStatus(StatusError)
			m.logger.Error("push channel gave up", "error", ErrConnectivityExhausted.Error())
			select {
			case <-ctx.Done():
				return
			case <-m.retry:
				continue
			}
		}

		m.setStatus(StatusDisconnected)
		if err := m.opts.Sleep(ctx, m.backoffDelay(failures)); err != nil {
			return
		}
	}
}

// pollLoop runs the fallback poller, paused while push is connected.
func (m *Manager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if m.State().Status == StatusConnected {
			continue
		}

		events, err := m.poller.Poll(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn("fallback poll failed", "error", err.Error())
			}
			continue
		}
		// Oldest first so cache order approximates dispatch order.
		for i := len(events) - 1; i >= 0; i-- {
			m.cache.Insert(events[i])
		}
	}
}

// backoffDelay returns the wait before reconnect attempt number failures.
// Doubles from base, capped.
func (m *Manager) backoffDelay(failures int) time.Duration {
	delay := m.opts.BackoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= m.opts.BackoffCap {
			return m.opts.BackoffCap
		}
	}
	return delay
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

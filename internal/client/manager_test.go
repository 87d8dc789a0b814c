package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pitalert/internal/domain"
)

type failingTransport struct{}

func (failingTransport) Run(context.Context, func(), func(domain.NotificationEvent)) error {
	return errors.New("connection refused")
}

type connectedTransport struct{}

func (connectedTransport) Run(ctx context.Context, onConnect func(), _ func(domain.NotificationEvent)) error {
	onConnect()
	<-ctx.Done()
	return nil
}

type stubPoller struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
	calls  int
}

func (p *stubPoller) Poll(context.Context) ([]domain.NotificationEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return append([]domain.NotificationEvent(nil), p.events...), nil
}

func (p *stubPoller) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, delay time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, delay)
	r.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func managerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForStatus(t *testing.T, manager *Manager, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if manager.State().Status == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("status = %q, want %q", manager.State().Status, want)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestManagerBackoffSequenceThenError(t *testing.T) {
	t.Parallel()

	recorder := &sleepRecorder{}
	manager := NewManager(managerLogger(), failingTransport{}, &stubPoller{}, NewCache(20), Options{
		PollInterval: time.Hour,
		Sleep:        recorder.sleep,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)
	defer manager.Close()

	waitForStatus(t, manager, StatusError)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	got := recorder.recorded()
	if len(got) != len(want) {
		t.Fatalf("recorded %d delays %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	state := manager.State()
	if state.Transport != TransportPolling {
		t.Fatalf("transport in Error = %q, want polling", state.Transport)
	}
	if state.LastAttemptAt.IsZero() {
		t.Fatal("last attempt timestamp was not recorded")
	}
}

func TestManagerBackoffCapsAtThirtySeconds(t *testing.T) {
	t.Parallel()

	manager := NewManager(managerLogger(), failingTransport{}, &stubPoller{}, NewCache(20), Options{})
	if got := manager.backoffDelay(7); got != 30*time.Second {
		t.Fatalf("delay(7) = %v, want 30s", got)
	}
	if got := manager.backoffDelay(1); got != time.Second {
		t.Fatalf("delay(1) = %v, want 1s", got)
	}
}

func TestManagerRetryResetsBudget(t *testing.T) {
	t.Parallel()

	recorder := &sleepRecorder{}
	manager := NewManager(managerLogger(), failingTransport{}, &stubPoller{}, NewCache(20), Options{
		PollInterval: time.Hour,
		Sleep:        recorder.sleep,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)
	defer manager.Close()

	waitForStatus(t, manager, StatusError)
	before := len(recorder.recorded())

	manager.Retry()
	waitForStatus(t, manager, StatusError)

	delays := recorder.recorded()
	if len(delays) != 2*before {
		t.Fatalf("delays after retry = %d, want %d", len(delays), 2*before)
	}
	if delays[before] != time.Second {
		t.Fatalf("first delay after retry = %v, want 1s", delays[before])
	}
}

func TestManagerPollingPausedWhileConnected(t *testing.T) {
	t.Parallel()

	poller := &stubPoller{}
	manager := NewManager(managerLogger(), connectedTransport{}, poller, NewCache(20), Options{
		PollInterval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)
	defer manager.Close()

	waitForStatus(t, manager, StatusConnected)
	time.Sleep(50 * time.Millisecond)

	if calls := poller.callCount(); calls != 0 {
		t.Fatalf("poller called %d times while push connected, want 0", calls)
	}
	if state := manager.State(); state.Transport != TransportPush {
		t.Fatalf("transport = %q, want push", state.Transport)
	}
}

func TestManagerPollingFeedsCacheWhileDisconnected(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	poller := &stubPoller{events: []domain.NotificationEvent{
		{AlertID: "a-2", Timestamp: base.Add(time.Minute)},
		{AlertID: "a-1", Timestamp: base},
	}}
	cache := NewCache(20)
	recorder := &sleepRecorder{}
	manager := NewManager(managerLogger(), failingTransport{}, poller, cache, Options{
		PollInterval: 5 * time.Millisecond,
		Sleep:        recorder.sleep,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)
	defer manager.Close()

	deadline := time.After(2 * time.Second)
	for len(cache.Entries()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("cache entries = %d, want 2", len(cache.Entries()))
		case <-time.After(2 * time.Millisecond):
		}
	}

	entries := cache.Entries()
	if entries[0].AlertID != "a-2" || entries[1].AlertID != "a-1" {
		t.Fatalf("cache order = %q,%q, want a-2,a-1", entries[0].AlertID, entries[1].AlertID)
	}

	// Repeat polls of the same payload stay deduplicated.
	initial := poller.callCount()
	for poller.callCount() < initial+2 {
		time.Sleep(2 * time.Millisecond)
	}
	if got := len(cache.Entries()); got != 2 {
		t.Fatalf("cache entries after repeat polls = %d, want 2", got)
	}
}

func TestManagerCloseStopsLoops(t *testing.T) {
	t.Parallel()

	manager := NewManager(managerLogger(), connectedTransport{}, &stubPoller{}, NewCache(20), Options{
		PollInterval: time.Hour,
	})
	manager.Start(context.Background())
	waitForStatus(t, manager, StatusConnected)

	done := make(chan struct{})
	go func() {
		manager.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the manager loops")
	}
}

package clock

import (
	"sync"
	"time"
)

// Clock abstracts the time source so trigger timestamps can be pinned in tests.
// Params: none.
// Returns: the current time.
type Clock interface {
	Now() time.Time
}

// RealClock is the production time source backed by the system clock.
// Params: none.
// Returns: system time normalized to UTC.
type RealClock struct{}

// Now reads the system clock.
// Params: none.
// Returns: current time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually controlled time source for tests.
// Params: none.
// Returns: whatever time was last set or advanced to.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake builds a fake clock pinned to the given instant.
// Params: at - initial time.
// Returns: fake clock reporting at until changed.
func NewFake(at time.Time) *Fake {
	return &Fake{now: at}
}

// Now reports the pinned time.
// Params: none.
// Returns: current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set repins the fake clock to the given instant.
// Params: at - new current time.
// Returns: nothing.
func (f *Fake) Set(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = at
}

// Advance moves the fake clock forward by d.
// Params: d - duration to add.
// Returns: nothing.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

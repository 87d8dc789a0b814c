package client

import (
	"sync"
	"time"

	"pitalert/internal/domain"
)

// DefaultCacheCap bounds the retained notification list.
const DefaultCacheCap = 20

// SideEffect runs one local reaction to a freshly inserted notification,
// such as an audio cue or a platform notification. Failures stay local.
// Params: inserted event.
// Returns: effect error, always discarded by the cache.
type SideEffect func(event domain.NotificationEvent) error

// Cache is the per-client ordered, deduplicated view of recent notifications.
// Params: retention cap and optional insert side effects.
// Returns: most-recent-first bounded notification list with unread accounting.
type Cache struct {
	mu      sync.Mutex
	entries []domain.NotificationEvent
	keys    map[string]struct{}
	cap     int

	sound           SideEffect
	platform        SideEffect
	soundEnabled    bool
	platformEnabled bool
}

// NewCache creates notification cache.
// Params: retention cap; cap <= 0 uses DefaultCacheCap.
// Returns: empty cache.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCap
	}
	return &Cache{
		keys: make(map[string]struct{}),
		cap:  capacity,
	}
}

// SetSoundEffect installs the audio cue side effect.
// Params: effect callback and initial toggle state.
// Returns: nothing.
func (c *Cache) SetSoundEffect(effect SideEffect, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sound = effect
	c.soundEnabled = enabled
}

// SetPlatformEffect installs the platform notification side effect.
// Params: effect callback and initial toggle state.
// Returns: nothing.
func (c *Cache) SetPlatformEffect(effect SideEffect, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.platform = effect
	c.platformEnabled = enabled
}

// ToggleSound enables or disables the audio cue.
// Params: desired toggle state.
// Returns: nothing.
func (c *Cache) ToggleSound(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.soundEnabled = enabled
}

// TogglePlatform enables or disables platform notifications.
// Params: desired toggle state.
// Returns: nothing.
func (c *Cache) TogglePlatform(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.platformEnabled = enabled
}

// Insert adds one event unless its dedup key is already present. New entries
// start unread and go to the front; entries beyond the cap are dropped.
// Params: notification event.
// Returns: true when the event was inserted, false for duplicates.
func (c *Cache) Insert(event domain.NotificationEvent) bool {
	c.mu.Lock()
	key := event.Key()
	if _, exists := c.keys[key]; exists {
		c.mu.Unlock()
		return false
	}

	event.Read = false
	c.entries = append([]domain.NotificationEvent{event}, c.entries...)
	c.keys[key] = struct{}{}
	if len(c.entries) > c.cap {
		dropped := c.entries[len(c.entries)-1]
		c.entries = c.entries[:len(c.entries)-1]
		delete(c.keys, dropped.Key())
	}
	sound, soundOn := c.sound, c.soundEnabled
	platform, platformOn := c.platform, c.platformEnabled
	c.mu.Unlock()

	if soundOn && sound != nil {
		_ = sound(event)
	}
	if platformOn && platform != nil {
		_ = platform(event)
	}
	return true
}

// MarkAllRead flips every retained entry to read.
// Params: none.
// Returns: nothing.
func (c *Cache) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		c.entries[i].Read = true
	}
}

// Dismiss removes one entry by its dedup key.
// Params: alert rule ID and trigger timestamp.
// Returns: true when an entry was removed.
func (c *Cache) Dismiss(alertID string, timestamp time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := domain.NotificationEvent{AlertID: alertID, Timestamp: timestamp}.Key()
	if _, exists := c.keys[key]; !exists {
		return false
	}
	delete(c.keys, key)
	for i := range c.entries {
		if c.entries[i].Key() == key {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	return true
}

// Clear drops all retained entries.
// Params: none.
// Returns: nothing.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.keys = make(map[string]struct{})
}

// Entries returns the retained entries, most recent first.
// Params: none.
// Returns: snapshot copy of the entry list.
func (c *Cache) Entries() []domain.NotificationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.NotificationEvent(nil), c.entries...)
}

// UnreadCount counts retained entries still marked unread.
// Params: none.
// Returns: unread entry count.
func (c *Cache) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for i := range c.entries {
		if !c.entries[i].Read {
			count++
		}
	}
	return count
}

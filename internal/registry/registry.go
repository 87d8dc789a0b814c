package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"pitalert/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound indicates absent rule ID.
var ErrNotFound = errors.New("alert rule not found")

// RemovalHook observes rule removal/deactivation so runtime state can be discarded.
// Params: removed rule ID.
// Returns: none; hooks must not block.
type RemovalHook func(ruleID string)

// Registry holds alert rule definitions for the evaluation engine.
// Params: in-memory rule map guarded by RWMutex and removal hooks.
// Returns: rule data access without evaluation logic.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]domain.AlertRule
	hooks []RemovalHook
}

// New creates an empty rule registry.
// Params: none.
// Returns: initialized registry.
func New() *Registry {
	return &Registry{rules: make(map[string]domain.AlertRule)}
}

// OnRemoval registers a hook fired when a rule is deleted or deactivated.
// Params: removal hook callback.
// Returns: none.
func (r *Registry) OnRemoval(hook RemovalHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Create validates and stores one new rule, assigning an ID when absent.
// Params: rule definition.
// Returns: stored rule with ID or validation error.
func (r *Registry) Create(rule domain.AlertRule) (domain.AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return domain.AlertRule{}, err
	}
	if strings.TrimSpace(rule.ID) == "" {
		rule.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
	return rule, nil
}

// Update replaces one rule by ID after validation.
// Params: rule ID and replacement definition.
// Returns: stored rule, ErrNotFound, or validation error.
func (r *Registry) Update(id string, rule domain.AlertRule) (domain.AlertRule, error) {
	rule.ID = id
	if err := rule.Validate(); err != nil {
		return domain.AlertRule{}, err
	}
	r.mu.Lock()
	previous, ok := r.rules[id]
	if !ok {
		r.mu.Unlock()
		return domain.AlertRule{}, ErrNotFound
	}
	r.rules[id] = rule
	hooks := r.hooksLocked()
	r.mu.Unlock()

	// Deactivation discards runtime trigger state; reactivation starts fresh.
	if previous.IsActive && !rule.IsActive {
		fireHooks(hooks, id)
	}
	return rule, nil
}

// Delete removes one rule by ID and discards its runtime state.
// Params: rule ID.
// Returns: ErrNotFound when rule is absent.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	if _, ok := r.rules[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.rules, id)
	hooks := r.hooksLocked()
	r.mu.Unlock()

	fireHooks(hooks, id)
	return nil
}

// Get returns one rule by ID.
// Params: rule ID.
// Returns: rule or ErrNotFound.
func (r *Registry) Get(id string) (domain.AlertRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return domain.AlertRule{}, ErrNotFound
	}
	return rule, nil
}

// List returns all rules sorted by name then ID.
// Params: none.
// Returns: rule snapshot slice.
func (r *Registry) List() []domain.AlertRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AlertRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ListActive returns active rules matching one device/probe pair.
// Params: reading device and probe identifiers.
// Returns: applicable rule snapshot slice (empty for unmatched readings).
func (r *Registry) ListActive(deviceID, probeID string) []domain.AlertRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AlertRule, 0, 4)
	for _, rule := range r.rules {
		if !rule.IsActive {
			continue
		}
		if !rule.Matches(deviceID, probeID) {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) hooksLocked() []RemovalHook {
	return append([]RemovalHook(nil), r.hooks...)
}

func fireHooks(hooks []RemovalHook, ruleID string) {
	for _, hook := range hooks {
		hook(ruleID)
	}
}

package resilience

import (
	"sort"
	"sync"
)

// Manager holds one breaker per provider, created lazily on first use.
// It is the one piece of process-wide mutable state the admin endpoints
// reach into directly.
type Manager struct {
	mu            sync.RWMutex
	breakers      map[string]*Breaker
	cfg           Config
	onStateChange func(provider string, from, to State)
}

// NewManager creates a breaker manager with shared tuning for every
// provider.
func NewManager(cfg Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// OnStateChange sets the transition callback applied to every breaker,
// existing and future. Set it before traffic starts.
func (m *Manager) OnStateChange(fn func(provider string, from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
	for _, b := range m.breakers {
		b.OnStateChange(fn)
	}
}

// Get returns the breaker for a provider, creating it closed on first
// use.
func (m *Manager) Get(provider string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(provider, m.cfg)
	if m.onStateChange != nil {
		b.OnStateChange(m.onStateChange)
	}
	m.breakers[provider] = b
	return b
}

// Allow reports whether the provider may be attempted.
func (m *Manager) Allow(provider string) bool {
	return m.Get(provider).Allow()
}

// RecordSuccess records a successful attempt against the provider.
func (m *Manager) RecordSuccess(provider string) {
	m.Get(provider).RecordSuccess()
}

// RecordFailure records a breaker-relevant failure against the provider.
func (m *Manager) RecordFailure(provider string) {
	m.Get(provider).RecordFailure()
}

// RecordNeutral releases the provider's half-open probe slot after an
// outcome that charges nothing either way.
func (m *Manager) RecordNeutral(provider string) {
	m.Get(provider).RecordNeutral()
}

// Snapshot returns the breaker state for one provider. The second
// return is false when no breaker exists yet (no attempt was made).
func (m *Manager) Snapshot(provider string) (Snapshot, bool) {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return b.Snapshot(), true
}

// Snapshots returns every breaker's state, sorted by provider name for
// stable output.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Reset forces the named provider's breaker closed. It reports false
// when no breaker exists for the provider.
func (m *Manager) Reset(provider string) bool {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// Package resilience implements the per-provider circuit breakers that
// gate fallback execution. A breaker trips after a run of infrastructure
// failures, rejects calls while open, and probes recovery through a
// budgeted half-open state. Which failures count is the executor's call;
// the breaker only keeps state.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed admits requests normally.
	StateClosed State = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of probe requests.
	StateHalfOpen
)

// String returns the wire form used by the admin API and persisted
// snapshots.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a breaker rejects a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config contains circuit breaker tuning.
type Config struct {
	// FailureThreshold is the failure count at which a closed breaker
	// opens.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before admitting a
	// half-open probe.
	Cooldown time.Duration
	// HalfOpenMax bounds in-flight probes while half-open.
	HalfOpenMax int
}

// DefaultConfig returns the default breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		HalfOpenMax:      1,
	}
}

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	Provider     string     `json:"provider"`
	State        string     `json:"state"`
	FailureCount int        `json:"failure_count"`
	LastFailure  *time.Time `json:"last_failure_time,omitempty"`
	LastSuccess  *time.Time `json:"last_success_time,omitempty"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
}

// Breaker is the three-state machine for one provider.
//
// Invariants: the failure count rises only until the threshold trips;
// any recorded success zeroes it. openedAt is set exactly when the
// breaker opens (including a half-open probe failing) and cleared when
// it closes.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failureCount     int
	halfOpenInFlight int
	lastFailure      *time.Time
	lastSuccess      *time.Time
	openedAt         *time.Time
	cfg              Config
	onStateChange    func(name string, from, to State)
}

// NewBreaker creates a closed breaker for the named provider.
func NewBreaker(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultConfig().HalfOpenMax
	}
	return &Breaker{
		name:  name,
		state: StateClosed,
		cfg:   cfg,
	}
}

// OnStateChange sets a callback for state transitions. The callback runs
// on its own goroutine so store writes and alerts never block the
// request path.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Allow reports whether a request may proceed. An open breaker whose
// cooldown has elapsed (equality passes) moves to half-open and admits
// the caller as the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.openedAt != nil && time.Since(*b.openedAt) >= b.cfg.Cooldown {
			b.transitionTo(StateHalfOpen)
			b.halfOpenInFlight = 1
			return true
		}
		return false

	case StateHalfOpen:
		if b.halfOpenInFlight < b.cfg.HalfOpenMax {
			b.halfOpenInFlight++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess clears the failure bookkeeping; a half-open probe
// succeeding closes the breaker. A success while fully open (a call that
// started before the trip) does not close it.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastSuccess = &now
	b.failureCount = 0
	b.lastFailure = nil

	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
		b.openedAt = nil
		b.halfOpenInFlight = 0
	}
}

// RecordFailure counts a breaker-relevant failure. Reaching the
// threshold while closed opens the breaker; a half-open probe failing
// re-opens it with a fresh openedAt so the cooldown restarts.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailure = &now
	b.failureCount++

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
			b.openedAt = &now
		}

	case StateHalfOpen:
		b.transitionTo(StateOpen)
		b.openedAt = &now
		b.halfOpenInFlight = 0
	}
}

// RecordNeutral releases a half-open probe slot for an outcome that
// neither proves recovery nor counts against the provider (a caller
// fault like 401/404/429, or the caller going away). Without this a
// failed probe with a non-counting tag would hold the slot forever and
// strand the breaker half-open. State and counters are untouched.
func (b *Breaker) RecordNeutral() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive-failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Snapshot returns a point-in-time view for the admin API and the
// observability store.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Provider:     b.name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		LastFailure:  copyTime(b.lastFailure),
		LastSuccess:  copyTime(b.lastSuccess),
		OpenedAt:     copyTime(b.openedAt),
	}
}

// Reset forces the breaker closed: counter zeroed, openedAt cleared,
// lastSuccess stamped. Used by the admin reset endpoint.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.transitionTo(StateClosed)
	b.failureCount = 0
	b.halfOpenInFlight = 0
	b.lastFailure = nil
	b.lastSuccess = &now
	b.openedAt = nil
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState

	if b.onStateChange != nil {
		go b.onStateChange(b.name, oldState, newState)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

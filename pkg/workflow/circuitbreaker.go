package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen is returned by CircuitBreaker.Call when the breaker is open and
// fails fast without invoking the wrapped function.
var ErrCircuitOpen = errors.New("fractor: circuit breaker open")

// CircuitBreakerConfig parameterizes one breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	Timeout          time.Duration
	HalfOpenCalls    int

	// TolerantRecovery: when true, the first probe failure immediately after entering
	// half-open is forgiven and the breaker stays half-open; when false (the zero
	// value), any half-open probe failure reopens the breaker.
	TolerantRecovery bool
}

// CircuitBreaker is a per-key three-state machine: closed/open/half_open. Transitions
// are protected by a mutex; state reads are lock-free via atomics.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu               sync.Mutex
	failureCount     int
	successInProbe   int
	lastFailureTime  time.Time
	justTransitioned bool

	state atomic.Int32
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HalfOpenCalls <= 0 {
		cfg.HalfOpenCalls = 1
	}
	cb := &CircuitBreaker{cfg: cfg}
	cb.state.Store(int32(BreakerClosed))
	return cb
}

// State is a lock-free read of the current state.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(cb.state.Load())
}

// Call invokes fn if the breaker permits it, recording the outcome against the state
// machine. Returns ErrCircuitOpen without invoking fn when the breaker is open and has
// not yet reached its timeout.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// allow decides whether a call may proceed, performing the open->half_open transition
// if the timeout has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch BreakerState(cb.state.Load()) {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(cb.lastFailureTime) >= cb.cfg.Timeout {
			cb.state.Store(int32(BreakerHalfOpen))
			cb.lastFailureTime = time.Time{}
			cb.successInProbe = 0
			cb.justTransitioned = true
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch BreakerState(cb.state.Load()) {
	case BreakerClosed:
		if err == nil {
			cb.failureCount = 0
			return
		}
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.state.Store(int32(BreakerOpen))
			cb.lastFailureTime = time.Now()
		}
	case BreakerHalfOpen:
		if err == nil {
			cb.successInProbe++
			if cb.successInProbe >= cb.cfg.HalfOpenCalls {
				cb.state.Store(int32(BreakerClosed))
				cb.failureCount = 0
				cb.successInProbe = 0
			}
			return
		}
		if cb.cfg.TolerantRecovery && cb.justTransitioned {
			cb.justTransitioned = false
			return
		}
		cb.state.Store(int32(BreakerOpen))
		cb.lastFailureTime = time.Now()
		cb.justTransitioned = false
	case BreakerOpen:
		// A call slipped through a race between allow() and record(); treat as
		// another failure while open, refreshing the timeout window.
		cb.lastFailureTime = time.Now()
	}
}

// Reset forces the breaker back to its initial closed state regardless of history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state.Store(int32(BreakerClosed))
	cb.failureCount = 0
	cb.successInProbe = 0
	cb.lastFailureTime = time.Time{}
	cb.justTransitioned = false
}

// CircuitBreakerStats snapshots a breaker's counters for introspection.
type CircuitBreakerStats struct {
	State        BreakerState
	FailureCount int
}

// Stats returns a point-in-time snapshot.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{State: BreakerState(cb.state.Load()), FailureCount: cb.failureCount}
}

// CircuitBreakerRegistry holds a thread-safe key->breaker map so jobs sharing a key
// share one breaker.
type CircuitBreakerRegistry struct {
	mu                sync.Mutex
	breakers          map[string]*CircuitBreaker
	orchestrators     map[string]*CircuitBreakerOrchestrator
	adaptive          map[string]*AdaptiveBreaker
	adaptiveOrchestra map[string]*AdaptiveBreakerOrchestrator
	defaultCfg        CircuitBreakerConfig
}

// NewCircuitBreakerRegistry constructs a registry using defaultCfg for any key seen
// for the first time.
func NewCircuitBreakerRegistry(defaultCfg CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers:          make(map[string]*CircuitBreaker),
		orchestrators:     make(map[string]*CircuitBreakerOrchestrator),
		adaptive:          make(map[string]*AdaptiveBreaker),
		adaptiveOrchestra: make(map[string]*AdaptiveBreakerOrchestrator),
		defaultCfg:        defaultCfg,
	}
}

// GetOrCreate returns the breaker for key, constructing one with cfg (or the registry
// default if cfg is nil) on first access.
func (r *CircuitBreakerRegistry) GetOrCreate(key string, cfg *CircuitBreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	use := r.defaultCfg
	if cfg != nil {
		use = *cfg
	}
	cb := NewCircuitBreaker(use)
	r.breakers[key] = cb
	return cb
}

// Orchestrator returns (creating if necessary) the CircuitBreakerOrchestrator for key.
func (r *CircuitBreakerRegistry) Orchestrator(key string, cfg *CircuitBreakerConfig) *CircuitBreakerOrchestrator {
	r.mu.Lock()
	if o, ok := r.orchestrators[key]; ok {
		r.mu.Unlock()
		return o
	}
	r.mu.Unlock()
	cb := r.GetOrCreate(key, cfg)
	o := &CircuitBreakerOrchestrator{Key: key, Breaker: cb}
	r.mu.Lock()
	r.orchestrators[key] = o
	r.mu.Unlock()
	return o
}

// GetOrCreateAdaptive returns the adaptive breaker for key, constructing one with cfg
// on first access.
func (r *CircuitBreakerRegistry) GetOrCreateAdaptive(key string, cfg AdaptiveBreakerConfig) *AdaptiveBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ab, ok := r.adaptive[key]; ok {
		return ab
	}
	ab := NewAdaptiveBreakerFromConfig(cfg)
	r.adaptive[key] = ab
	return ab
}

// AdaptiveOrchestrator returns (creating if necessary) the AdaptiveBreakerOrchestrator
// for key — the adaptive-breaker counterpart to Orchestrator, used when
// Job.UseAdaptiveBreaker selects the rolling-window strategy over the plain
// consecutive-failure CircuitBreaker.
func (r *CircuitBreakerRegistry) AdaptiveOrchestrator(key string, cfg AdaptiveBreakerConfig) *AdaptiveBreakerOrchestrator {
	r.mu.Lock()
	if o, ok := r.adaptiveOrchestra[key]; ok {
		r.mu.Unlock()
		return o
	}
	r.mu.Unlock()
	ab := r.GetOrCreateAdaptive(key, cfg)
	o := &AdaptiveBreakerOrchestrator{Key: key, Breaker: ab}
	r.mu.Lock()
	r.adaptiveOrchestra[key] = o
	r.mu.Unlock()
	return o
}

// ResetAll resets every registered breaker (both strategies) to closed.
func (r *CircuitBreakerRegistry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
	for _, ab := range r.adaptive {
		ab.Reset()
	}
}

// Clear removes every breaker and orchestrator from the registry.
func (r *CircuitBreakerRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
	r.orchestrators = make(map[string]*CircuitBreakerOrchestrator)
	r.adaptive = make(map[string]*AdaptiveBreaker)
	r.adaptiveOrchestra = make(map[string]*AdaptiveBreakerOrchestrator)
}

// AllStats snapshots every registered breaker, keyed by registry key.
func (r *CircuitBreakerRegistry) AllStats() map[string]CircuitBreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]CircuitBreakerStats, len(r.breakers))
	for key, cb := range r.breakers {
		out[key] = cb.Stats()
	}
	return out
}

// CircuitBreakerOrchestrator pairs a breaker with job-level counters and is the single
// integration point WorkflowExecutor calls through.
type CircuitBreakerOrchestrator struct {
	Key     string
	Breaker *CircuitBreaker

	mu         sync.Mutex
	executions int
	successes  int
	blocked    int
}

// ExecuteWithBreaker runs fn through the breaker, tallying executions/successes/
// blocked calls.
func (o *CircuitBreakerOrchestrator) ExecuteWithBreaker(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	o.mu.Lock()
	o.executions++
	o.mu.Unlock()

	var result any
	err := o.Breaker.Call(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	o.mu.Lock()
	switch {
	case err == nil:
		o.successes++
	case errors.Is(err, ErrCircuitOpen):
		o.blocked++
	}
	o.mu.Unlock()
	return result, err
}

// AdaptiveBreakerOrchestrator is AdaptiveBreaker's counterpart to
// CircuitBreakerOrchestrator, giving executor.go a single ExecuteWithBreaker call
// regardless of which strategy a Job selected.
type AdaptiveBreakerOrchestrator struct {
	Key     string
	Breaker *AdaptiveBreaker

	mu         sync.Mutex
	executions int
	successes  int
	blocked    int
}

// ExecuteWithBreaker runs fn through the adaptive breaker, tallying
// executions/successes/blocked calls.
func (o *AdaptiveBreakerOrchestrator) ExecuteWithBreaker(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	o.mu.Lock()
	o.executions++
	o.mu.Unlock()

	var result any
	err := o.Breaker.Call(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	o.mu.Lock()
	switch {
	case err == nil:
		o.successes++
	case errors.Is(err, ErrCircuitOpen):
		o.blocked++
	}
	o.mu.Unlock()
	return result, err
}

// Counters snapshots executions/successes/blocked.
func (o *AdaptiveBreakerOrchestrator) Counters() (executions, successes, blocked int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.executions, o.successes, o.blocked
}

// Counters snapshots executions/successes/blocked.
func (o *CircuitBreakerOrchestrator) Counters() (executions, successes, blocked int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.executions, o.successes, o.blocked
}

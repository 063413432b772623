package workflow

import (
	"context"
	"math"
	"sync"
	"time"
)

// AdaptiveBreakerObserver receives open/close transitions for metrics wiring: an
// explicit collaborator rather than a breaker reaching into a global OTel meter
// directly.
type AdaptiveBreakerObserver interface {
	OnOpen()
	OnClose()
}

type noopAdaptiveObserver struct{}

func (noopAdaptiveObserver) OnOpen()  {}
func (noopAdaptiveObserver) OnClose() {}

// AdaptiveBreaker is a failure-rate circuit breaker over a rolling time window, with a
// threshold that adapts to recent volatility: sustained low error rates relax it,
// sustained high error rates tighten it. This is an alternate strategy to the
// consecutive-failure CircuitBreaker, offered for jobs whose upstream load is bursty
// enough that a raw failure count trips too eagerly or too late.
type AdaptiveBreaker struct {
	mu sync.Mutex

	minSamples        int
	failureRateOpen   float64
	halfOpenAfter     time.Duration
	maxHalfOpenProbes int

	minAdaptiveOpen  float64
	maxAdaptiveOpen  float64
	evalInterval     time.Duration
	lastEval         time.Time
	dynamicThreshold float64

	openedAt       time.Time
	state          BreakerState
	window         *slidingWindow
	halfOpenProbes int

	observer AdaptiveBreakerObserver
}

// AdaptiveBreakerConfig parameterizes one AdaptiveBreaker the same way
// CircuitBreakerConfig parameterizes a CircuitBreaker, so a Job can select the
// adaptive strategy without calling NewAdaptiveBreaker's positional constructor
// directly.
type AdaptiveBreakerConfig struct {
	WindowSize        time.Duration
	Buckets           int
	MinSamples        int
	FailureRateOpen   float64
	HalfOpenAfter     time.Duration
	MaxHalfOpenProbes int
	Observer          AdaptiveBreakerObserver
}

// NewAdaptiveBreakerFromConfig applies the same defaulting NewCircuitBreaker uses:
// zero-value fields fall back to sane defaults rather than degenerate behavior.
func NewAdaptiveBreakerFromConfig(cfg AdaptiveBreakerConfig) *AdaptiveBreaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60 * time.Second
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = 10
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.FailureRateOpen <= 0 {
		cfg.FailureRateOpen = 0.5
	}
	if cfg.HalfOpenAfter <= 0 {
		cfg.HalfOpenAfter = 30 * time.Second
	}
	if cfg.MaxHalfOpenProbes <= 0 {
		cfg.MaxHalfOpenProbes = 3
	}
	return NewAdaptiveBreaker(cfg.WindowSize, cfg.Buckets, cfg.MinSamples, cfg.FailureRateOpen, cfg.HalfOpenAfter, cfg.MaxHalfOpenProbes, cfg.Observer)
}

// Call invokes fn if the breaker permits it, recording the outcome against the rolling
// window. Mirrors CircuitBreaker.Call so both types can sit behind the same
// orchestrator wiring in executor.go.
func (c *AdaptiveBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !c.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	c.RecordResult(err == nil)
	return err
}

// NewAdaptiveBreaker constructs a breaker over a rolling window of windowSize split
// into buckets, opening once the failure rate over minSamples+ requests reaches
// failureRateOpen, cooling down for halfOpenAfter, then probing up to
// maxHalfOpenProbes requests before fully closing.
func NewAdaptiveBreaker(windowSize time.Duration, buckets, minSamples int, failureRateOpen float64, halfOpenAfter time.Duration, maxHalfOpenProbes int, observer AdaptiveBreakerObserver) *AdaptiveBreaker {
	if buckets <= 0 {
		buckets = 1
	}
	if observer == nil {
		observer = noopAdaptiveObserver{}
	}
	rate := math.Min(math.Max(failureRateOpen, 0), 1)
	return &AdaptiveBreaker{
		minSamples:        minSamples,
		failureRateOpen:   rate,
		halfOpenAfter:     halfOpenAfter,
		maxHalfOpenProbes: maxHalfOpenProbes,
		state:             BreakerClosed,
		window:            newSlidingWindow(windowSize, buckets),
		minAdaptiveOpen:   math.Min(math.Max(rate*0.5, 0.05), rate),
		maxAdaptiveOpen:   math.Min(0.95, math.Max(rate*1.5, rate)),
		evalInterval:      5 * time.Second,
		dynamicThreshold:  rate,
		observer:          observer,
	}
}

// Allow reports whether a request is currently permitted, performing the open->
// half_open cool-down transition if due.
func (c *AdaptiveBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case BreakerOpen:
		if time.Since(c.openedAt) >= c.halfOpenAfter {
			c.state = BreakerHalfOpen
			c.halfOpenProbes = 1
		} else {
			return false
		}
	case BreakerHalfOpen:
		if c.halfOpenProbes >= c.maxHalfOpenProbes {
			return false
		}
		c.halfOpenProbes++
	}
	return true
}

// RecordResult records a success or failure outcome and re-evaluates the breaker's
// state and (periodically) its adaptive threshold.
func (c *AdaptiveBreaker) RecordResult(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.add(success)

	if time.Since(c.lastEval) >= c.evalInterval {
		total, failures := c.window.stats()
		if total > 0 {
			fr := float64(failures) / float64(total)
			if fr > c.failureRateOpen {
				c.dynamicThreshold = math.Max(c.minAdaptiveOpen, c.dynamicThreshold*0.7)
			} else {
				c.dynamicThreshold = math.Min(c.maxAdaptiveOpen, c.dynamicThreshold*1.05)
			}
		}
		c.lastEval = time.Now()
	}

	switch c.state {
	case BreakerClosed:
		total, failures := c.window.stats()
		if total >= c.minSamples && float64(failures)/float64(total) >= c.dynamicThreshold {
			c.transitionToOpen()
		}
	case BreakerHalfOpen:
		if !success {
			c.transitionToOpen()
		} else if c.halfOpenProbes >= c.maxHalfOpenProbes {
			c.resetLocked()
		}
	case BreakerOpen:
		// Allow() governs the open->half_open timing; nothing to do here.
	}
}

func (c *AdaptiveBreaker) transitionToOpen() {
	c.state = BreakerOpen
	c.openedAt = time.Now()
	c.observer.OnOpen()
}

func (c *AdaptiveBreaker) resetLocked() {
	c.state = BreakerClosed
	c.openedAt = time.Time{}
	c.window.reset()
	c.observer.OnClose()
}

// Reset forces the breaker back to closed regardless of history.
func (c *AdaptiveBreaker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// State is a point-in-time read of the current state.
func (c *AdaptiveBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// slidingWindow buckets success/failure counts over fixed time intervals, evicting
// stale buckets implicitly by overwriting them once their interval recurs.
type slidingWindow struct {
	buckets  int
	interval time.Duration
	data     []bucket
	nowFn    func() time.Time
}

type bucket struct {
	success, fail int
	epoch         int64
}

func newSlidingWindow(size time.Duration, buckets int) *slidingWindow {
	return &slidingWindow{
		buckets:  buckets,
		interval: size / time.Duration(buckets),
		data:     make([]bucket, buckets),
		nowFn:    time.Now,
	}
}

func (w *slidingWindow) currentIndex(now time.Time) int {
	return int(now.UnixNano()/w.interval.Nanoseconds()) % w.buckets
}

func (w *slidingWindow) add(success bool) {
	now := w.nowFn()
	idx := w.currentIndex(now)
	epoch := now.UnixNano() / w.interval.Nanoseconds()
	if w.data[idx].epoch != epoch {
		w.data[idx] = bucket{epoch: epoch}
	}
	if success {
		w.data[idx].success++
	} else {
		w.data[idx].fail++
	}
}

func (w *slidingWindow) stats() (total, failures int) {
	for _, b := range w.data {
		total += b.success + b.fail
		failures += b.fail
	}
	return
}

func (w *slidingWindow) reset() {
	for i := range w.data {
		w.data[i] = bucket{}
	}
}

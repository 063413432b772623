package fractor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SupervisorConfig controls a Supervisor's pool size, timeouts, and instrumentation.
type SupervisorConfig struct {
	WorkerCount    int
	DefaultTimeout time.Duration
	Logger         *slog.Logger
	Instruments    Instruments

	// Metrics, if set, is fed from the same record() call site as Instruments: every
	// WorkResult updates its Prometheus counters/gauges, so the /metrics endpoint
	// reflects real work instead of scraping as permanently zero.
	Metrics *MetricsRegistry
}

// Instruments is the subset of OTel instruments a Supervisor reports through; defined
// here (rather than importing internal/telemetry) to keep pkg/fractor free of an
// internal-package dependency. A cmd-level wiring layer adapts telemetry.Instruments to
// this shape.
type Instruments struct {
	RecordProcessed func(ctx context.Context)
	RecordSucceeded func(ctx context.Context)
	RecordFailed    func(ctx context.Context, category ErrorCategory)
	RecordDuration  func(ctx context.Context, millis float64)
}

// Supervisor runs a fixed pool of WorkerActors against a WorkQueue, dispatching to idle
// actors and aggregating results as they arrive, until the queue is drained and every
// actor is idle.
type Supervisor struct {
	cfg         SupervisorConfig
	distributor *WorkDistributor
	aggregator  *ResultAggregator
	reporter    *ErrorReporter
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewSupervisor constructs a Supervisor with cfg.WorkerCount actors produced by
// factory. DefaultTimeout and WorkerCount fall back to sane defaults if unset.
func NewSupervisor(factory WorkerFactory, cfg SupervisorConfig) *Supervisor {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:         cfg,
		distributor: NewWorkDistributor(cfg.WorkerCount, factory, cfg.DefaultTimeout),
		aggregator:  NewResultAggregator(),
		reporter:    NewErrorReporter(),
		logger:      logger,
	}
}

// Run drains queue to completion: every item is dispatched to an idle actor, and Run
// returns once the queue is empty and every dispatched item has produced a result.
// ctx cancellation stops dispatching new work but still waits for in-flight work to
// finish or time out.
func (s *Supervisor) Run(ctx context.Context, queue *WorkQueue) *ResultAggregator {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.distributor.Start()
	defer s.distributor.Shutdown()

	s.logger.Info("supervisor run starting", "workers", s.cfg.WorkerCount, "queue_size", queue.Size())

	pending := 0
	envelopes := s.distributor.Envelopes()
	dispatchedAt := make(map[string]time.Time, s.cfg.WorkerCount)

	dispatchMore := func() {
		for s.distributor.IdleCount() > 0 {
			work, ok := queue.Pop()
			if !ok {
				return
			}
			if name, dispatched := s.distributor.Dispatch(work); dispatched {
				pending++
				dispatchedAt[name] = time.Now()
			}
		}
	}

	dispatchMore()
	for pending > 0 || !queue.Empty() {
		select {
		case <-ctx.Done():
			s.logger.Warn("supervisor run canceled", "pending", pending)
			s.drainPending(envelopes, pending)
			return s.aggregator
		case env := <-envelopes:
			if env.Type == EnvInitialize || env.Type == EnvShutdown {
				continue
			}
			pending--
			latency := time.Since(dispatchedAt[env.Processor])
			delete(dispatchedAt, env.Processor)
			s.record(ctx, env.Result, latency)
			s.distributor.MarkIdle(env.Processor)
			dispatchMore()
		}
	}

	s.logger.Info("supervisor run complete", "processed", s.aggregator.Stats().Processed)
	return s.aggregator
}

func (s *Supervisor) drainPending(envelopes <-chan Envelope, pending int) {
	for pending > 0 {
		env := <-envelopes
		if env.Type == EnvInitialize || env.Type == EnvShutdown {
			continue
		}
		pending--
		s.record(context.Background(), env.Result, 0)
	}
}

func (s *Supervisor) record(ctx context.Context, result WorkResult, latency time.Duration) {
	s.aggregator.Add(result)
	if !result.Success {
		s.reporter.Report(result)
	}
	if i := s.cfg.Instruments; i.RecordProcessed != nil {
		i.RecordProcessed(ctx)
		if result.Success {
			i.RecordSucceeded(ctx)
		} else {
			i.RecordFailed(ctx, result.ErrorCategory)
		}
		if i.RecordDuration != nil {
			i.RecordDuration(ctx, float64(latency.Milliseconds()))
		}
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Observe(result, latency.Seconds())
		idle, total := s.WorkersStatus()
		s.cfg.Metrics.ObserveWorkers(idle, total)
		if stats := s.aggregator.Stats(); stats.Processed > 0 {
			s.cfg.Metrics.SetErrorRate(float64(stats.Failed) / float64(stats.Processed))
		}
	}
}

// Aggregator exposes the running ResultAggregator for introspection mid-run.
func (s *Supervisor) Aggregator() *ResultAggregator { return s.aggregator }

// ErrorReporter exposes the running ErrorReporter for introspection mid-run.
func (s *Supervisor) ErrorReporter() *ErrorReporter { return s.reporter }

// InspectQueue reports the current size of queue, for debug/introspection endpoints.
func (s *Supervisor) InspectQueue(queue *WorkQueue) int { return queue.Size() }

// WorkersStatus reports idle/busy counts across the actor roster.
func (s *Supervisor) WorkersStatus() (idle, total int) {
	return s.distributor.IdleCount(), len(s.distributor.Actors())
}

// PerformanceMetrics returns the current AggregatedStats snapshot, for a
// performance-monitor endpoint.
func (s *Supervisor) PerformanceMetrics() AggregatedStats {
	return s.aggregator.Stats()
}

// Running reports whether a Run call is currently in progress.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

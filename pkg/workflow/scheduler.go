package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ScheduleConfig declares when and how a registered Definition should run: either on a
// cron expression or in response to a named event type, optionally filtered.
type ScheduleConfig struct {
	WorkflowName  string            `json:"workflow_name"`
	CronExpr      string            `json:"cron_expr,omitempty"`
	EventType     string            `json:"event_type,omitempty"`
	EventFilter   map[string]any    `json:"event_filter,omitempty"`
	Enabled       bool              `json:"enabled"`
	MaxConcurrent int               `json:"max_concurrent,omitempty"`
	Timeout       time.Duration     `json:"timeout,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// eventHandler tracks every schedule subscribed to one event type and how many of its
// executions are currently in flight.
type eventHandler struct {
	mu          sync.Mutex
	schedules   []*ScheduleConfig
	running     int
	lastTrigger time.Time
}

// Scheduler drives cron-based and event-driven workflow triggers against a Store,
// running each via a fresh WorkflowExecutor.
type Scheduler struct {
	cron          *cron.Cron
	store         *Store
	executorFor   func(def *Definition) *WorkflowExecutor
	eventHandlers map[string]*eventHandler
	mu            sync.RWMutex
	logger        *slog.Logger

	scheduleRuns  metric.Int64Counter
	scheduleFails metric.Int64Counter
	eventTriggers metric.Int64Counter
	tracer        trace.Tracer
}

// NewScheduler constructs a Scheduler over store, using executorFor to build a fresh
// WorkflowExecutor for a workflow's Definition before each scheduled run — this lets
// the caller customize strategy/hooks/circuit registry per workflow. If executorFor is
// nil, NewWorkflowExecutor's defaults are used for every run.
func NewScheduler(store *Store, executorFor func(*Definition) *WorkflowExecutor, meter metric.Meter, logger *slog.Logger) *Scheduler {
	if executorFor == nil {
		executorFor = NewWorkflowExecutor
	}
	if meter == nil {
		meter = otel.Meter("workflow-scheduler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	scheduleRuns, _ := meter.Int64Counter("workflow_schedule_runs_total")
	scheduleFails, _ := meter.Int64Counter("workflow_schedule_failures_total")
	eventTriggers, _ := meter.Int64Counter("workflow_event_triggers_total")

	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		store:         store,
		executorFor:   executorFor,
		eventHandlers: make(map[string]*eventHandler),
		logger:        logger,
		scheduleRuns:  scheduleRuns,
		scheduleFails: scheduleFails,
		eventTriggers: eventTriggers,
		tracer:        otel.Tracer("workflow-scheduler"),
	}
}

// Start begins the cron loop. Event-driven schedules need no separate start; they fire
// from TriggerEvent calls.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop drains in-flight cron jobs, respecting ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
		return ctx.Err()
	}
}

// AddSchedule registers config, persisting it so RestoreSchedules can recreate it after
// a restart. Exactly one of CronExpr/EventType must be set.
func (s *Scheduler) AddSchedule(ctx context.Context, config *ScheduleConfig) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.add_schedule",
		trace.WithAttributes(
			attribute.String("workflow", config.WorkflowName),
			attribute.String("cron", config.CronExpr),
		),
	)
	defer span.End()

	switch {
	case config.CronExpr != "":
		entryID, err := s.cron.AddFunc(config.CronExpr, func() {
			s.runScheduled(context.Background(), config)
		})
		if err != nil {
			return fmt.Errorf("workflow: add cron schedule: %w", err)
		}
		s.logger.Info("cron schedule added", "workflow", config.WorkflowName, "cron", config.CronExpr, "entry_id", entryID)
	case config.EventType != "":
		s.registerEventHandler(config)
		s.logger.Info("event trigger added", "workflow", config.WorkflowName, "event_type", config.EventType)
	default:
		return fmt.Errorf("workflow: schedule for %q needs either cron_expr or event_type", config.WorkflowName)
	}

	return s.persistSchedule(config)
}

func (s *Scheduler) persistSchedule(config *ScheduleConfig) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("workflow: marshal schedule: %w", err)
	}
	return s.store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(config.WorkflowName), data)
	})
}

// RemoveSchedule drops a workflow's event-handler registrations and persisted
// schedule. The cron library has no remove-by-name primitive, so a live cron entry for
// workflowName keeps firing until process restart; RestoreSchedules will not
// re-register it once removed here.
func (s *Scheduler) RemoveSchedule(ctx context.Context, workflowName string) error {
	s.mu.Lock()
	for eventType, handler := range s.eventHandlers {
		kept := handler.schedules[:0]
		for _, sched := range handler.schedules {
			if sched.WorkflowName != workflowName {
				kept = append(kept, sched)
			}
		}
		handler.schedules = kept
		if len(handler.schedules) == 0 {
			delete(s.eventHandlers, eventType)
		}
	}
	s.mu.Unlock()

	err := s.store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Delete([]byte(workflowName))
	})
	if err != nil {
		return fmt.Errorf("workflow: delete schedule: %w", err)
	}
	s.logger.Info("schedule removed", "workflow", workflowName)
	return nil
}

// ListSchedules returns every persisted schedule.
func (s *Scheduler) ListSchedules(ctx context.Context) ([]*ScheduleConfig, error) {
	var schedules []*ScheduleConfig
	err := s.store.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSchedules)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var config ScheduleConfig
			if err := json.Unmarshal(v, &config); err != nil {
				return nil
			}
			schedules = append(schedules, &config)
			return nil
		})
	})
	return schedules, err
}

// TriggerEvent fires every enabled schedule subscribed to eventType whose EventFilter
// matches eventData, honoring each schedule's MaxConcurrent cap.
func (s *Scheduler) TriggerEvent(ctx context.Context, eventType string, eventData map[string]any) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.trigger_event", trace.WithAttributes(attribute.String("event_type", eventType)))
	defer span.End()

	s.mu.RLock()
	handler, ok := s.eventHandlers[eventType]
	s.mu.RUnlock()
	if !ok {
		span.AddEvent("no_handlers")
		return nil
	}

	s.eventTriggers.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))

	for _, schedule := range handler.schedules {
		if !schedule.Enabled || !matchesFilter(eventData, schedule.EventFilter) {
			continue
		}

		handler.mu.Lock()
		if schedule.MaxConcurrent > 0 && handler.running >= schedule.MaxConcurrent {
			handler.mu.Unlock()
			s.logger.Warn("max concurrent executions reached", "workflow", schedule.WorkflowName, "max", schedule.MaxConcurrent)
			continue
		}
		handler.running++
		handler.lastTrigger = time.Now()
		handler.mu.Unlock()

		go func(cfg *ScheduleConfig) {
			defer func() {
				handler.mu.Lock()
				handler.running--
				handler.mu.Unlock()
			}()
			execCtx := context.Background()
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				execCtx, cancel = context.WithTimeout(execCtx, cfg.Timeout)
				defer cancel()
			}
			s.runScheduled(execCtx, cfg)
		}(schedule)
	}

	return nil
}

func (s *Scheduler) runScheduled(ctx context.Context, config *ScheduleConfig) {
	ctx, span := s.tracer.Start(ctx, "scheduler.run_workflow", trace.WithAttributes(attribute.String("workflow", config.WorkflowName)))
	defer span.End()
	start := time.Now()

	def, ok := s.store.GetDefinition(config.WorkflowName)
	if !ok {
		s.logger.Error("scheduled workflow not registered", "workflow", config.WorkflowName)
		s.scheduleFails.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", config.WorkflowName)))
		return
	}

	exec := s.executorFor(def)
	result, err := exec.Execute(ctx, config.Metadata, uuid.NewString())
	if err != nil {
		s.logger.Error("scheduled workflow execution failed", "workflow", config.WorkflowName, "error", err, "duration_ms", time.Since(start).Milliseconds())
		s.scheduleFails.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", config.WorkflowName)))
	}
	if result != nil {
		if putErr := s.store.PutExecution(ctx, NewStoredExecution(result.CorrelationID, result)); putErr != nil {
			s.logger.Error("failed to store scheduled execution", "error", putErr)
		}
	}
	if err == nil {
		s.scheduleRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", config.WorkflowName), attribute.String("status", "success")))
		s.logger.Info("scheduled workflow completed", "workflow", config.WorkflowName, "duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Scheduler) registerEventHandler(config *ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handler, ok := s.eventHandlers[config.EventType]
	if !ok {
		handler = &eventHandler{}
		s.eventHandlers[config.EventType] = handler
	}
	handler.schedules = append(handler.schedules, config)
}

func matchesFilter(eventData, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for key, expected := range filter {
		actual, ok := eventData[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected) {
			return false
		}
	}
	return true
}

// ScheduleStats summarizes the scheduler's current registrations, useful for a status
// endpoint.
type ScheduleStats struct {
	CronEntries       int                     `json:"cron_entries"`
	EventHandlers     int                     `json:"event_handlers"`
	TotalSchedules    int                     `json:"total_schedules"`
	EventHandlerStats map[string]HandlerStats `json:"event_handler_stats"`
}

// HandlerStats summarizes one event type's subscribed schedules.
type HandlerStats struct {
	Schedules   int       `json:"schedules"`
	Running     int       `json:"running"`
	LastTrigger time.Time `json:"last_trigger"`
}

// Stats reports current scheduler registrations and in-flight counts.
func (s *Scheduler) Stats() ScheduleStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ScheduleStats{
		CronEntries:       len(s.cron.Entries()),
		EventHandlers:     len(s.eventHandlers),
		EventHandlerStats: make(map[string]HandlerStats, len(s.eventHandlers)),
	}

	total := len(s.cron.Entries())
	for eventType, handler := range s.eventHandlers {
		handler.mu.Lock()
		stats.EventHandlerStats[eventType] = HandlerStats{
			Schedules:   len(handler.schedules),
			Running:     handler.running,
			LastTrigger: handler.lastTrigger,
		}
		total += len(handler.schedules)
		handler.mu.Unlock()
	}
	stats.TotalSchedules = total
	return stats
}

// RestoreSchedules re-registers every persisted, enabled schedule — for workflows whose
// Definition is already registered with the Store — on process startup.
func (s *Scheduler) RestoreSchedules(ctx context.Context) error {
	schedules, err := s.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("workflow: list schedules: %w", err)
	}

	var restored, skipped int
	for _, schedule := range schedules {
		if !schedule.Enabled {
			continue
		}
		if _, ok := s.store.GetDefinition(schedule.WorkflowName); !ok {
			s.logger.Warn("skipping schedule for unregistered workflow", "workflow", schedule.WorkflowName)
			skipped++
			continue
		}
		if err := s.AddSchedule(ctx, schedule); err != nil {
			s.logger.Error("failed to restore schedule", "workflow", schedule.WorkflowName, "error", err)
			skipped++
			continue
		}
		restored++
	}
	s.logger.Info("schedules restored", "restored", restored, "skipped", skipped)
	return nil
}

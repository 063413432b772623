package workflow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerEchoWorkflow(t *testing.T, store *Store, name string) {
	t.Helper()
	def := NewChainBuilder(name).ThenWorker("ingest", echoWorkerFactory).Terminal().Build()
	require.NoError(t, store.RegisterDefinition(def))
}

func TestSchedulerAddCronScheduleRegistersEntry(t *testing.T) {
	store := openTestStore(t)
	registerEchoWorkflow(t, store, "cron-wf")
	sched := NewScheduler(store, nil, nil, nil)

	err := sched.AddSchedule(context.Background(), &ScheduleConfig{
		WorkflowName: "cron-wf",
		CronExpr:     "*/30 * * * * *",
		Enabled:      true,
	})
	require.NoError(t, err)

	stats := sched.Stats()
	assert.Equal(t, 1, stats.CronEntries)
	assert.Equal(t, 1, stats.TotalSchedules)
}

func TestSchedulerAddScheduleRejectsMissingTrigger(t *testing.T) {
	store := openTestStore(t)
	sched := NewScheduler(store, nil, nil, nil)

	err := sched.AddSchedule(context.Background(), &ScheduleConfig{WorkflowName: "nothing"})
	assert.Error(t, err)
}

func TestSchedulerTriggerEventRunsMatchingSchedule(t *testing.T) {
	store := openTestStore(t)
	registerEchoWorkflow(t, store, "event-wf")
	sched := NewScheduler(store, nil, nil, nil)

	require.NoError(t, sched.AddSchedule(context.Background(), &ScheduleConfig{
		WorkflowName: "event-wf",
		EventType:    "order.created",
		EventFilter:  map[string]any{"region": "us"},
		Enabled:      true,
	}))

	require.NoError(t, sched.TriggerEvent(context.Background(), "order.created", map[string]any{"region": "us"}))

	require.Eventually(t, func() bool {
		execs, err := store.ListExecutions(context.Background(), "event-wf", time.Now().Add(-time.Minute), time.Now().Add(time.Minute), 10)
		return err == nil && len(execs) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerTriggerEventSkipsNonMatchingFilter(t *testing.T) {
	store := openTestStore(t)
	registerEchoWorkflow(t, store, "event-wf2")
	sched := NewScheduler(store, nil, nil, nil)

	require.NoError(t, sched.AddSchedule(context.Background(), &ScheduleConfig{
		WorkflowName: "event-wf2",
		EventType:    "order.created",
		EventFilter:  map[string]any{"region": "eu"},
		Enabled:      true,
	}))

	require.NoError(t, sched.TriggerEvent(context.Background(), "order.created", map[string]any{"region": "us"}))

	time.Sleep(30 * time.Millisecond)
	execs, err := store.ListExecutions(context.Background(), "event-wf2", time.Now().Add(-time.Minute), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestSchedulerTriggerEventRespectsMaxConcurrent(t *testing.T) {
	store := openTestStore(t)
	registerEchoWorkflow(t, store, "slow-wf")

	var running int32
	executorFor := func(d *Definition) *WorkflowExecutor {
		exec := NewWorkflowExecutor(d)
		atomic.AddInt32(&running, 1)
		return exec
	}
	sched := NewScheduler(store, executorFor, nil, nil)

	require.NoError(t, sched.AddSchedule(context.Background(), &ScheduleConfig{
		WorkflowName:  "slow-wf",
		EventType:     "burst",
		Enabled:       true,
		MaxConcurrent: 1,
	}))

	require.NoError(t, sched.TriggerEvent(context.Background(), "burst", nil))
	require.NoError(t, sched.TriggerEvent(context.Background(), "burst", nil))
	require.NoError(t, sched.TriggerEvent(context.Background(), "burst", nil))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&running) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerRemoveScheduleDropsEventHandler(t *testing.T) {
	store := openTestStore(t)
	registerEchoWorkflow(t, store, "removable")
	sched := NewScheduler(store, nil, nil, nil)

	require.NoError(t, sched.AddSchedule(context.Background(), &ScheduleConfig{
		WorkflowName: "removable",
		EventType:    "some.event",
		Enabled:      true,
	}))
	require.Equal(t, 1, sched.Stats().EventHandlers)

	require.NoError(t, sched.RemoveSchedule(context.Background(), "removable"))
	assert.Equal(t, 0, sched.Stats().EventHandlers)

	schedules, err := sched.ListSchedules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, schedules)
}

func TestSchedulerRestoreSchedulesSkipsUnregisteredWorkflow(t *testing.T) {
	store := openTestStore(t)
	sched := NewScheduler(store, nil, nil, nil)

	// Persist a schedule for a workflow that was never registered, directly via
	// AddSchedule against an event trigger (no cron entry needed to exercise restore).
	require.NoError(t, sched.AddSchedule(context.Background(), &ScheduleConfig{
		WorkflowName: "ghost",
		EventType:    "ghost.event",
		Enabled:      true,
	}))

	fresh := NewScheduler(store, nil, nil, nil)
	require.NoError(t, fresh.RestoreSchedules(context.Background()))
	assert.Equal(t, 0, fresh.Stats().EventHandlers)
}

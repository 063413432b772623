// Command fractor-server hosts the supervisor/workflow engine behind an HTTP API:
// list and run registered DAG workflows, look up and cancel executions, schedule them
// on cron or event triggers, and scrape their Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/metanorma/fractor-go/internal/config"
	"github.com/metanorma/fractor-go/internal/telemetry"
	"github.com/metanorma/fractor-go/pkg/fractor"
	"github.com/metanorma/fractor-go/pkg/workflow"
)

// echoWorker is the sample worker class seeded for the demo workflow registered at
// startup; real deployments register their own WorkerFactory per job.
type echoWorker struct{}

func (echoWorker) Process(ctx context.Context, work fractor.Work) fractor.WorkResult {
	return fractor.WorkResult{Success: true, Result: work.Input}
}

func newEchoWorker() fractor.Worker { return echoWorker{} }

func main() {
	service := "fractor-server"
	cfg := config.LoadFromEnv()

	logger := telemetry.InitLogging(service)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTrace := telemetry.InitTracer(ctx, service)
	shutdownMetrics, instruments := telemetry.InitMetrics(ctx, service)
	meter := otel.GetMeterProvider().Meter(service)

	metricsRegistry := fractor.NewMetricsRegistry()

	store, err := workflow.OpenStore(storePath())
	if err != nil {
		logger.Error("failed to open workflow store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cancellation := workflow.NewCancellationManager(meter)
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go cancellation.RunCleanupLoop(cleanupCtx, 5*time.Minute, time.Hour)

	jobInstruments := adaptInstruments(instruments)

	executorFor := func(def *workflow.Definition) *workflow.WorkflowExecutor {
		exec := workflow.NewWorkflowExecutor(def)
		exec.Logger = logger
		exec.Cancellation = cancellation
		exec.DefaultTimeout = time.Duration(cfg.DefaultWorkerTimeoutSec) * time.Second
		if cfg.WorkerPoolSize > 0 {
			exec.DefaultWorkerCount = cfg.WorkerPoolSize
		}
		exec.Metrics = metricsRegistry
		exec.Instruments = jobInstruments
		return exec
	}

	scheduler := workflow.NewScheduler(store, executorFor, meter, logger)
	if err := store.RegisterDefinition(sampleDefinition()); err != nil {
		logger.Error("failed to register sample workflow", "error", err)
	}
	if err := scheduler.RestoreSchedules(ctx); err != nil {
		logger.Error("failed to restore schedules", "error", err)
	}
	scheduler.Start()

	mux := http.NewServeMux()
	registerHandlers(mux, store, scheduler, cancellation, metricsRegistry, instruments, executorFor, logger)

	srv := &http.Server{Addr: listenAddr(), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	logger.Info("fractor-server started", "addr", srv.Addr)
	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cancellation.CancelAll(shutdownCtx, "server shutdown")
	scheduler.Stop(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	telemetry.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	logger.Info("shutdown complete")
}

// adaptInstruments bridges the OTel instrument set telemetry.InitMetrics builds to the
// narrower func-field shape pkg/fractor.Supervisor reports through, so every per-job
// Supervisor a WorkflowExecutor spins up feeds those OTel counters/histogram.
func adaptInstruments(i telemetry.Instruments) fractor.Instruments {
	return fractor.Instruments{
		RecordProcessed: func(ctx context.Context) {
			i.JobsProcessed.Add(ctx, 1)
		},
		RecordSucceeded: func(ctx context.Context) {
			i.JobsSucceeded.Add(ctx, 1)
		},
		RecordFailed: func(ctx context.Context, _ fractor.ErrorCategory) {
			i.JobsFailed.Add(ctx, 1)
		},
		RecordDuration: func(ctx context.Context, millis float64) {
			i.TaskDurationMS.Record(ctx, millis)
		},
	}
}

func listenAddr() string {
	if addr := os.Getenv("FRACTOR_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func storePath() string {
	if path := os.Getenv("FRACTOR_STORE_PATH"); path != "" {
		return path
	}
	return "fractor-workflows.db"
}

// sampleDefinition seeds a minimal two-job chain so /v1/workflows/run has something to
// exercise out of the box.
func sampleDefinition() *workflow.Definition {
	return workflow.NewChainBuilder("sample").
		ThenWorker("ingest", newEchoWorker).
		ThenWorker("transform", newEchoWorker).
		Terminal().
		Build()
}

type runRequest struct {
	Workflow      string `json:"workflow"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Input         any    `json:"input,omitempty"`
}

func registerHandlers(
	mux *http.ServeMux,
	store *workflow.Store,
	scheduler *workflow.Scheduler,
	cancellation *workflow.CancellationManager,
	metricsRegistry *fractor.MetricsRegistry,
	instruments telemetry.Instruments,
	executorFor func(*workflow.Definition) *workflow.WorkflowExecutor,
	logger *slog.Logger,
) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", metricsRegistry.Handler())

	mux.HandleFunc("/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			summaries, err := store.ListDefinitionSummaries()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, summaries)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/workflows/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		def, ok := store.GetDefinition(req.Workflow)
		if !ok {
			http.Error(w, "workflow not registered", http.StatusNotFound)
			return
		}

		exec := executorFor(def)

		start := time.Now()
		result, err := exec.Execute(r.Context(), req.Input, req.CorrelationID)
		instruments.JobsProcessed.Add(r.Context(), 1)
		instruments.TaskDurationMS.Record(r.Context(), float64(time.Since(start).Milliseconds()))
		if result != nil {
			if putErr := store.PutExecution(r.Context(), workflow.NewStoredExecution(result.CorrelationID, result)); putErr != nil {
				logger.Error("failed to store execution", "error", putErr)
			}
		}
		if err != nil {
			instruments.JobsFailed.Add(r.Context(), 1)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "result": result})
			return
		}
		instruments.JobsSucceeded.Add(r.Context(), 1)
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/v1/executions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Path[len("/v1/executions/"):]
		exec, found, err := store.GetExecution(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, exec)
	})

	mux.HandleFunc("/v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			schedules, err := scheduler.ListSchedules(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, schedules)
		case http.MethodPost:
			var cfg workflow.ScheduleConfig
			if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if err := scheduler.AddSchedule(r.Context(), &cfg); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/executions/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			CorrelationID string `json:"correlation_id"`
			Reason        string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := cancellation.Cancel(r.Context(), req.CorrelationID, req.Reason); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

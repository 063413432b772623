package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketDefinitions = []byte("definitions")
	bucketExecutions  = []byte("executions")
	bucketVersions    = []byte("versions")
	bucketSchedules   = []byte("schedules")
	bucketIndexes     = []byte("indexes")
)

// JobSummary is the JSON-marshalable shape of a Job, omitting the function-valued
// fields (WorkerClass, Condition) that cannot survive a round trip through disk — a
// worker binding only ever exists within the process that registered it.
type JobSummary struct {
	Name              string   `json:"name"`
	Dependencies      []string `json:"dependencies,omitempty"`
	NumWorkers        int      `json:"num_workers"`
	Terminates        bool     `json:"terminates,omitempty"`
	OutputsToWorkflow bool     `json:"outputs_to_workflow,omitempty"`
	HasRetry          bool     `json:"has_retry,omitempty"`
	HasCircuitBreaker bool     `json:"has_circuit_breaker,omitempty"`
	HasFallback       bool     `json:"has_fallback,omitempty"`
}

// DefinitionSummary is the durable, catalog-only view of a Definition: enough to
// browse a workflow's shape without a live process and its registered worker classes.
// The runnable Definition (with WorkerClass/Condition closures) stays in-memory,
// supplied by the caller at registration time.
type DefinitionSummary struct {
	Name      string       `json:"name"`
	StartWith string       `json:"start_with,omitempty"`
	Pipeline  bool         `json:"pipeline,omitempty"`
	Jobs      []JobSummary `json:"jobs"`
}

func summarize(def *Definition) DefinitionSummary {
	sum := DefinitionSummary{Name: def.Name, StartWith: def.StartWith, Pipeline: def.Pipeline}
	for _, j := range def.Jobs {
		sum.Jobs = append(sum.Jobs, JobSummary{
			Name:              j.Name,
			Dependencies:      j.Dependencies,
			NumWorkers:        j.NumWorkers,
			Terminates:        j.Terminates,
			OutputsToWorkflow: j.OutputsToWorkflow,
			HasRetry:          j.RetryConfig != nil,
			HasCircuitBreaker: j.CircuitBreakerConfig != nil,
			HasFallback:       j.FallbackJob != nil,
		})
	}
	return sum
}

// StoredExecution is the durable record of one Execute run.
type StoredExecution struct {
	ID            string    `json:"id"`
	WorkflowName  string    `json:"workflow_name"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	CompletedJobs []string  `json:"completed_jobs"`
	FailedJobs    []string  `json:"failed_jobs"`
	Success       bool      `json:"success"`
	Output        any       `json:"output,omitempty"`
}

// NewStoredExecution converts a WorkflowResult into its durable record.
func NewStoredExecution(id string, result *WorkflowResult) *StoredExecution {
	return &StoredExecution{
		ID:            id,
		WorkflowName:  result.WorkflowName,
		StartedAt:     result.Trace.StartedAt,
		CompletedAt:   result.Trace.CompletedAt,
		CompletedJobs: result.CompletedJobs,
		FailedJobs:    result.FailedJobs,
		Success:       result.Success,
		Output:        result.Output,
	}
}

// Store is a BoltDB-backed persistence layer for workflow definition catalogs,
// schedules, and execution history: buckets for current state, a separate bucket for
// previous versions, and a time-ordered index for range queries.
type Store struct {
	db *bbolt.DB

	mu      sync.RWMutex
	liveDef map[string]*Definition // in-process runnable definitions, registered directly
}

// OpenStore opens (creating if necessary) a BoltDB file at path and prepares its
// buckets.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("workflow: open store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketDefinitions, bucketExecutions, bucketVersions, bucketSchedules, bucketIndexes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("workflow: create buckets: %w", err)
	}
	return &Store{db: db, liveDef: make(map[string]*Definition)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterDefinition makes def available in-process under its own name and persists
// its catalog summary, archiving any prior summary under the same name.
func (s *Store) RegisterDefinition(def *Definition) error {
	s.mu.Lock()
	s.liveDef[def.Name] = def
	s.mu.Unlock()

	data, err := json.Marshal(summarize(def))
	if err != nil {
		return fmt.Errorf("workflow: marshal definition summary: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDefinitions)
		if existing := bucket.Get([]byte(def.Name)); existing != nil {
			versions := tx.Bucket(bucketVersions)
			key := fmt.Sprintf("%s:%d", def.Name, time.Now().UnixNano())
			if err := versions.Put([]byte(key), existing); err != nil {
				return err
			}
		}
		return bucket.Put([]byte(def.Name), data)
	})
}

// GetDefinition returns the live, runnable Definition registered under name.
func (s *Store) GetDefinition(name string) (*Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.liveDef[name]
	return def, ok
}

// GetDefinitionSummary reads the durable catalog entry for name, available even for a
// workflow not currently registered in this process.
func (s *Store) GetDefinitionSummary(name string) (DefinitionSummary, bool, error) {
	var sum DefinitionSummary
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDefinitions).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &sum)
	})
	if err != nil {
		return DefinitionSummary{}, false, fmt.Errorf("workflow: read definition summary: %w", err)
	}
	return sum, found, nil
}

// DeleteDefinition removes a definition's catalog entry and in-process registration,
// archiving its last summary first.
func (s *Store) DeleteDefinition(name string) error {
	s.mu.Lock()
	delete(s.liveDef, name)
	s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDefinitions)
		data := bucket.Get([]byte(name))
		if data != nil {
			versions := tx.Bucket(bucketVersions)
			key := fmt.Sprintf("archive:%s:%d", name, time.Now().UnixNano())
			if err := versions.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return bucket.Delete([]byte(name))
	})
}

// ListDefinitionSummaries returns every catalog entry.
func (s *Store) ListDefinitionSummaries() ([]DefinitionSummary, error) {
	var out []DefinitionSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDefinitions).ForEach(func(k, v []byte) error {
			var sum DefinitionSummary
			if err := json.Unmarshal(v, &sum); err != nil {
				return nil
			}
			out = append(out, sum)
			return nil
		})
	})
	return out, err
}

// PutExecution records a completed run and indexes it by workflow name and start time
// for ListExecutions range queries.
func (s *Store) PutExecution(ctx context.Context, exec *StoredExecution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("workflow: marshal execution: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketExecutions).Put([]byte(exec.ID), data); err != nil {
			return err
		}
		indexKey := fmt.Sprintf("%s:%d:%s", exec.WorkflowName, exec.StartedAt.UnixNano(), exec.ID)
		return tx.Bucket(bucketIndexes).Put([]byte(indexKey), []byte(exec.ID))
	})
}

// GetExecution retrieves one execution record by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*StoredExecution, bool, error) {
	var exec StoredExecution
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketExecutions).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &exec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("workflow: read execution: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &exec, true, nil
}

// ListExecutions returns up to limit executions for workflowName within [start, end],
// oldest first.
func (s *Store) ListExecutions(ctx context.Context, workflowName string, start, end time.Time, limit int) ([]*StoredExecution, error) {
	out := make([]*StoredExecution, 0, limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		indexBucket := tx.Bucket(bucketIndexes)
		execBucket := tx.Bucket(bucketExecutions)
		prefix := []byte(workflowName + ":")
		cursor := indexBucket.Cursor()

		for k, v := cursor.Seek(prefix); k != nil && len(out) < limit; k, v = cursor.Next() {
			if !hasPrefix(k, prefix) {
				break
			}
			data := execBucket.Get(v)
			if data == nil {
				continue
			}
			var exec StoredExecution
			if err := json.Unmarshal(data, &exec); err != nil {
				continue
			}
			if exec.StartedAt.Before(start) || exec.StartedAt.After(end) {
				continue
			}
			out = append(out, &exec)
		}
		return nil
	})
	return out, err
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}

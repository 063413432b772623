package fractor

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"
)

// PersistedRecord is the round-trippable shape every Persister must preserve for each
// queued Work: class_tag, input, timeout. ClassTag lets a consumer
// reconstruct the right Worker-specific input type; the base Work has no class tag of
// its own, so an empty string is valid.
type PersistedRecord struct {
	ClassTag string        `json:"class_tag" yaml:"class_tag"`
	Input    any           `json:"input" yaml:"input"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Persister is the pluggable backend behind PersistentWorkQueue. Implementations are
// interchangeable; the on-disk/on-wire format is opaque to the core.
type Persister interface {
	Save(records []PersistedRecord) error
	Load() ([]PersistedRecord, error)
	Clear() error
}

// JSONPersister stores queue contents as a single JSON array file.
type JSONPersister struct {
	path string
}

// NewJSONPersister opens (lazily, on first Save/Load) a JSON file persister at path.
func NewJSONPersister(path string) *JSONPersister {
	return &JSONPersister{path: path}
}

func (p *JSONPersister) Save(records []PersistedRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal queue records: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	return nil
}

func (p *JSONPersister) Load() ([]PersistedRecord, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []PersistedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal queue records: %w", err)
	}
	return records, nil
}

func (p *JSONPersister) Clear() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove queue file: %w", err)
	}
	return nil
}

// YAMLPersister stores queue contents as a YAML document, matching the corpus's common
// preference for YAML config/state files alongside JSON.
type YAMLPersister struct {
	path string
}

// NewYAMLPersister opens a YAML file persister at path.
func NewYAMLPersister(path string) *YAMLPersister {
	return &YAMLPersister{path: path}
}

func (p *YAMLPersister) Save(records []PersistedRecord) error {
	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal queue records: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	return nil
}

func (p *YAMLPersister) Load() ([]PersistedRecord, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []PersistedRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal queue records: %w", err)
	}
	return records, nil
}

func (p *YAMLPersister) Clear() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove queue file: %w", err)
	}
	return nil
}

var bucketQueueRecords = []byte("queue_records")

// BoltPersister stores queue contents as a single encoded blob inside a BoltDB bucket,
// the same embedded-KV approach the workflow Store applies to workflow definitions —
// useful when the host process already opens a bbolt.DB for the workflow Store and
// wants the queue to share it instead of a bare file.
type BoltPersister struct {
	db  *bbolt.DB
	key []byte
}

// NewBoltPersister stores records under key in db's bucketQueueRecords bucket,
// creating the bucket if necessary.
func NewBoltPersister(db *bbolt.DB, key string) (*BoltPersister, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueueRecords)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create queue bucket: %w", err)
	}
	return &BoltPersister{db: db, key: []byte(key)}, nil
}

func (p *BoltPersister) Save(records []PersistedRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal queue records: %w", err)
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQueueRecords).Put(p.key, data)
	})
}

func (p *BoltPersister) Load() ([]PersistedRecord, error) {
	var records []PersistedRecord
	err := p.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketQueueRecords).Get(p.key)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &records)
	})
	if err != nil {
		return nil, fmt.Errorf("read queue records: %w", err)
	}
	return records, nil
}

func (p *BoltPersister) Clear() error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQueueRecords).Delete(p.key)
	})
}

// PersistentWorkQueue wraps a WorkQueue with a Persister: every enqueue marks the queue
// dirty, and when AutoSave is enabled a Save happens on every Push; Close always flushes
// if dirty.
type PersistentWorkQueue struct {
	mu        sync.Mutex
	inner     *WorkQueue
	persister Persister
	autoSave  bool
	dirty     bool
}

// NewPersistentWorkQueue wraps persister with an in-memory WorkQueue. When autoSave is
// true, every Push synchronously saves to persister.
func NewPersistentWorkQueue(persister Persister, autoSave bool) *PersistentWorkQueue {
	return &PersistentWorkQueue{
		inner:     NewWorkQueue(),
		persister: persister,
		autoSave:  autoSave,
	}
}

// Push enqueues work and, if AutoSave is set, immediately persists the full queue.
func (q *PersistentWorkQueue) Push(work Work) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.inner.Push(work); err != nil {
		return err
	}
	q.dirty = true
	if q.autoSave {
		return q.saveLocked()
	}
	return nil
}

// PopBatch delegates to the inner WorkQueue; popped items are not explicitly
// re-persisted until the next Save/Close, consistent with the queue being the
// in-memory source of truth and the persister a durability backstop.
func (q *PersistentWorkQueue) PopBatch(n int) []Work {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.inner.PopBatch(n)
	if len(batch) > 0 {
		q.dirty = true
	}
	return batch
}

// Size reports the in-memory queue length.
func (q *PersistentWorkQueue) Size() int { return q.inner.Size() }

// Save flushes the current queue contents to the persister, using an empty ClassTag
// (base Work has no class tag of its own).
func (q *PersistentWorkQueue) Save() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.saveLocked()
}

func (q *PersistentWorkQueue) saveLocked() error {
	items := q.inner.PopBatch(q.inner.Size())
	// Re-push the items we borrowed to inspect, preserving order; PopBatch already
	// removed them under the same lock so there is no race with concurrent pushers.
	records := make([]PersistedRecord, len(items))
	for i, w := range items {
		records[i] = PersistedRecord{Input: w.Input, Timeout: w.Timeout}
	}
	for _, w := range items {
		q.inner.items = append(q.inner.items, w)
	}
	if err := q.persister.Save(records); err != nil {
		return err
	}
	q.dirty = false
	return nil
}

// Load replaces the in-memory queue with whatever the persister currently holds.
func (q *PersistentWorkQueue) Load() error {
	records, err := q.persister.Load()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inner = NewWorkQueue()
	for _, r := range records {
		_ = q.inner.Push(Work{Input: r.Input, Timeout: r.Timeout})
	}
	q.dirty = false
	return nil
}

// Close flushes to the persister if the queue is dirty.
func (q *PersistentWorkQueue) Close() error {
	q.mu.Lock()
	dirty := q.dirty
	q.mu.Unlock()
	if !dirty {
		return nil
	}
	return q.Save()
}

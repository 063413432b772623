package fractor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestJSONPersisterSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	p := NewJSONPersister(path)

	records := []PersistedRecord{{Input: "a", Timeout: 0}, {Input: float64(2), Timeout: 0}}
	require.NoError(t, p.Save(records))

	loaded, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestJSONPersisterLoadMissingFileReturnsNil(t *testing.T) {
	p := NewJSONPersister(filepath.Join(t.TempDir(), "missing.json"))

	loaded, err := p.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestJSONPersisterClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	p := NewJSONPersister(path)
	require.NoError(t, p.Save([]PersistedRecord{{Input: "a"}}))

	require.NoError(t, p.Clear())
	loaded, err := p.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Clearing an already-cleared persister is not an error.
	require.NoError(t, p.Clear())
}

func TestYAMLPersisterSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.yaml")
	p := NewYAMLPersister(path)

	records := []PersistedRecord{{ClassTag: "echo", Input: "hello"}}
	require.NoError(t, p.Save(records))

	loaded, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestBoltPersisterSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	p, err := NewBoltPersister(db, "main")
	require.NoError(t, err)

	records := []PersistedRecord{{Input: "x"}, {Input: "y"}}
	require.NoError(t, p.Save(records))

	loaded, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, records, loaded)

	require.NoError(t, p.Clear())
	loaded, err = p.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBoltPersisterSeparatesKeysInSameBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	pa, err := NewBoltPersister(db, "queue-a")
	require.NoError(t, err)
	pb, err := NewBoltPersister(db, "queue-b")
	require.NoError(t, err)

	require.NoError(t, pa.Save([]PersistedRecord{{Input: "a"}}))
	require.NoError(t, pb.Save([]PersistedRecord{{Input: "b"}}))

	loadedA, err := pa.Load()
	require.NoError(t, err)
	loadedB, err := pb.Load()
	require.NoError(t, err)

	assert.Equal(t, "a", loadedA[0].Input)
	assert.Equal(t, "b", loadedB[0].Input)
}

func TestPersistentWorkQueueAutoSavePersistsOnPush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	persister := NewJSONPersister(path)
	q := NewPersistentWorkQueue(persister, true)

	require.NoError(t, q.Push(NewWork("a")))
	require.NoError(t, q.Push(NewWork("b")))
	assert.Equal(t, 2, q.Size())

	reloaded, err := persister.Load()
	require.NoError(t, err)
	require.Len(t, reloaded, 2)
}

func TestPersistentWorkQueueWithoutAutoSaveRequiresExplicitSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	persister := NewJSONPersister(path)
	q := NewPersistentWorkQueue(persister, false)

	require.NoError(t, q.Push(NewWork("a")))

	notYetSaved, err := persister.Load()
	require.NoError(t, err)
	assert.Nil(t, notYetSaved)

	require.NoError(t, q.Save())
	saved, err := persister.Load()
	require.NoError(t, err)
	require.Len(t, saved, 1)
}

func TestPersistentWorkQueueLoadReplacesInMemoryContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	persister := NewJSONPersister(path)
	seed := NewPersistentWorkQueue(persister, true)
	require.NoError(t, seed.Push(NewWork("seeded")))

	fresh := NewPersistentWorkQueue(persister, false)
	require.NoError(t, fresh.Load())
	assert.Equal(t, 1, fresh.Size())

	batch := fresh.PopBatch(1)
	require.Len(t, batch, 1)
	assert.Equal(t, "seeded", batch[0].Input)
}

func TestPersistentWorkQueueCloseFlushesOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	persister := NewJSONPersister(path)
	q := NewPersistentWorkQueue(persister, false)

	require.NoError(t, q.Close())
	untouched, err := persister.Load()
	require.NoError(t, err)
	assert.Nil(t, untouched)

	require.NoError(t, q.Push(NewWork("a")))
	require.NoError(t, q.Close())
	flushed, err := persister.Load()
	require.NoError(t, err)
	require.Len(t, flushed, 1)
}

package state

import (
	"errors"
	"sort"

	"stratachain/storage"
)

// KV is the read/write surface the state manager operates on. Working
// implements it; tests may substitute simpler fakes.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// pendingWrite is one buffered mutation. Deletions carry an explicit flag so
// an empty stored value stays distinguishable from an absent key.
type pendingWrite struct {
	value   []byte
	deleted bool
}

// Working is a batch-scoped overlay over the persistent store. All mutations
// made while processing a batch are buffered here and become visible to later
// messages in the same batch immediately; nothing reaches the underlying
// Database until Commit, which flushes everything as one atomic write.
//
// Speculative branches take a Copy and either Commit or simply drop it. A
// Working is single-writer and not safe for concurrent use, matching the
// strictly sequential execution model of the state-transition function.
type Working struct {
	db    storage.Database
	dirty map[string]pendingWrite
}

// NewWorking creates an empty overlay on top of db.
func NewWorking(db storage.Database) *Working {
	return &Working{
		db:    db,
		dirty: make(map[string]pendingWrite),
	}
}

// Get reads through the overlay: pending writes win over the backing store.
func (w *Working) Get(key []byte) ([]byte, error) {
	if entry, ok := w.dirty[string(key)]; ok {
		if entry.deleted {
			return nil, storage.ErrNotFound
		}
		return append([]byte(nil), entry.value...), nil
	}
	return w.db.Get(key)
}

// Has reports whether the key is visible through the overlay.
func (w *Working) Has(key []byte) (bool, error) {
	if entry, ok := w.dirty[string(key)]; ok {
		return !entry.deleted, nil
	}
	_, err := w.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put buffers a write. It never touches the backing store.
func (w *Working) Put(key []byte, value []byte) error {
	w.dirty[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
	return nil
}

// Delete buffers a deletion.
func (w *Working) Delete(key []byte) error {
	w.dirty[string(key)] = pendingWrite{deleted: true}
	return nil
}

// Copy returns an isolated clone of the overlay sharing the same backing
// store. Mutations on the copy are invisible to the parent and vice versa.
func (w *Working) Copy() *Working {
	dirty := make(map[string]pendingWrite, len(w.dirty))
	for k, entry := range w.dirty {
		if entry.deleted {
			dirty[k] = pendingWrite{deleted: true}
			continue
		}
		dirty[k] = pendingWrite{value: append([]byte(nil), entry.value...)}
	}
	return &Working{db: w.db, dirty: dirty}
}

// Commit flushes all buffered mutations to the backing store as one atomic
// batch and clears the overlay. Keys are written in sorted order so the
// commit is deterministic across nodes.
func (w *Working) Commit() error {
	if len(w.dirty) == 0 {
		return nil
	}
	keys := make([]string, 0, len(w.dirty))
	for k := range w.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := new(storage.Batch)
	for _, k := range keys {
		if entry := w.dirty[k]; entry.deleted {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), entry.value)
		}
	}
	if err := w.db.Write(batch); err != nil {
		return err
	}
	w.dirty = make(map[string]pendingWrite)
	return nil
}

// Discard drops all buffered mutations, leaving the backing store untouched.
func (w *Working) Discard() {
	w.dirty = make(map[string]pendingWrite)
}

// Pending returns the number of buffered mutations.
func (w *Working) Pending() int {
	return len(w.dirty)
}

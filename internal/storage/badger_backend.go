package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for different data types
const (
	prefixModel    = "m:" // model record
	prefixDocument = "d:" // JSON-LD text
)

// ErrNotInitialized is returned when a backend is used before Initialize.
var ErrNotInitialized = errors.New("registry not initialized")

// BadgerBackend is a BadgerDB-backed registry.
type BadgerBackend struct {
	db  *badger.DB
	fts *FTSIndex
	mu  sync.RWMutex
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}
	b.db = db
	b.fts = NewFTSIndex(db)
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.fts = nil
	return err
}

func modelKey(id string) []byte    { return []byte(prefixModel + id) }
func documentKey(id string) []byte { return []byte(prefixDocument + id) }

// SaveModel implements Backend.
func (b *BadgerBackend) SaveModel(ctx context.Context, rec ModelRecord, document string, entries []NodeEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return ErrNotInitialized
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling model: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	// Drop the previous index of this model before writing the new one.
	if err := b.db.View(func(txn *badger.Txn) error {
		_, err := b.fts.removeModel(txn, wb, rec.ID)
		return err
	}); err != nil {
		return fmt.Errorf("removing previous entries: %w", err)
	}

	if err := wb.Set(modelKey(rec.ID), data); err != nil {
		return fmt.Errorf("setting model: %w", err)
	}
	if err := wb.Set(documentKey(rec.ID), []byte(document)); err != nil {
		return fmt.Errorf("setting document: %w", err)
	}
	for _, e := range entries {
		e.ModelID = rec.ID
		if err := b.fts.index(wb, e); err != nil {
			return err
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing batch: %w", err)
	}
	return nil
}

// GetModel implements Backend.
func (b *BadgerBackend) GetModel(ctx context.Context, id string) (*ModelRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrNotInitialized
	}

	var rec *ModelRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(modelKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec = &ModelRecord{}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("getting model: %w", err)
	}
	return rec, nil
}

// GetDocument implements Backend.
func (b *BadgerBackend) GetDocument(ctx context.Context, id string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return "", false, ErrNotInitialized
	}

	var (
		doc   []byte
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		doc, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("getting document: %w", err)
	}
	return string(doc), found, nil
}

// GetNode implements Backend.
func (b *BadgerBackend) GetNode(ctx context.Context, modelID, nodeID string) (*NodeEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrNotInitialized
	}
	return b.fts.Entry(modelID, nodeID)
}

// ListModels implements Backend.
func (b *BadgerBackend) ListModels(ctx context.Context) ([]ModelRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrNotInitialized
	}

	records := []ModelRecord{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixModel)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec ModelRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// DeleteModel implements Backend.
func (b *BadgerBackend) DeleteModel(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return false, ErrNotInitialized
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	var existed bool
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(modelKey(id)); err == nil {
			existed = true
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		_, err := b.fts.removeModel(txn, wb, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("deleting model: %w", err)
	}
	if !existed {
		return false, nil
	}

	if err := wb.Delete(modelKey(id)); err != nil {
		return false, err
	}
	if err := wb.Delete(documentKey(id)); err != nil {
		return false, err
	}
	if err := wb.Flush(); err != nil {
		return false, fmt.Errorf("flushing batch: %w", err)
	}
	return true, nil
}

// Search implements Backend.
func (b *BadgerBackend) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrNotInitialized
	}
	return b.fts.Search(query, limit)
}

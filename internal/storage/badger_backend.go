package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// Key prefix for property sets.
const prefixProps = "p:"

// BadgerBackend is a BadgerDB-backed property store.
//
// It is not durable: Initialize either opens badger in in-memory mode or
// wipes the scratch directory it is given. It exists for property sets
// that should live off the Go heap.
type BadgerBackend struct {
	db     *badger.DB
	logger *zap.Logger
	mu     sync.RWMutex
	count  int
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend(logger *zap.Logger) *BadgerBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BadgerBackend{logger: logger}
}

// Initialize opens a fresh BadgerDB instance. An empty path runs badger in
// memory; otherwise the directory is removed and recreated.
func (b *BadgerBackend) Initialize(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("clearing badger scratch dir: %w", err)
		}
		opts = badger.DefaultOptions(path).
			WithNumCompactors(2).
			WithSyncWrites(false)
	}
	opts = opts.
		WithLogger(badgerLogger{b.logger.Sugar()}).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}
	b.db = db
	b.count = 0
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
	return err
}

// Set implements graph.PropertyStore.
func (b *BadgerBackend) Set(ctx context.Context, id int64, props map[int16]graph.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeProperties(props)
	if err != nil {
		return fmt.Errorf("encoding properties of %d: %w", id, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	existed, err := b.exists(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Set(propsKey(id), data); err != nil {
		return fmt.Errorf("setting properties: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing properties: %w", err)
	}
	if !existed {
		b.count++
	}
	return nil
}

// SetMany implements Backend using a write batch.
func (b *BadgerBackend) SetMany(ctx context.Context, entries map[int64]map[int16]graph.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	if err := b.db.View(func(txn *badger.Txn) error {
		for id := range entries {
			existed, err := b.exists(txn, id)
			if err != nil {
				return err
			}
			if !existed {
				added++
			}
		}
		return nil
	}); err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for id, props := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := encodeProperties(props)
		if err != nil {
			return fmt.Errorf("encoding properties of %d: %w", id, err)
		}
		if err := wb.Set(propsKey(id), data); err != nil {
			return fmt.Errorf("setting properties: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing properties: %w", err)
	}
	b.count += added
	return nil
}

func (b *BadgerBackend) exists(txn *badger.Txn, id int64) (bool, error) {
	_, err := txn.Get(propsKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading properties: %w", err)
	}
	return true, nil
}

// Get implements graph.PropertyStore.
func (b *BadgerBackend) Get(id int64, key int16) (graph.Value, bool) {
	props := b.load(id)
	v, ok := props[key]
	return v, ok
}

// Properties implements graph.PropertyStore.
func (b *BadgerBackend) Properties(id int64) map[int16]graph.Value {
	return b.load(id)
}

func (b *BadgerBackend) load(id int64) map[int16]graph.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil
	}

	var props map[int16]graph.Value
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(propsKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			props, err = decodeProperties(val)
			return err
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		b.logger.Warn("reading properties", zap.Int64("id", id), zap.Error(err))
	}
	return props
}

// Delete implements graph.PropertyStore.
func (b *BadgerBackend) Delete(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	existed, err := b.exists(txn, id)
	if err != nil || !existed {
		return err
	}
	if err := txn.Delete(propsKey(id)); err != nil {
		return fmt.Errorf("deleting properties: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	b.count--
	return nil
}

// Len implements graph.PropertyStore.
func (b *BadgerBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// propsKey returns "p:" followed by the big-endian id, so keys sort by id.
func propsKey(id int64) []byte {
	key := make([]byte, len(prefixProps)+8)
	copy(key, prefixProps)
	binary.BigEndian.PutUint64(key[len(prefixProps):], uint64(id))
	return key
}

// badgerLogger routes badger's log output through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

// Warningf implements badger.Logger.
func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

// Package badger provides a cqrs.ViewRepository on top of an embedded
// BadgerDB. Each view is one key, "view/<processor>/<stream>", holding the
// JSON encoded record.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/terraskye/cqrs"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. If nil they are dropped.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by serve.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open creates and opens a BadgerDB instance with the given configuration.
// The caller must Close the returned database.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

type storedRecord[V any] struct {
	LastSequence uint64 `json:"last_sequence"`
	View         V      `json:"view"`
}

// Repository stores the views of one processor.
type Repository[V any] struct {
	db        *badger.DB
	processor string
}

// NewRepository returns the repository of processor in db.
func NewRepository[V any](db *badger.DB, processor string) *Repository[V] {
	return &Repository[V]{db: db, processor: processor}
}

func (r *Repository[V]) key(id cqrs.StreamID) []byte {
	return []byte("view/" + r.processor + "/" + id.AggregateType + "/" + id.AggregateID)
}

func (r *Repository[V]) Load(ctx context.Context, id cqrs.StreamID) (cqrs.ViewRecord[V], bool, error) {
	record := cqrs.ViewRecord[V]{ID: id}
	if err := ctx.Err(); err != nil {
		return record, false, err
	}

	var stored storedRecord[V]
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record, false, nil
	}
	if err != nil {
		return record, false, fmt.Errorf("load view %s/%s: %w", r.processor, id, err)
	}

	record.LastSequence = stored.LastSequence
	record.View = stored.View
	return record, true, nil
}

func (r *Repository[V]) Save(ctx context.Context, record cqrs.ViewRecord[V]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(storedRecord[V]{LastSequence: record.LastSequence, View: record.View})
	if err != nil {
		return fmt.Errorf("encode view %s/%s: %w", r.processor, record.ID, err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key(record.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save view %s/%s: %w", r.processor, record.ID, err)
	}
	return nil
}

// Package sqlite provides a cqrs.ViewRepository storing JSON encoded views
// in a SQLite table shared by every processor.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/terraskye/cqrs"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS views (
    processor      TEXT    NOT NULL,
    aggregate_type TEXT    NOT NULL,
    aggregate_id   TEXT    NOT NULL,
    last_sequence  INTEGER NOT NULL,
    view           BLOB    NOT NULL,
    PRIMARY KEY (processor, aggregate_type, aggregate_id)
)`

// Open opens the SQLite file at path for view storage.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

// Repository stores the views of one processor.
type Repository[V any] struct {
	db        *sql.DB
	processor string
}

// NewRepository creates the views table if needed and returns the repository
// of processor.
func NewRepository[V any](ctx context.Context, db *sql.DB, processor string) (*Repository[V], error) {
	if processor == "" {
		return nil, errors.New("processor name is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create views table: %w", err)
	}
	return &Repository[V]{db: db, processor: processor}, nil
}

func (r *Repository[V]) Load(ctx context.Context, id cqrs.StreamID) (cqrs.ViewRecord[V], bool, error) {
	var (
		record cqrs.ViewRecord[V]
		data   []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT last_sequence, view FROM views WHERE processor = ? AND aggregate_type = ? AND aggregate_id = ?`,
		r.processor, id.AggregateType, id.AggregateID).Scan(&record.LastSequence, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return record, false, nil
	}
	if err != nil {
		return record, false, fmt.Errorf("load view %s/%s: %w", r.processor, id, err)
	}
	if err := json.Unmarshal(data, &record.View); err != nil {
		return record, false, &cqrs.DeserializationError{Err: fmt.Errorf("decode view %s/%s: %w", r.processor, id, err)}
	}
	record.ID = id
	return record, true, nil
}

func (r *Repository[V]) Save(ctx context.Context, record cqrs.ViewRecord[V]) error {
	data, err := json.Marshal(record.View)
	if err != nil {
		return fmt.Errorf("encode view %s/%s: %w", r.processor, record.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO views (processor, aggregate_type, aggregate_id, last_sequence, view)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (processor, aggregate_type, aggregate_id)
		DO UPDATE SET last_sequence = excluded.last_sequence, view = excluded.view`,
		r.processor, record.ID.AggregateType, record.ID.AggregateID, record.LastSequence, data)
	if err != nil {
		return fmt.Errorf("save view %s/%s: %w", r.processor, record.ID, err)
	}
	return nil
}

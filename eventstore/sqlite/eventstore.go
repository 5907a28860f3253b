// Package sqlite provides a cqrs.EventStore backed by a single SQLite file.
//
// Every event is one row of the events table. The table's rowid is the
// global position and a unique index on (stream, sequence) backs the
// compare-and-append check, so two writers racing on the same revision can
// never both commit.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/terraskye/cqrs"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

const selectColumns = `SELECT global_position, event_id, aggregate_type, aggregate_id, sequence,
	event_type, event_version, payload, metadata, occurred_at FROM events`

// Option configures a Store.
type Option func(*Store)

// WithRegistry sets the registry used to decode payloads. Defaults to
// cqrs.DefaultRegistry.
func WithRegistry(r *cqrs.Registry) Option {
	return func(s *Store) {
		s.registry = r
	}
}

// Store implements cqrs.EventStore over SQLite.
type Store struct {
	db       *sql.DB
	registry *cqrs.Registry
}

var _ cqrs.EventStore = (*Store)(nil)

// Open opens (creating if needed) the SQLite file at path and applies the
// schema.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, registry: cqrs.DefaultRegistry}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Save(ctx context.Context, events []cqrs.Envelope, revision cqrs.StreamState) (cqrs.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
	}
	if len(events) == 0 {
		return cqrs.AppendResult{Successful: true}, nil
	}

	stream, err := cqrs.ValidateBatch(events)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("save events to stream %s: %w", stream, err))
	}

	rows := make([][]any, len(events))
	for i, env := range events {
		payload, err := cqrs.MarshalEvent(env.Event)
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}
		md, err := cqrs.MarshalMetadata(env.Metadata)
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}
		rows[i] = []any{env.EventID.String(), stream.AggregateType, stream.AggregateID, nil,
			env.EventType, env.EventVersion, payload, md, env.OccurredAt.UTC().UnixNano()}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	current, err := streamLength(ctx, tx, stream)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
	}
	if err := cqrs.CheckStreamState(stream, current, revision); err != nil {
		return cqrs.AppendResult{StreamID: stream}, err
	}

	insert, err := tx.PrepareContext(ctx, `INSERT INTO events (event_id, aggregate_type, aggregate_id, sequence,
		event_type, event_version, payload, metadata, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("prepare insert: %w", err))
	}
	defer insert.Close()

	positions := make([]uint64, len(events))
	for i, row := range rows {
		row[3] = current + uint64(i) + 1
		res, err := insert.ExecContext(ctx, row...)
		if err != nil {
			if isConstraintError(err) {
				actual, _ := streamLength(ctx, tx, stream)
				return cqrs.AppendResult{StreamID: stream}, &cqrs.StreamRevisionConflictError{
					Stream: stream, ExpectedRevision: current, ActualRevision: actual,
				}
			}
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("insert event %d of %s: %w", i, stream, err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}
		positions[i] = uint64(id)
	}

	if err := tx.Commit(); err != nil {
		if isBusyError(err) || isConstraintError(err) {
			return cqrs.AppendResult{StreamID: stream}, &cqrs.StreamRevisionConflictError{
				Stream: stream, ExpectedRevision: current, ActualRevision: current,
			}
		}
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("commit: %w", err))
	}

	for i := range events {
		events[i].Sequence = current + uint64(i) + 1
		events[i].GlobalPosition = positions[i]
	}

	return cqrs.AppendResult{
		Successful:          true,
		StreamID:            stream,
		FirstSequence:       current + 1,
		NextExpectedVersion: current + uint64(len(events)),
	}, nil
}

func (s *Store) LoadStream(ctx context.Context, id cqrs.StreamID) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

func (s *Store) LoadStreamFrom(ctx context.Context, id cqrs.StreamID, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return s.query(ctx, selectColumns+` WHERE aggregate_type = ? AND aggregate_id = ? AND sequence > ? ORDER BY sequence`,
		id.AggregateType, id.AggregateID, after)
}

func (s *Store) LoadFromAll(ctx context.Context, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return s.query(ctx, selectColumns+` WHERE global_position > ? ORDER BY global_position`, after)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type storedEvent struct {
	globalPosition uint64
	eventID        string
	aggregateType  string
	aggregateID    string
	sequence       uint64
	eventType      string
	eventVersion   string
	payload        []byte
	metadata       []byte
	occurredAt     int64
}

// query reads the matching rows eagerly so no connection outlives the call,
// and decodes them one by one as the iterator advances.
func (s *Store) query(ctx context.Context, q string, args ...any) (*cqrs.Iterator[*cqrs.Envelope], error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, cqrs.WrapEventStoreError(fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	var stored []storedEvent
	for rows.Next() {
		var r storedEvent
		if err := rows.Scan(&r.globalPosition, &r.eventID, &r.aggregateType, &r.aggregateID, &r.sequence,
			&r.eventType, &r.eventVersion, &r.payload, &r.metadata, &r.occurredAt); err != nil {
			return nil, cqrs.WrapEventStoreError(fmt.Errorf("scan event: %w", err))
		}
		stored = append(stored, r)
	}
	if err := rows.Err(); err != nil {
		return nil, cqrs.WrapEventStoreError(fmt.Errorf("read events: %w", err))
	}

	index := 0
	return cqrs.NewIteratorFunc(func(ctx context.Context) (*cqrs.Envelope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if index >= len(stored) {
			return nil, io.EOF
		}
		r := stored[index]
		index++
		return s.decode(r)
	}), nil
}

func (s *Store) decode(r storedEvent) (*cqrs.Envelope, error) {
	eventID, err := uuid.Parse(r.eventID)
	if err != nil {
		return nil, &cqrs.DeserializationError{Err: fmt.Errorf("event id %q: %w", r.eventID, err)}
	}
	ev, err := s.registry.Decode(r.eventType, r.payload)
	if err != nil {
		return nil, err
	}
	md, err := cqrs.UnmarshalMetadata(r.metadata)
	if err != nil {
		return nil, err
	}
	return &cqrs.Envelope{
		EventID:        eventID,
		StreamID:       cqrs.NewStreamID(r.aggregateType, r.aggregateID),
		Sequence:       r.sequence,
		GlobalPosition: r.globalPosition,
		EventType:      r.eventType,
		EventVersion:   r.eventVersion,
		Event:          ev,
		Metadata:       md,
		OccurredAt:     time.Unix(0, r.occurredAt).UTC(),
	}, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func streamLength(ctx context.Context, q querier, stream cqrs.StreamID) (uint64, error) {
	var n uint64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
		stream.AggregateType, stream.AggregateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("read stream %s length: %w", stream, err)
	}
	return n, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isBusyError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

package store

import (
	stdsql "database/sql"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register the pure-Go "sqlite" driver

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// schema is applied idempotently at open time (§6.3). The teacher's
// Postgres backend tracked schema via golang-migrate against a generated
// ent schema; that tooling has no SPEC_FULL.md component to serve once the
// backend moves to SQLite (see DESIGN.md "Dropped dependencies"), so the
// fixed two-table layout is created inline instead.
const schema = `
CREATE TABLE IF NOT EXISTS stream_metadata (
	stream_id        TEXT PRIMARY KEY,
	created_at       DATETIME NOT NULL,
	last_accessed_at DATETIME NOT NULL,
	event_count      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS event_queues (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_id  TEXT NOT NULL,
	event_data TEXT NOT NULL,
	event_id   TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_queues_stream_id ON event_queues(stream_id);
CREATE INDEX IF NOT EXISTS idx_event_queues_stream_created ON event_queues(stream_id, created_at, id);
`

// SQLiteStore is the embedded-relational Event Store backend (§4.1, §6.3).
// Writes are additionally serialized through writeMu: SQLite already
// serializes writers at the file level, but holding our own mutex across
// the append+evict+counter-update sequence keeps that sequence atomic
// without relying on SQLite's busy-retry loop under contention.
type SQLiteStore struct {
	db      *stdsql.DB
	writeMu sync.Mutex
}

// Config configures the SQLite-backed store.
type Config struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// Open creates (or reuses) the SQLite database at cfg.Path, applies the
// schema, and configures WAL mode and the busy-timeout.
func Open(cfg Config) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := stdsql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateStream(ctx context.Context, streamID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_metadata (stream_id, created_at, last_accessed_at, event_count) VALUES (?, ?, ?, 0)`,
		streamID, now, now)
	if err != nil {
		if isUniqueConstraint(err) {
			return model.ErrAlreadyExists
		}
		return model.NewStorageError("create_stream", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteStream(ctx context.Context, streamID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStorageError("delete_stream", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_queues WHERE stream_id = ?`, streamID); err != nil {
		return model.NewStorageError("delete_stream", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stream_metadata WHERE stream_id = ?`, streamID); err != nil {
		return model.NewStorageError("delete_stream", err)
	}
	if err := tx.Commit(); err != nil {
		return model.NewStorageError("delete_stream", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, streamID, eventID string, data []byte, maxEvents int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStorageError("append", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM stream_metadata WHERE stream_id = ?`, streamID).Scan(&exists); err != nil {
		if err == stdsql.ErrNoRows {
			return model.ErrNotFound
		}
		return model.NewStorageError("append", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO event_queues (stream_id, event_data, event_id, created_at) VALUES (?, ?, ?, ?)`,
		streamID, string(data), eventID, now); err != nil {
		return model.NewStorageError("append", err)
	}

	if maxEvents > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM event_queues
			WHERE stream_id = ? AND id NOT IN (
				SELECT id FROM event_queues WHERE stream_id = ?
				ORDER BY created_at DESC, id DESC LIMIT ?
			)`, streamID, streamID, maxEvents); err != nil {
			return model.NewStorageError("append", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stream_metadata
		SET last_accessed_at = ?,
		    event_count = (SELECT COUNT(*) FROM event_queues WHERE stream_id = ?)
		WHERE stream_id = ?`, now, streamID, streamID); err != nil {
		return model.NewStorageError("append", err)
	}

	if err := tx.Commit(); err != nil {
		return model.NewStorageError("append", err)
	}
	return nil
}

func (s *SQLiteStore) PeekAll(ctx context.Context, streamID string) ([]StoredEvent, error) {
	return s.queryOrdered(ctx, `
		SELECT id, event_id, event_data, created_at FROM event_queues
		WHERE stream_id = ? ORDER BY created_at ASC, id ASC`, streamID)
}

func (s *SQLiteStore) PopNewest(ctx context.Context, streamID string) (StoredEvent, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StoredEvent{}, false, model.NewStorageError("pop_newest", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var ev StoredEvent
	row := tx.QueryRowContext(ctx, `
		SELECT id, event_id, event_data, created_at FROM event_queues
		WHERE stream_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, streamID)
	var data string
	if err := row.Scan(&ev.SeqID, &ev.EventID, &data, &ev.CreatedAt); err != nil {
		if err == stdsql.ErrNoRows {
			return StoredEvent{}, false, nil
		}
		return StoredEvent{}, false, model.NewStorageError("pop_newest", err)
	}
	ev.Data = []byte(data)

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_queues WHERE id = ?`, ev.SeqID); err != nil {
		return StoredEvent{}, false, model.NewStorageError("pop_newest", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE stream_metadata SET event_count = (SELECT COUNT(*) FROM event_queues WHERE stream_id = ?)
		WHERE stream_id = ?`, streamID, streamID); err != nil {
		return StoredEvent{}, false, model.NewStorageError("pop_newest", err)
	}
	if err := tx.Commit(); err != nil {
		return StoredEvent{}, false, model.NewStorageError("pop_newest", err)
	}
	return ev, true, nil
}

func (s *SQLiteStore) DrainAll(ctx context.Context, streamID string) ([]StoredEvent, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	events, err := s.queryOrdered(ctx, `
		SELECT id, event_id, event_data, created_at FROM event_queues
		WHERE stream_id = ? ORDER BY created_at ASC, id ASC`, streamID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.NewStorageError("drain_all", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_queues WHERE stream_id = ?`, streamID); err != nil {
		return nil, model.NewStorageError("drain_all", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE stream_metadata SET event_count = 0 WHERE stream_id = ?`, streamID); err != nil {
		return nil, model.NewStorageError("drain_all", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, model.NewStorageError("drain_all", err)
	}
	return events, nil
}

func (s *SQLiteStore) HasEvents(ctx context.Context, streamID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_queues WHERE stream_id = ?`, streamID).Scan(&count)
	if err != nil {
		return false, model.NewStorageError("has_events", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) QueryRange(ctx context.Context, streamID string, filter RangeFilter) ([]StoredEvent, error) {
	query := `SELECT id, event_id, event_data, created_at FROM event_queues WHERE stream_id = ?`
	args := []any{streamID}

	if filter.FromTimestamp != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.FromTimestamp.UTC())
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryOrdered(ctx, query, args...)
}

func (s *SQLiteStore) Meta(ctx context.Context, streamID string) (StreamMeta, error) {
	var m StreamMeta
	m.StreamID = streamID
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, last_accessed_at, event_count FROM stream_metadata WHERE stream_id = ?`,
		streamID).Scan(&m.CreatedAt, &m.LastAccessedAt, &m.EventCount)
	if err != nil {
		if err == stdsql.ErrNoRows {
			return StreamMeta{}, model.ErrNotFound
		}
		return StreamMeta{}, model.NewStorageError("meta", err)
	}
	return m, nil
}

func (s *SQLiteStore) CleanupExpired(ctx context.Context, now time.Time, ttl time.Duration) ([]string, error) {
	cutoff := now.Add(-ttl).UTC()

	rows, err := s.db.QueryContext(ctx, `SELECT stream_id FROM stream_metadata WHERE last_accessed_at < ?`, cutoff)
	if err != nil {
		return nil, model.NewStorageError("cleanup_expired", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, model.NewStorageError("cleanup_expired", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := s.DeleteStream(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for health checks (§4.8), mirroring the
// teacher's database.Client.DB().
func (s *SQLiteStore) DB() *stdsql.DB { return s.db }

func (s *SQLiteStore) queryOrdered(ctx context.Context, query string, args ...any) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError("query", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var data string
		if err := rows.Scan(&ev.SeqID, &ev.EventID, &data, &ev.CreatedAt); err != nil {
			return nil, model.NewStorageError("query", err)
		}
		ev.Data = []byte(data)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func isUniqueConstraint(err error) bool {
	// modernc.org/sqlite reports constraint violations with this substring
	// in the driver error text; there is no typed sentinel to errors.As on.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

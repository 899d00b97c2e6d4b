package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
)

// SQLiteStore persists envelopes to SQLite.
//
// The store holds a single long-lived connection. Writes are serialized
// under one lock and each runs in its own transaction; the log is not
// designed for concurrent writers from other processes.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ Log = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite log and applies migrations.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: ":memory:" databases are per-connection, and a single
	// writer is all the log supports.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()

	// Enable WAL mode for better read performance alongside offline readers
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := applyMigrations(ctx, db, migrationFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}

const selectColumns = `event_id, metadata, payload, status, error_message, created_at, updated_at`

// Save implements Log.
func (s *SQLiteStore) Save(ctx context.Context, env *event.StoredEnvelope) error {
	if env == nil || env.Metadata.ID == "" {
		return fmt.Errorf("save event: envelope id is required")
	}
	row := prepare(env, time.Now())

	meta, err := json.Marshal(row.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if !json.Valid(row.Payload) {
		return fmt.Errorf("save event %s: payload is not valid JSON", row.Metadata.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = ?`, row.Metadata.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("save event %s: %w", row.Metadata.ID, ErrDuplicate)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("save event: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (event_id, metadata, payload, status, error_message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			row.Metadata.ID,
			string(meta),
			string(row.Payload),
			string(row.Status),
			nullString(row.Error),
			formatTime(row.CreatedAt),
			formatTime(row.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("save event: %w", err)
		}
		return nil
	})
}

// Get implements Log.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*event.StoredEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM events WHERE event_id = ?`, id)
	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return env, nil
}

// Query implements Log.
//
// Kind, source, status and time bounds are evaluated in SQL against the
// indexed columns. Tag, priority and custom groups are evaluated in Go on
// the scanned rows, after which offset and limit are applied.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]*event.StoredEnvelope, error) {
	var (
		where []string
		args  []any
	)

	if kinds := q.Filter.Kinds(); len(kinds) > 0 {
		where = append(where, "json_extract(metadata, '$.kind') IN ("+placeholders(len(kinds))+")")
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	if sources := q.Filter.Sources(); len(sources) > 0 {
		where = append(where, "json_extract(metadata, '$.source') IN ("+placeholders(len(sources))+")")
		for _, src := range sources {
			args = append(args, src)
		}
	}
	if len(q.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(q.Statuses))+")")
		for _, st := range q.Statuses {
			args = append(args, string(st))
		}
	}
	start, end := q.Filter.TimeRange()
	if !start.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(start))
	}
	if !end.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(end))
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + selectColumns + " FROM events")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if q.Ascending {
		sb.WriteString(" ORDER BY created_at ASC, rowid ASC")
	} else {
		sb.WriteString(" ORDER BY created_at DESC, rowid DESC")
	}

	scan := q.Filter.NeedsScan()
	if !scan && q.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.Limit, max(q.Offset, 0))
	} else if !scan && q.Offset > 0 {
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, q.Offset)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var envs []*event.StoredEnvelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if scan && !q.Filter.Matches(env) {
			continue
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if scan {
		envs = page(envs, q.Offset, q.Limit)
	}
	return envs, nil
}

// UpdateStatus implements Log.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status event.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM events WHERE event_id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load status: %w", err)
		}

		if err := event.Status(current).CheckTransition(id, status); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE events SET status = ?, error_message = ?, updated_at = ?
			WHERE event_id = ?
		`, string(status), nullString(errMsg), formatTime(time.Now()), id)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

// Delete implements Log.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE event_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CleanupOlderThan implements Log.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age < 0 {
		return 0, fmt.Errorf("cleanup: negative age %s", age)
	}
	cutoff := formatTime(time.Now().Add(-age))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var deleted int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup events: %w", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("cleanup events: %w", err)
		}
		return nil
	})
	return deleted, err
}

// Stats implements Log.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, ErrStoreClosed
	}

	stats := Stats{
		ByStatus: make(map[event.Status]int64),
		ByKind:   make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[event.Status(status)] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate status counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT json_extract(metadata, '$.kind'), COUNT(*) FROM events
		GROUP BY json_extract(metadata, '$.kind')
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("count by kind: %w", err)
	}
	for rows.Next() {
		var (
			kind string
			n    int64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("scan kind count: %w", err)
		}
		stats.ByKind[kind] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate kind counts: %w", err)
	}

	if stats.Total == 0 {
		return stats, nil
	}

	var oldest, newest string
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(created_at), MAX(created_at) FROM events`).Scan(&oldest, &newest); err != nil {
		return Stats{}, fmt.Errorf("time bounds: %w", err)
	}
	stats.Oldest, _ = parseTime(oldest)
	stats.Newest, _ = parseTime(newest)

	return stats, nil
}

// Close implements Log.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*event.StoredEnvelope, error) {
	var (
		id, meta, payload, status string
		errMsg                    sql.NullString
		created, updated          string
	)
	if err := row.Scan(&id, &meta, &payload, &status, &errMsg, &created, &updated); err != nil {
		return nil, err
	}

	env := &event.StoredEnvelope{
		Payload: json.RawMessage(payload),
		Status:  event.Status(status),
		Error:   errMsg.String,
	}
	if err := json.Unmarshal([]byte(meta), &env.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
	}

	var err error
	if env.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", id, err)
	}
	if env.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", id, err)
	}
	return env, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

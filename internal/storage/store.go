package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/procedura/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// tsLayout is fixed-width so stored timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000Z07:00"

// Store defines the interface for procedura's local data operations.
type Store interface {
	Put(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, dest any) (bool, error)
	Apply(ctx context.Context, puts map[string]any, deletes []string) error
	Delete(ctx context.Context, keys ...string) error
	AddDropped(ctx context.Context, rec types.QueuedRecording) error
	ListDropped(ctx context.Context, limit int) ([]DroppedRecording, error)
	PruneDropped(ctx context.Context, olderThan time.Time) (int64, error)
	CountDroppedBefore(ctx context.Context, olderThan time.Time) (int64, error)
	Audit(ctx context.Context, action, detail, refID string) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	PurgeAll(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database. Values in the
// kv table are msgpack-encoded.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	// Prepared statements
	putValue    *sql.Stmt
	getValue    *sql.Stmt
	deleteValue *sql.Stmt
	insertAudit *sql.Stmt
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

const upsertSQL = `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.putValue, err = s.db.Prepare(upsertSQL)
	if err != nil {
		return err
	}

	s.getValue, err = s.db.Prepare(`SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	s.deleteValue, err = s.db.Prepare(`DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	s.insertAudit, err = s.db.Prepare(`
		INSERT INTO audit_log (action, detail, ref_id, ts) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(tsLayout)
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		tsLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// Put stores value under key, replacing any previous value.
func (s *SQLiteStore) Put(ctx context.Context, key string, value any) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.putValue.ExecContext(ctx, key, data, s.timestamp()); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get decodes the value stored under key into dest. It reports false and
// leaves dest untouched when the key is absent.
func (s *SQLiteStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	var data []byte
	err := s.getValue.QueryRowContext(ctx, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := msgpack.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Apply writes puts and removes deletes in a single transaction.
func (s *SQLiteStore) Apply(ctx context.Context, puts map[string]any, deletes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ts := s.timestamp()
	for key, value := range puts {
		data, err := msgpack.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, upsertSQL, key, data, ts); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
	}
	for _, key := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// Delete removes keys. Missing keys are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.deleteValue.ExecContext(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// AddDropped records a recording that will not be retried again.
func (s *SQLiteStore) AddDropped(ctx context.Context, rec types.QueuedRecording) error {
	steps, err := msgpack.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}

	var description sql.NullString
	if rec.Description != nil {
		description = sql.NullString{String: *rec.Description, Valid: true}
	}
	lastError := ""
	if rec.LastError != nil {
		lastError = *rec.LastError
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dropped_recordings
			(id, title, description, steps, step_count, created_at, retry_count, last_error, dropped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, description, steps, len(rec.Steps),
		rec.CreatedAt, rec.RetryCount, lastError, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("insert dropped recording: %w", err)
	}
	return nil
}

// ListDropped returns dropped recordings, newest first.
func (s *SQLiteStore) ListDropped(ctx context.Context, limit int) ([]DroppedRecording, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, steps, created_at, retry_count, last_error, dropped_at
		FROM dropped_recordings ORDER BY dropped_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dropped recordings: %w", err)
	}
	defer rows.Close()

	out := []DroppedRecording{}
	for rows.Next() {
		var d DroppedRecording
		var description sql.NullString
		var steps []byte
		var lastError, droppedAt string
		if err := rows.Scan(
			&d.ID, &d.Title, &description, &steps,
			&d.CreatedAt, &d.RetryCount, &lastError, &droppedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dropped recording: %w", err)
		}
		if err := msgpack.Unmarshal(steps, &d.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of %s: %w", d.ID, err)
		}
		if d.Steps == nil {
			d.Steps = []types.CapturedStep{}
		}
		if description.Valid {
			d.Description = types.StringPtr(description.String)
		}
		if lastError != "" {
			d.LastError = types.StringPtr(lastError)
		}
		d.DroppedAt, _ = parseTimestamp(droppedAt)
		out = append(out, d)
	}

	return out, rows.Err()
}

// PruneDropped deletes dropped recordings older than olderThan.
func (s *SQLiteStore) PruneDropped(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM dropped_recordings WHERE dropped_at < ?",
		olderThan.UTC().Format(tsLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune dropped recordings: %w", err)
	}
	return res.RowsAffected()
}

// CountDroppedBefore counts what PruneDropped would delete.
func (s *SQLiteStore) CountDroppedBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dropped_recordings WHERE dropped_at < ?",
		olderThan.UTC().Format(tsLayout),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dropped recordings: %w", err)
	}
	return n, nil
}

// Audit appends an entry to the audit log.
func (s *SQLiteStore) Audit(ctx context.Context, action, detail, refID string) error {
	var ref sql.NullString
	if refID != "" {
		ref = sql.NullString{String: refID, Valid: true}
	}
	if _, err := s.insertAudit.ExecContext(ctx, action, detail, ref, s.timestamp()); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns the newest audit entries first.
func (s *SQLiteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, action, detail, ref_id, ts FROM audit_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var ref sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.Action, &e.Detail, &ref, &ts); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.RefID = ref.String
		e.TS, _ = parseTimestamp(ts)
		out = append(out, e)
	}

	return out, rows.Err()
}

// PurgeAll deletes all local state: recording, queue, settings, session,
// dropped recordings and the audit log.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	stmts := []string{
		"DELETE FROM kv",
		"DELETE FROM dropped_recordings",
		"DELETE FROM audit_log",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge (%s): %w", stmt, err)
		}
	}
	return nil
}

// GetStats returns aggregate statistics about the database.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&stats.Keys)
	if err != nil {
		return nil, fmt.Errorf("count keys: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dropped_recordings").Scan(&stats.DroppedCount)
	if err != nil {
		return nil, fmt.Errorf("count dropped recordings: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&stats.AuditEntries)
	if err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}

	if stats.DroppedCount > 0 {
		var last string
		err = s.db.QueryRowContext(ctx, "SELECT MAX(dropped_at) FROM dropped_recordings").Scan(&last)
		if err != nil {
			return nil, fmt.Errorf("last dropped: %w", err)
		}
		stats.LastDroppedAt, _ = parseTimestamp(last)
	}

	if stats.Keys > 0 {
		var last string
		err = s.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM kv").Scan(&last)
		if err != nil {
			return nil, fmt.Errorf("last activity: %w", err)
		}
		stats.LastActivity, _ = parseTimestamp(last)
	}

	return stats, nil
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed, that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{s.putValue, s.getValue, s.deleteValue, s.insertAudit}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

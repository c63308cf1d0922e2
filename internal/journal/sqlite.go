package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite implements Journal on a local SQLite database. One instance is
// shared by every session in the process.
type SQLite struct {
	db     *sql.DB
	mu     sync.Mutex // serializes writes to avoid SQLITE_BUSY
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ Journal = (*SQLite)(nil)
	_ Pruner  = (*SQLite)(nil)
)

// OpenSQLite opens (creating if needed) the journal database at dbPath.
func OpenSQLite(dbPath string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &SQLite{db: db, now: time.Now, logger: logger}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *SQLite) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		game_id TEXT NOT NULL,
		power TEXT NOT NULL,
		phase TEXT NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_power_created ON journal_entries(power, created_at);
	`
	if _, err := j.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (j *SQLite) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Append writes entry, retrying briefly with exponential backoff when the
// database is locked by another writer.
func (j *SQLite) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.now()
	}

	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = j.appendOnce(ctx, entry)
		if err == nil {
			return nil
		}
		if !isConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		j.logger.Debug("Journal append hit a locked database, retrying",
			"power", entry.Power,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("append journal entry for %s: %w", entry.Power, err)
}

func (j *SQLite) appendOnce(ctx context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `
		INSERT INTO journal_entries (id, game_id, power, phase, kind, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		e.ID, e.GameID, e.Power, e.Phase, string(e.Kind), e.Text, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for power, newest first.
func (j *SQLite) Recent(ctx context.Context, power string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, game_id, power, phase, kind, text, created_at
		FROM journal_entries WHERE power = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, power, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.GameID, &e.Power, &e.Phase, &kind, &e.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Kind = Kind(kind)
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return entries, nil
}

// Prune removes entries older than retention.
func (j *SQLite) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	threshold := j.now().Add(-retention).UnixMilli()
	result, err := j.db.ExecContext(ctx, `DELETE FROM journal_entries WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (j *SQLite) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// isConflictError reports SQLite concurrency errors (SQLITE_BUSY or
// "database is locked") that warrant a retry.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

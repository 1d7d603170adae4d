package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"screenrelay/internal/domain"
)

// SQLiteJournal implements domain.RunJournal using SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*SQLiteJournal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}

	// single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}

	return &SQLiteJournal{db: db, logger: logger}, nil
}

// SchemaVersion reports the schema version recorded in the database file and
// the version this build migrates to.
func (j *SQLiteJournal) SchemaVersion() (current, expected int, err error) {
	current, err = GetSchemaVersion(j.db)
	return current, schemaVersion, err
}

func (j *SQLiteJournal) StartRun(ctx context.Context, rec domain.RunRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, conversation, state, message_len, image_bytes, tokens, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Conversation, string(rec.State), rec.MessageLen, rec.ImageBytes, rec.Tokens, rec.StartedAt.UTC(),
	)
	return err
}

// FinishRun stores the final state of a run, inserting it if StartRun was
// never recorded.
func (j *SQLiteJournal) FinishRun(ctx context.Context, rec domain.RunRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, conversation, state, failure, error, message_len, image_bytes, tokens, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			state=excluded.state, failure=excluded.failure, error=excluded.error,
			image_bytes=excluded.image_bytes, tokens=excluded.tokens, finished_at=excluded.finished_at`,
		rec.ID, rec.Conversation, string(rec.State), rec.Failure, rec.Error,
		rec.MessageLen, rec.ImageBytes, rec.Tokens, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	return err
}

// ListRuns returns the most recent runs, newest first.
func (j *SQLiteJournal) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, conversation, state, failure, error, message_len, image_bytes, tokens, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		var rec domain.RunRecord
		var state string
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Conversation, &state, &rec.Failure, &rec.Error,
			&rec.MessageLen, &rec.ImageBytes, &rec.Tokens, &rec.StartedAt, &finished); err != nil {
			return nil, err
		}
		rec.State = domain.PipelineState(state)
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Prune deletes finished runs older than maxAge.
func (j *SQLiteJournal) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC()
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM runs WHERE finished_at IS NOT NULL AND started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Nop is a RunJournal that records nothing.
type Nop struct{}

func (Nop) StartRun(context.Context, domain.RunRecord) error  { return nil }
func (Nop) FinishRun(context.Context, domain.RunRecord) error { return nil }
func (Nop) ListRuns(context.Context, int) ([]domain.RunRecord, error) {
	return nil, nil
}
func (Nop) Close() error { return nil }

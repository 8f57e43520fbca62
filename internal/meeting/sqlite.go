package meeting

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single connection avoids SQLITE_BUSY under concurrent writers and
	// keeps :memory: databases from splitting across pooled connections.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS meetings (
			id               TEXT PRIMARY KEY,
			filename         TEXT NOT NULL,
			artifact_id      TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending',
			transcript       TEXT,
			summary          TEXT,
			keywords         TEXT,
			language         TEXT,
			duration_seconds REAL,
			retry_count      INTEGER NOT NULL DEFAULT 0,
			error_reason     TEXT NOT NULL DEFAULT '',
			created_at       DATETIME NOT NULL,
			updated_at       DATETIME NOT NULL,
			completed_at     DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_meetings_status     ON meetings(status);
		CREATE INDEX IF NOT EXISTS idx_meetings_created_at ON meetings(created_at);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, r *Record) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Status = StatusPending

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, filename, artifact_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Filename, r.ArtifactID, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create meeting: %w", err)
	}
	return nil
}

const recordColumns = `id, filename, artifact_id, status, transcript, summary, keywords,
	       language, duration_seconds, retry_count, error_reason, created_at, updated_at, completed_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	r := &Record{}
	var transcript, summary, keywords, language sql.NullString
	var duration sql.NullFloat64
	var completedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.Filename, &r.ArtifactID, &r.Status, &transcript, &summary,
		&keywords, &language, &duration, &r.RetryCount, &r.ErrorReason,
		&r.CreatedAt, &r.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if transcript.Valid {
		r.Transcript = &transcript.String
	}
	if summary.Valid {
		r.Summary = &summary.String
	}
	if keywords.Valid && keywords.String != "" {
		r.Keywords = strings.Split(keywords.String, ",")
	}
	if language.Valid {
		r.Language = &language.String
	}
	if duration.Valid {
		r.DurationSeconds = &duration.Float64
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM meetings WHERE id = ?
	`, id)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting %s: %w", id, err)
	}
	return r, nil
}

// List returns meetings ordered by created_at DESC with pagination, and the total count.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meetings`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count meetings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM meetings
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan meeting: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate meetings: %w", err)
	}
	return records, total, nil
}

func (s *SQLiteStore) SearchCandidates(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM meetings ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, StatusProcessing, time.Now().UTC(), id, StatusPending, StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark processing %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark processing %s: %w", id, err)
	}
	if n == 0 {
		// Either the record is gone or it already reached a terminal state.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrTerminal
	}
	return nil
}

func (s *SQLiteStore) UpsertResults(ctx context.Context, id string, r *Results) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings
		SET status = ?, transcript = ?, summary = ?, keywords = ?, language = ?,
		    duration_seconds = ?, error_reason = '', completed_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusCompleted, r.Transcript, r.Summary, strings.Join(r.Keywords, ","),
		nullableString(r.Language), r.DurationSeconds, now, now, id)
	if err != nil {
		return fmt.Errorf("upsert results %s: %w", id, err)
	}
	return notFoundIfZero(res, id)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings
		SET status = ?, error_reason = ?, transcript = NULL, summary = NULL,
		    completed_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusFailed, reason, now, now, id)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return notFoundIfZero(res, id)
}

func (s *SQLiteStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("increment retry %s: %w", id, err)
	}
	if err := notFoundIfZero(res, id); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM meetings WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("read retry count %s: %w", id, err)
	}
	return count, nil
}

func (s *SQLiteStore) ResetForReprocess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings
		SET status = ?, retry_count = 0, error_reason = '', transcript = NULL,
		    summary = NULL, keywords = NULL, language = NULL,
		    duration_seconds = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ?
	`, StatusPending, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reset meeting %s: %w", id, err)
	}
	return notFoundIfZero(res, id)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete meeting %s: %w", id, err)
	}
	return notFoundIfZero(res, id)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFoundIfZero(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

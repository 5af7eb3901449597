package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/trainer-scheduler/internal/persistence"
	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// Store wraps the SQLite connection shared by the repositories.
type Store struct {
	db *sql.DB
}

// Open connects to the SQLite database identified by dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// The driver serializes writes; a single connection avoids busy errors
	// between the request path and the dispatcher.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
		display_name  TEXT NOT NULL,
		role          TEXT NOT NULL CHECK (role IN ('trainer', 'athlete')),
		password_hash TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id                 TEXT PRIMARY KEY,
		trainer_id         TEXT NOT NULL REFERENCES users(id),
		athlete_id         TEXT NOT NULL REFERENCES users(id),
		title              TEXT NOT NULL,
		description        TEXT NOT NULL DEFAULT '',
		date               TEXT NOT NULL,
		start_time         TEXT NOT NULL,
		end_time           TEXT NOT NULL,
		duration_minutes   INTEGER NOT NULL CHECK (duration_minutes > 0),
		type               TEXT NOT NULL,
		status             TEXT NOT NULL,
		location           TEXT,
		is_online          INTEGER NOT NULL DEFAULT 0,
		meeting_link       TEXT,
		reminder_minutes   INTEGER NOT NULL DEFAULT 0 CHECK (reminder_minutes >= 0),
		color              TEXT NOT NULL DEFAULT '',
		notes              TEXT NOT NULL DEFAULT '',
		athlete_confirmed  INTEGER NOT NULL DEFAULT 0,
		cancelled_reason   TEXT,
		cancelled_by       TEXT,
		cancelled_at       TEXT,
		is_recurring       INTEGER NOT NULL DEFAULT 0,
		recurring_pattern  TEXT,
		parent_schedule_id TEXT,
		occurrence_number  INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_trainer_date ON schedules (trainer_id, date)`,
	// schedule_id is intentionally not a foreign key: dispatch history
	// outlives a deleted schedule.
	`CREATE TABLE IF NOT EXISTS schedule_notifications (
		id              TEXT PRIMARY KEY,
		schedule_id     TEXT NOT NULL,
		recipient_id    TEXT NOT NULL,
		type            TEXT NOT NULL,
		channel         TEXT NOT NULL DEFAULT 'email',
		scheduled_for   TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		sent_at         TEXT,
		error           TEXT,
		attempts        INTEGER NOT NULL DEFAULT 0,
		additional_data TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_due ON schedule_notifications (status, scheduled_for)`,
	`CREATE TABLE IF NOT EXISTS schedule_attendance (
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		athlete_id  TEXT NOT NULL REFERENCES users(id),
		status      TEXT NOT NULL,
		marked_at   TEXT NOT NULL,
		PRIMARY KEY (schedule_id, athlete_id)
	)`,
}

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// WithTransaction runs fn inside a transaction, rolling back on error.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlite: transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit transaction: %w", err)
	}
	return nil
}

// mapError translates driver errors into the persistence taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrForeignKeyViolation, err)
	case strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}
	return err
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}

func nullTime(value *time.Time) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: value.UTC().Format(time.RFC3339), Valid: true}
}

func timePtr(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value.String)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parse timestamp: %w", err)
	}
	return &parsed, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp: %w", err)
	}
	return parsed, nil
}

func formatDate(value time.Time) string {
	return value.Format(dateLayout)
}

func parseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse date: %w", err)
	}
	return parsed, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

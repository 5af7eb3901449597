package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/trainer-scheduler/internal/persistence/sqlite"
)

// SQLiteHarness provides repository access backed by a temporary SQLite store
// for integration-style persistence tests.
type SQLiteHarness struct {
	Store         *sqlite.Store
	Users         *sqlite.UserRepository
	Schedules     *sqlite.ScheduleRepository
	Notifications *sqlite.NotificationRepository
	Attendance    *sqlite.AttendanceRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a harness over a temporary database file that is
// migrated automatically. A cleanup callback is registered with the provided
// testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	dir := tb.TempDir()
	path := filepath.Join(dir, "trainer.db")

	store, err := sqlite.Open(path)
	if err != nil {
		tb.Fatalf("failed to open store: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate store: %v", err)
	}

	harness := &SQLiteHarness{
		Store:         store,
		Users:         sqlite.NewUserRepository(store),
		Schedules:     sqlite.NewScheduleRepository(store),
		Notifications: sqlite.NewNotificationRepository(store),
		Attendance:    sqlite.NewAttendanceRepository(store),
		cleanup: func() {
			_ = store.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

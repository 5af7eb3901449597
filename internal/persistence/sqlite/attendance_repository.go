package sqlite

import (
	"context"

	"github.com/example/trainer-scheduler/internal/persistence"
)

// AttendanceRepository implements persistence.AttendanceRepository over SQLite.
type AttendanceRepository struct {
	store *Store
}

// NewAttendanceRepository wires a repository onto the shared store.
func NewAttendanceRepository(store *Store) *AttendanceRepository {
	return &AttendanceRepository{store: store}
}

// UpsertAttendance records or replaces the presence mark for one athlete on
// one schedule.
func (r *AttendanceRepository) UpsertAttendance(ctx context.Context, attendance persistence.Attendance) error {
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO schedule_attendance (schedule_id, athlete_id, status, marked_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (schedule_id, athlete_id) DO UPDATE SET status = excluded.status, marked_at = excluded.marked_at`,
		attendance.ScheduleID,
		attendance.AthleteID,
		attendance.Status,
		formatTime(attendance.MarkedAt),
	)
	return mapError(err)
}

// ListForSchedule returns the presence marks recorded for a schedule.
func (r *AttendanceRepository) ListForSchedule(ctx context.Context, scheduleID string) ([]persistence.Attendance, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT schedule_id, athlete_id, status, marked_at
		 FROM schedule_attendance WHERE schedule_id = ? ORDER BY athlete_id ASC`, scheduleID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var marks []persistence.Attendance
	for rows.Next() {
		var mark persistence.Attendance
		var markedAtStr string
		if err := rows.Scan(&mark.ScheduleID, &mark.AthleteID, &mark.Status, &markedAtStr); err != nil {
			return nil, mapError(err)
		}
		if mark.MarkedAt, err = parseTime(markedAtStr); err != nil {
			return nil, err
		}
		marks = append(marks, mark)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return marks, nil
}

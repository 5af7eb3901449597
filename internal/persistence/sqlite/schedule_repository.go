package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/trainer-scheduler/internal/persistence"
)

// ScheduleRepository implements persistence.ScheduleRepository over SQLite.
type ScheduleRepository struct {
	store *Store
}

// NewScheduleRepository wires a repository onto the shared store.
func NewScheduleRepository(store *Store) *ScheduleRepository {
	return &ScheduleRepository{store: store}
}

const scheduleColumns = `id, trainer_id, athlete_id, title, description, date, start_time, end_time,
	duration_minutes, type, status, location, is_online, meeting_link, reminder_minutes,
	color, notes, athlete_confirmed, cancelled_reason, cancelled_by, cancelled_at,
	is_recurring, recurring_pattern, parent_schedule_id, occurrence_number, created_at, updated_at`

// CreateSchedule inserts a single schedule row.
func (r *ScheduleRepository) CreateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	return r.store.WithTransaction(ctx, func(tx *sql.Tx) error {
		return insertSchedule(tx, schedule)
	})
}

// CreateSchedules inserts a recurring batch atomically; either every row is
// written or none are.
func (r *ScheduleRepository) CreateSchedules(ctx context.Context, schedules []persistence.Schedule) error {
	if len(schedules) == 0 {
		return nil
	}
	return r.store.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, schedule := range schedules {
			if err := insertSchedule(tx, schedule); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertSchedule(tx *sql.Tx, schedule persistence.Schedule) error {
	if schedule.ID == "" {
		return persistence.ErrConstraintViolation
	}
	query := `INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := tx.Exec(query,
		schedule.ID,
		schedule.TrainerID,
		schedule.AthleteID,
		schedule.Title,
		schedule.Description,
		formatDate(schedule.Date),
		schedule.StartTime,
		schedule.EndTime,
		schedule.DurationMinutes,
		schedule.Type,
		schedule.Status,
		nullString(schedule.Location),
		boolToInt(schedule.IsOnline),
		nullString(schedule.MeetingLink),
		schedule.ReminderMinutes,
		schedule.Color,
		schedule.Notes,
		boolToInt(schedule.AthleteConfirmed),
		nullString(schedule.CancelledReason),
		nullString(schedule.CancelledBy),
		nullTime(schedule.CancelledAt),
		boolToInt(schedule.IsRecurring),
		nullString(schedule.RecurringPattern),
		nullString(schedule.ParentScheduleID),
		schedule.OccurrenceNumber,
		formatTime(schedule.CreatedAt),
		formatTime(schedule.UpdatedAt),
	)
	return mapError(err)
}

// UpdateSchedule rewrites all mutable columns of an existing row.
func (r *ScheduleRepository) UpdateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	if schedule.ID == "" {
		return persistence.ErrNotFound
	}
	query := `UPDATE schedules SET
		title = ?, description = ?, date = ?, start_time = ?, end_time = ?, duration_minutes = ?,
		type = ?, status = ?, location = ?, is_online = ?, meeting_link = ?, reminder_minutes = ?,
		color = ?, notes = ?, athlete_confirmed = ?, cancelled_reason = ?, cancelled_by = ?,
		cancelled_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.store.db.ExecContext(ctx, query,
		schedule.Title,
		schedule.Description,
		formatDate(schedule.Date),
		schedule.StartTime,
		schedule.EndTime,
		schedule.DurationMinutes,
		schedule.Type,
		schedule.Status,
		nullString(schedule.Location),
		boolToInt(schedule.IsOnline),
		nullString(schedule.MeetingLink),
		schedule.ReminderMinutes,
		schedule.Color,
		schedule.Notes,
		boolToInt(schedule.AthleteConfirmed),
		nullString(schedule.CancelledReason),
		nullString(schedule.CancelledBy),
		nullTime(schedule.CancelledAt),
		formatTime(schedule.UpdatedAt),
		schedule.ID,
	)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetSchedule retrieves one row by id.
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	if id == "" {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	row := r.store.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if err != nil {
		return persistence.Schedule{}, err
	}
	return schedule, nil
}

// ListSchedules returns rows matching the filter ordered by date and start time.
func (r *ScheduleRepository) ListSchedules(ctx context.Context, filter persistence.ScheduleFilter) ([]persistence.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`

	var conditions []string
	var args []any

	if filter.TrainerID != "" {
		conditions = append(conditions, "trainer_id = ?")
		args = append(args, filter.TrainerID)
	}
	if filter.AthleteID != "" {
		conditions = append(conditions, "athlete_id = ?")
		args = append(args, filter.AthleteID)
	}
	if filter.Date != nil {
		conditions = append(conditions, "date = ?")
		args = append(args, formatDate(*filter.Date))
	}
	if filter.StartsAfter != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, formatDate(*filter.StartsAfter))
	}
	if filter.EndsBefore != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, formatDate(*filter.EndsBefore))
	}
	if filter.ExcludeStatus != "" {
		conditions = append(conditions, "status <> ?")
		args = append(args, filter.ExcludeStatus)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date ASC, start_time ASC, id ASC"

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var schedules []persistence.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return schedules, nil
}

// DeleteSchedule removes a row and its attendance marks. Notification rows are
// left in place as dispatch history.
func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}
	return r.store.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM schedule_attendance WHERE schedule_id = ?", id); err != nil {
			return mapError(err)
		}
		result, err := tx.Exec("DELETE FROM schedules WHERE id = ?", id)
		if err != nil {
			return mapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: rows affected: %w", err)
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (persistence.Schedule, error) {
	var schedule persistence.Schedule
	var dateStr, createdAtStr, updatedAtStr string
	var isOnline, athleteConfirmed, isRecurring int
	var location, meetingLink, cancelledReason, cancelledBy, cancelledAt sql.NullString
	var recurringPattern, parentScheduleID sql.NullString

	err := row.Scan(
		&schedule.ID,
		&schedule.TrainerID,
		&schedule.AthleteID,
		&schedule.Title,
		&schedule.Description,
		&dateStr,
		&schedule.StartTime,
		&schedule.EndTime,
		&schedule.DurationMinutes,
		&schedule.Type,
		&schedule.Status,
		&location,
		&isOnline,
		&meetingLink,
		&schedule.ReminderMinutes,
		&schedule.Color,
		&schedule.Notes,
		&athleteConfirmed,
		&cancelledReason,
		&cancelledBy,
		&cancelledAt,
		&isRecurring,
		&recurringPattern,
		&parentScheduleID,
		&schedule.OccurrenceNumber,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.Schedule{}, mapError(err)
	}

	schedule.Location = stringPtr(location)
	schedule.MeetingLink = stringPtr(meetingLink)
	schedule.CancelledReason = stringPtr(cancelledReason)
	schedule.CancelledBy = stringPtr(cancelledBy)
	schedule.RecurringPattern = stringPtr(recurringPattern)
	schedule.ParentScheduleID = stringPtr(parentScheduleID)
	schedule.IsOnline = isOnline != 0
	schedule.AthleteConfirmed = athleteConfirmed != 0
	schedule.IsRecurring = isRecurring != 0

	if schedule.Date, err = parseDate(dateStr); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.CancelledAt, err = timePtr(cancelledAt); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return persistence.Schedule{}, err
	}
	return schedule, nil
}

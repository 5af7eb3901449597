package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/trainer-scheduler/internal/persistence"
)

// NotificationRepository implements persistence.NotificationRepository over SQLite.
type NotificationRepository struct {
	store *Store
}

// NewNotificationRepository wires a repository onto the shared store.
func NewNotificationRepository(store *Store) *NotificationRepository {
	return &NotificationRepository{store: store}
}

const notificationColumns = `id, schedule_id, recipient_id, type, channel, scheduled_for, status,
	sent_at, error, attempts, additional_data, created_at, updated_at`

// CreateNotification inserts a new pending row.
func (r *NotificationRepository) CreateNotification(ctx context.Context, notification persistence.Notification) error {
	if notification.ID == "" {
		return persistence.ErrConstraintViolation
	}
	query := `INSERT INTO schedule_notifications (` + notificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.store.db.ExecContext(ctx, query,
		notification.ID,
		notification.ScheduleID,
		notification.RecipientID,
		notification.Type,
		notification.Channel,
		formatTime(notification.ScheduledFor),
		notification.Status,
		nullTime(notification.SentAt),
		nullString(notification.Error),
		notification.Attempts,
		nullString(notification.AdditionalData),
		formatTime(notification.CreatedAt),
		formatTime(notification.UpdatedAt),
	)
	return mapError(err)
}

// GetNotification retrieves one row by id.
func (r *NotificationRepository) GetNotification(ctx context.Context, id string) (persistence.Notification, error) {
	if id == "" {
		return persistence.Notification{}, persistence.ErrNotFound
	}
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM schedule_notifications WHERE id = ?`, id)
	return scanNotification(row)
}

// ListForSchedule returns every notification attached to a schedule.
func (r *NotificationRepository) ListForSchedule(ctx context.Context, scheduleID string) ([]persistence.Notification, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM schedule_notifications
		 WHERE schedule_id = ? ORDER BY scheduled_for ASC, id ASC`, scheduleID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var notifications []persistence.Notification
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return notifications, nil
}

// ClaimDue selects due pending rows and conditionally flips each one to
// processing. A row that loses the conditional update (already claimed by a
// competing worker) is dropped from the result.
func (r *NotificationRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]persistence.Notification, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.store.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM schedule_notifications
		 WHERE status = 'pending' AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC, id ASC LIMIT ?`,
		formatTime(now), limit)
	if err != nil {
		return nil, mapError(err)
	}

	var candidates []persistence.Notification
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, notification)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapError(err)
	}
	rows.Close()

	claimed := make([]persistence.Notification, 0, len(candidates))
	for _, candidate := range candidates {
		notification, err := r.Claim(ctx, candidate.ID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				continue
			}
			return nil, err
		}
		claimed = append(claimed, notification)
	}
	return claimed, nil
}

// Claim conditionally moves a single pending row to processing.
func (r *NotificationRepository) Claim(ctx context.Context, id string) (persistence.Notification, error) {
	result, err := r.store.db.ExecContext(ctx,
		`UPDATE schedule_notifications SET status = 'processing', updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		formatTime(time.Now()), id)
	if err != nil {
		return persistence.Notification{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.Notification{}, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.Notification{}, persistence.ErrNotFound
	}
	return r.GetNotification(ctx, id)
}

// Release returns a claimed row to pending without recording an attempt, used
// when a worker gives up a claim it never processed.
func (r *NotificationRepository) Release(ctx context.Context, id string) error {
	return r.updateStatus(ctx,
		`UPDATE schedule_notifications SET status = 'pending', updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		formatTime(time.Now()), id)
}

// ReclaimStale flips processing rows whose claim predates the cutoff back to
// pending, so a crashed worker's claims become deliverable again.
func (r *NotificationRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.store.db.ExecContext(ctx,
		`UPDATE schedule_notifications SET status = 'pending', updated_at = ?
		 WHERE status = 'processing' AND updated_at < ?`,
		formatTime(time.Now()), formatTime(cutoff))
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(affected), nil
}

// MarkSent records a successful delivery.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	return r.updateStatus(ctx,
		`UPDATE schedule_notifications SET status = 'sent', sent_at = ?, error = NULL, updated_at = ?
		 WHERE id = ?`,
		formatTime(sentAt), formatTime(sentAt), id)
}

// MarkRetry reverts a claimed row to pending with a new due time after a
// failed attempt.
func (r *NotificationRepository) MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, sendErr string) error {
	return r.updateStatus(ctx,
		`UPDATE schedule_notifications
		 SET status = 'pending', attempts = ?, scheduled_for = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		attempts, formatTime(nextAttemptAt), sendErr, formatTime(time.Now()), id)
}

// MarkFailed records a terminal failure.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id string, attempts int, sendErr string) error {
	return r.updateStatus(ctx,
		`UPDATE schedule_notifications SET status = 'failed', attempts = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		attempts, sendErr, formatTime(time.Now()), id)
}

// MarkCancelled retires a row without sending.
func (r *NotificationRepository) MarkCancelled(ctx context.Context, id string) error {
	return r.updateStatus(ctx,
		`UPDATE schedule_notifications SET status = 'cancelled', updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
}

// CancelPendingForSchedule cancels every pending row owned by a schedule and
// reports how many were affected.
func (r *NotificationRepository) CancelPendingForSchedule(ctx context.Context, scheduleID string, now time.Time) (int, error) {
	result, err := r.store.db.ExecContext(ctx,
		`UPDATE schedule_notifications SET status = 'cancelled', updated_at = ?
		 WHERE schedule_id = ? AND status = 'pending'`,
		formatTime(now), scheduleID)
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *NotificationRepository) updateStatus(ctx context.Context, query string, args ...any) error {
	result, err := r.store.db.ExecContext(ctx, query, args...)
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

func scanNotification(row rowScanner) (persistence.Notification, error) {
	var notification persistence.Notification
	var scheduledForStr, createdAtStr, updatedAtStr string
	var sentAt, errMsg, additionalData sql.NullString

	err := row.Scan(
		&notification.ID,
		&notification.ScheduleID,
		&notification.RecipientID,
		&notification.Type,
		&notification.Channel,
		&scheduledForStr,
		&notification.Status,
		&sentAt,
		&errMsg,
		&notification.Attempts,
		&additionalData,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.Notification{}, mapError(err)
	}

	notification.Error = stringPtr(errMsg)
	notification.AdditionalData = stringPtr(additionalData)

	if notification.ScheduledFor, err = parseTime(scheduledForStr); err != nil {
		return persistence.Notification{}, err
	}
	if notification.SentAt, err = timePtr(sentAt); err != nil {
		return persistence.Notification{}, err
	}
	if notification.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return persistence.Notification{}, err
	}
	if notification.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return persistence.Notification{}, err
	}
	return notification, nil
}

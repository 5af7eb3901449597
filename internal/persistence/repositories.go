package persistence

import (
	"context"
	"time"
)

// UserRepository exposes CRUD operations for trainer and athlete accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, role string) ([]User, error)
	DeleteUser(ctx context.Context, id string) error
}

// ScheduleFilter narrows schedule queries.
type ScheduleFilter struct {
	TrainerID     string
	AthleteID     string
	Date          *time.Time
	StartsAfter   *time.Time
	EndsBefore    *time.Time
	ExcludeStatus string
}

// ScheduleRepository stores session rows.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule Schedule) error
	// CreateSchedules inserts a recurring batch atomically.
	CreateSchedules(ctx context.Context, schedules []Schedule) error
	UpdateSchedule(ctx context.Context, schedule Schedule) error
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// NotificationRepository stores scheduled outbound messages and owns the
// status transitions driven by the dispatcher.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification Notification) error
	GetNotification(ctx context.Context, id string) (Notification, error)
	ListForSchedule(ctx context.Context, scheduleID string) ([]Notification, error)
	// ClaimDue atomically moves up to limit due pending rows to the
	// processing status and returns the claimed rows.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	// Claim conditionally moves a single pending row to processing; it
	// returns ErrNotFound when the row was already claimed or resolved.
	Claim(ctx context.Context, id string) (Notification, error)
	// Release returns a claimed row to pending without counting an attempt.
	Release(ctx context.Context, id string) error
	// ReclaimStale returns processing rows claimed before cutoff to pending.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	// MarkRetry reverts a claimed row to pending with a new due time.
	MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, sendErr string) error
	MarkFailed(ctx context.Context, id string, attempts int, sendErr string) error
	MarkCancelled(ctx context.Context, id string) error
	CancelPendingForSchedule(ctx context.Context, scheduleID string, now time.Time) (int, error)
}

// AttendanceRepository stores presence marks for schedules.
type AttendanceRepository interface {
	UpsertAttendance(ctx context.Context, attendance Attendance) error
	ListForSchedule(ctx context.Context, scheduleID string) ([]Attendance, error)
}

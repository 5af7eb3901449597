package application

import (
	"time"

	"github.com/example/trainer-scheduler/internal/recurrence"
	"github.com/example/trainer-scheduler/internal/scheduler"
)

// ScheduleType classifies a session.
type ScheduleType string

const (
	TypeTraining     ScheduleType = "training"
	TypeConsultation ScheduleType = "consultation"
	TypeAssessment   ScheduleType = "assessment"
	TypeRecovery     ScheduleType = "recovery"
	TypeGroupClass   ScheduleType = "group_class"
	TypeOnline       ScheduleType = "online"
	TypeOther        ScheduleType = "other"
)

// ValidScheduleType reports whether the value is a known session type.
func ValidScheduleType(value ScheduleType) bool {
	switch value {
	case TypeTraining, TypeConsultation, TypeAssessment, TypeRecovery, TypeGroupClass, TypeOnline, TypeOther:
		return true
	}
	return false
}

// ScheduleStatus tracks the session lifecycle.
type ScheduleStatus string

const (
	StatusScheduled  ScheduleStatus = "scheduled"
	StatusConfirmed  ScheduleStatus = "confirmed"
	StatusInProgress ScheduleStatus = "in_progress"
	StatusCompleted  ScheduleStatus = "completed"
	StatusCancelled  ScheduleStatus = "cancelled"
	StatusNoShow     ScheduleStatus = "no_show"
)

// Sendable reports whether notifications for a schedule in this status may
// still be delivered.
func (s ScheduleStatus) Sendable() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Schedule is one planned trainer-athlete session.
type Schedule struct {
	ID               string
	TrainerID        string
	AthleteID        string
	Title            string
	Description      string
	Date             time.Time
	StartTime        string
	EndTime          string
	DurationMinutes  int
	Type             ScheduleType
	Status           ScheduleStatus
	Location         *string
	IsOnline         bool
	MeetingLink      *string
	ReminderMinutes  int
	Color            string
	Notes            string
	AthleteConfirmed bool
	CancelledReason  *string
	CancelledBy      *string
	CancelledAt      *time.Time
	IsRecurring      bool
	RecurringPattern *recurrence.Rule
	ParentScheduleID *string
	OccurrenceNumber int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StartsAt combines the calendar date and start clock time in the given
// location into an absolute timestamp.
func (s Schedule) StartsAt(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	// StartTime is validated on the way in; a malformed value falls back to midnight.
	minutes, err := scheduler.ParseClock(s.StartTime)
	if err != nil {
		minutes = 0
	}
	y, m, d := s.Date.Date()
	return time.Date(y, m, d, 0, minutes, 0, 0, loc)
}

// ScheduleInput captures caller provided session fields.
type ScheduleInput struct {
	TrainerID        string
	AthleteID        string
	Title            string
	Description      string
	Date             time.Time
	StartTime        string
	EndTime          string
	Type             ScheduleType
	Location         *string
	IsOnline         bool
	MeetingLink      *string
	ReminderMinutes  int
	Color            string
	Notes            string
	Recurrence       *recurrence.Rule
}

// ConflictResult is the outcome of a conflict check.
type ConflictResult struct {
	HasConflict bool
	Conflicts   []Schedule
}

// ConflictCheckParams identifies the slot to probe for overlaps.
type ConflictCheckParams struct {
	TrainerID string
	Date      time.Time
	StartTime string
	EndTime   string
	ExcludeID string
}

// CancelScheduleParams captures the data recorded on cancellation.
type CancelScheduleParams struct {
	ScheduleID  string
	Reason      string
	CancelledBy string
}

// ListSchedulesParams narrows schedule listings.
type ListSchedulesParams struct {
	TrainerID   string
	AthleteID   string
	Date        *time.Time
	StartsAfter *time.Time
	EndsBefore  *time.Time
}

// AttendanceStatus records presence marking outcomes.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
)

// Attendance is one presence mark for an athlete on a schedule.
type Attendance struct {
	ScheduleID string
	AthleteID  string
	Status     AttendanceStatus
	MarkedAt   time.Time
}

// NotificationType identifies the email sent for a notification.
type NotificationType string

const (
	NotificationReminder            NotificationType = "reminder"
	NotificationConfirmationRequest NotificationType = "confirmation_request"
	NotificationCancellation        NotificationType = "cancellation"
	NotificationReschedule          NotificationType = "reschedule"
)

// NotificationStatus tracks a notification through dispatch.
type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "pending"
	NotificationProcessing NotificationStatus = "processing"
	NotificationSent       NotificationStatus = "sent"
	NotificationFailed     NotificationStatus = "failed"
	NotificationCancelled  NotificationStatus = "cancelled"
)

// ChannelEmail is the only delivery channel currently supported.
const ChannelEmail = "email"

// Notification is a persisted, time-gated intent to send one email about a
// schedule.
type Notification struct {
	ID             string
	ScheduleID     string
	RecipientID    string
	Type           NotificationType
	Channel        string
	ScheduledFor   time.Time
	Status         NotificationStatus
	SentAt         *time.Time
	Error          *string
	Attempts       int
	AdditionalData map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserRole separates trainer accounts from athlete records.
type UserRole string

const (
	RoleTrainer UserRole = "trainer"
	RoleAthlete UserRole = "athlete"
)

// User is a trainer or athlete account.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        UserRole
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserInput captures caller provided account fields. Password is only
// meaningful for trainer accounts.
type UserInput struct {
	Email       string
	DisplayName string
	Role        UserRole
	Password    string
}

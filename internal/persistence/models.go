package persistence

import "time"

// User represents a trainer or athlete account row.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	Role         string
	PasswordHash *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Schedule represents one trainer-athlete session row.
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
	Type             string
	Status           string
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
	RecurringPattern *string
	ParentScheduleID *string
	OccurrenceNumber int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Notification represents one scheduled outbound message row.
type Notification struct {
	ID             string
	ScheduleID     string
	RecipientID    string
	Type           string
	Channel        string
	ScheduledFor   time.Time
	Status         string
	SentAt         *time.Time
	Error          *string
	Attempts       int
	AdditionalData *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Attendance tracks presence marking for one athlete on one schedule.
type Attendance struct {
	ScheduleID string
	AthleteID  string
	Status     string
	MarkedAt   time.Time
}

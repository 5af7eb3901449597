// Package testfixtures supplies deterministic clocks, id generators and
// record builders shared by the service and persistence tests.
package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/trainer-scheduler/internal/persistence"
)

var (
	userCounter         uint64
	scheduleCounter     uint64
	notificationCounter uint64
)

var referenceTime = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// UserOption configures a generated user row.
type UserOption func(*persistence.User)

// WithRole overrides the fixture role.
func WithRole(role string) UserOption {
	return func(u *persistence.User) { u.Role = role }
}

// WithEmail overrides the fixture email.
func WithEmail(email string) UserOption {
	return func(u *persistence.User) { u.Email = email }
}

// NewUser returns a deterministic athlete row with optional overrides.
func NewUser(opts ...UserOption) persistence.User {
	idx := atomic.AddUint64(&userCounter, 1)
	user := persistence.User{
		ID:          fmt.Sprintf("user-%03d", idx),
		Email:       fmt.Sprintf("user-%03d@example.com", idx),
		DisplayName: fmt.Sprintf("User %03d", idx),
		Role:        "athlete",
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&user)
	}
	return user
}

// ScheduleOption configures a generated schedule row.
type ScheduleOption func(*persistence.Schedule)

// WithSlot overrides the fixture date and time window.
func WithSlot(date time.Time, start, end string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.Date = date
		s.StartTime = start
		s.EndTime = end
	}
}

// WithParticipants overrides the fixture trainer and athlete.
func WithParticipants(trainerID, athleteID string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.TrainerID = trainerID
		s.AthleteID = athleteID
	}
}

// WithStatus overrides the fixture status.
func WithStatus(status string) ScheduleOption {
	return func(s *persistence.Schedule) { s.Status = status }
}

// NewSchedule returns a deterministic scheduled session row with optional
// overrides.
func NewSchedule(opts ...ScheduleOption) persistence.Schedule {
	idx := atomic.AddUint64(&scheduleCounter, 1)
	schedule := persistence.Schedule{
		ID:              fmt.Sprintf("sched-%03d", idx),
		TrainerID:       "trainer-001",
		AthleteID:       "athlete-001",
		Title:           fmt.Sprintf("Session %03d", idx),
		Date:            referenceTime.Truncate(24 * time.Hour),
		StartTime:       "10:00",
		EndTime:         "11:00",
		DurationMinutes: 60,
		Type:            "training",
		Status:          "scheduled",
		ReminderMinutes: 30,
		CreatedAt:       referenceTime,
		UpdatedAt:       referenceTime,
	}
	for _, opt := range opts {
		opt(&schedule)
	}
	return schedule
}

// NotificationOption configures a generated notification row.
type NotificationOption func(*persistence.Notification)

// WithDue overrides when the fixture notification becomes due.
func WithDue(at time.Time) NotificationOption {
	return func(n *persistence.Notification) { n.ScheduledFor = at }
}

// WithNotificationStatus overrides the fixture dispatch status.
func WithNotificationStatus(status string) NotificationOption {
	return func(n *persistence.Notification) { n.Status = status }
}

// NewNotification returns a deterministic pending reminder row tied to the
// given schedule and recipient.
func NewNotification(scheduleID, recipientID string, opts ...NotificationOption) persistence.Notification {
	idx := atomic.AddUint64(&notificationCounter, 1)
	notification := persistence.Notification{
		ID:           fmt.Sprintf("note-%03d", idx),
		ScheduleID:   scheduleID,
		RecipientID:  recipientID,
		Type:         "reminder",
		Channel:      "email",
		ScheduledFor: referenceTime.Add(time.Hour),
		Status:       "pending",
		CreatedAt:    referenceTime,
		UpdatedAt:    referenceTime,
	}
	for _, opt := range opts {
		opt(&notification)
	}
	return notification
}

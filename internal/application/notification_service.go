package application

import (
	"context"
	"log/slog"
	"time"
)

// NotificationRepository captures the persistence interactions needed by the
// notification scheduler.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification Notification) error
	GetNotification(ctx context.Context, id string) (Notification, error)
	ListForSchedule(ctx context.Context, scheduleID string) ([]Notification, error)
	CancelPendingForSchedule(ctx context.Context, scheduleID string, now time.Time) (int, error)
}

// ScheduleReader is the read-only slice of the schedule repository the
// notification scheduler needs.
type ScheduleReader interface {
	GetSchedule(ctx context.Context, id string) (Schedule, error)
}

// Deliverer attempts an immediate dispatch of a single notification. Used for
// cancellation and reschedule notices that should reach the recipient without
// waiting for the next polling tick.
type Deliverer interface {
	Deliver(ctx context.Context, notificationID string) error
}

// confirmationLeadTime is how far ahead of a session the confirmation request
// goes out.
const confirmationLeadTime = 24 * time.Hour

// NotificationService computes and persists future-dated notification rows
// tied to a schedule's date and time.
type NotificationService struct {
	notifications NotificationRepository
	schedules     ScheduleReader
	deliverer     Deliverer
	idGenerator   func() string
	now           func() time.Time
	location      *time.Location
	logger        *slog.Logger
}

// NotificationServiceConfig wires dependencies for the notification service.
type NotificationServiceConfig struct {
	Notifications NotificationRepository
	Schedules     ScheduleReader
	Deliverer     Deliverer
	IDGenerator   func() string
	Now           func() time.Time
	Location      *time.Location
	Logger        *slog.Logger
}

// NewNotificationService constructs a notification service.
func NewNotificationService(cfg NotificationServiceConfig) *NotificationService {
	idGenerator := cfg.IDGenerator
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	return &NotificationService{
		notifications: cfg.Notifications,
		schedules:     cfg.Schedules,
		deliverer:     cfg.Deliverer,
		idGenerator:   idGenerator,
		now:           now,
		location:      location,
		logger:        defaultLogger(cfg.Logger),
	}
}

// SetDeliverer attaches the immediate dispatch path after construction. The
// dispatcher depends on the stores, so it is wired second.
func (s *NotificationService) SetDeliverer(deliverer Deliverer) {
	s.deliverer = deliverer
}

// CreateScheduleNotifications computes the reminder and confirmation-request
// times for a schedule and inserts one pending row per candidate that is
// still in the future. Past-due candidates are skipped, never clamped to now:
// a reminder for a session that already started helps nobody.
func (s *NotificationService) CreateScheduleNotifications(ctx context.Context, scheduleID string) (int, error) {
	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return 0, mapRepoError(err)
	}
	if !schedule.Status.Sendable() {
		return 0, nil
	}

	now := s.now()
	startsAt := schedule.StartsAt(s.location)

	type candidate struct {
		kind NotificationType
		at   time.Time
	}
	var candidates []candidate
	if schedule.ReminderMinutes > 0 {
		candidates = append(candidates, candidate{
			kind: NotificationReminder,
			at:   startsAt.Add(-time.Duration(schedule.ReminderMinutes) * time.Minute),
		})
	}
	candidates = append(candidates, candidate{
		kind: NotificationConfirmationRequest,
		at:   startsAt.Add(-confirmationLeadTime),
	})

	count := 0
	for _, c := range candidates {
		if !c.at.After(now) {
			continue
		}
		notification := Notification{
			ID:           s.idGenerator(),
			ScheduleID:   schedule.ID,
			RecipientID:  schedule.AthleteID,
			Type:         c.kind,
			Channel:      ChannelEmail,
			ScheduledFor: c.at,
			Status:       NotificationPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.notifications.CreateNotification(ctx, notification); err != nil {
			return count, mapRepoError(err)
		}
		count++
	}
	return count, nil
}

// CancelForSchedule cancels every pending notification owned by a schedule.
func (s *NotificationService) CancelForSchedule(ctx context.Context, scheduleID string) (int, error) {
	count, err := s.notifications.CancelPendingForSchedule(ctx, scheduleID, s.now())
	if err != nil {
		return 0, mapRepoError(err)
	}
	return count, nil
}

// CreateCancellationNotice inserts a due-now cancellation notification and
// attempts an immediate delivery so the recipient is not left waiting for the
// next polling tick. On delivery failure the row stays pending and the
// dispatcher retries it.
func (s *NotificationService) CreateCancellationNotice(ctx context.Context, schedule Schedule, reason string) error {
	data := map[string]string{"reason": reason}
	return s.createImmediate(ctx, schedule, NotificationCancellation, data)
}

// CreateRescheduleNotice inserts a due-now reschedule notification carrying
// the superseded slot.
func (s *NotificationService) CreateRescheduleNotice(ctx context.Context, schedule, previous Schedule) error {
	data := map[string]string{
		"previous_date":       previous.Date.Format("2006-01-02"),
		"previous_start_time": previous.StartTime,
		"previous_end_time":   previous.EndTime,
	}
	return s.createImmediate(ctx, schedule, NotificationReschedule, data)
}

func (s *NotificationService) createImmediate(ctx context.Context, schedule Schedule, kind NotificationType, data map[string]string) error {
	now := s.now()
	notification := Notification{
		ID:             s.idGenerator(),
		ScheduleID:     schedule.ID,
		RecipientID:    schedule.AthleteID,
		Type:           kind,
		Channel:        ChannelEmail,
		ScheduledFor:   now,
		Status:         NotificationPending,
		AdditionalData: data,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.notifications.CreateNotification(ctx, notification); err != nil {
		return mapRepoError(err)
	}

	if s.deliverer != nil {
		if err := s.deliverer.Deliver(ctx, notification.ID); err != nil {
			// The polling loop picks the row up again; log and move on.
			logger := serviceLogger(ctx, s.logger, "notifications", "deliver_immediate", "notification_id", notification.ID)
			logger.WarnContext(ctx, "immediate delivery failed, left for polling dispatch", "error", err)
		}
	}
	return nil
}

// ListForSchedule returns the notification history of one schedule.
func (s *NotificationService) ListForSchedule(ctx context.Context, scheduleID string) ([]Notification, error) {
	notifications, err := s.notifications.ListForSchedule(ctx, scheduleID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return notifications, nil
}

package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/trainer-scheduler/internal/testfixtures"
)

type stubNotificationRepo struct {
	notifications []Notification
	cancelled     []string
}

func (r *stubNotificationRepo) CreateNotification(ctx context.Context, notification Notification) error {
	r.notifications = append(r.notifications, notification)
	return nil
}

func (r *stubNotificationRepo) GetNotification(ctx context.Context, id string) (Notification, error) {
	for _, notification := range r.notifications {
		if notification.ID == id {
			return notification, nil
		}
	}
	return Notification{}, ErrNotFound
}

func (r *stubNotificationRepo) ListForSchedule(ctx context.Context, scheduleID string) ([]Notification, error) {
	var out []Notification
	for _, notification := range r.notifications {
		if notification.ScheduleID == scheduleID {
			out = append(out, notification)
		}
	}
	return out, nil
}

func (r *stubNotificationRepo) CancelPendingForSchedule(ctx context.Context, scheduleID string, now time.Time) (int, error) {
	r.cancelled = append(r.cancelled, scheduleID)
	return 2, nil
}

type stubScheduleReader struct {
	schedules map[string]Schedule
}

func (r *stubScheduleReader) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	schedule, ok := r.schedules[id]
	if !ok {
		return Schedule{}, ErrNotFound
	}
	return schedule, nil
}

type stubDeliverer struct {
	delivered []string
	err       error
}

func (d *stubDeliverer) Deliver(ctx context.Context, notificationID string) error {
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, notificationID)
	return nil
}

func notificationTestSchedule(date time.Time, start string, reminderMinutes int) Schedule {
	return Schedule{
		ID:              "sched-1",
		TrainerID:       "trainer-1",
		AthleteID:       "athlete-1",
		Title:           "Strength session",
		Date:            date,
		StartTime:       start,
		EndTime:         "23:59",
		Status:          StatusScheduled,
		ReminderMinutes: reminderMinutes,
	}
}

func newNotificationService(repo *stubNotificationRepo, reader *stubScheduleReader, deliverer Deliverer, clock *testfixtures.Clock) *NotificationService {
	return NewNotificationService(NotificationServiceConfig{
		Notifications: repo,
		Schedules:     reader,
		Deliverer:     deliverer,
		IDGenerator:   testfixtures.NewIDGenerator("note").NextFunc(),
		Now:           clock.NowFunc(),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestNotificationService_CreateScheduleNotifications(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("plans a reminder and a confirmation request", func(t *testing.T) {
		repo := &stubNotificationRepo{}
		schedule := notificationTestSchedule(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), "14:00", 30)
		reader := &stubScheduleReader{schedules: map[string]Schedule{"sched-1": schedule}}
		service := newNotificationService(repo, reader, nil, testfixtures.NewClock(now))

		count, err := service.CreateScheduleNotifications(context.Background(), "sched-1")
		if err != nil {
			t.Fatalf("CreateScheduleNotifications failed: %v", err)
		}
		if count != 2 {
			t.Fatalf("planned %d notifications, want 2", count)
		}

		startsAt := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
		byType := map[NotificationType]Notification{}
		for _, notification := range repo.notifications {
			byType[notification.Type] = notification
		}

		reminder, ok := byType[NotificationReminder]
		if !ok || !reminder.ScheduledFor.Equal(startsAt.Add(-30*time.Minute)) {
			t.Errorf("reminder scheduled for %v, want 13:30", reminder.ScheduledFor)
		}
		confirmation, ok := byType[NotificationConfirmationRequest]
		if !ok || !confirmation.ScheduledFor.Equal(startsAt.Add(-24*time.Hour)) {
			t.Errorf("confirmation scheduled for %v, want 24h before start", confirmation.ScheduledFor)
		}
		for _, notification := range repo.notifications {
			if notification.Status != NotificationPending || notification.RecipientID != "athlete-1" {
				t.Errorf("unexpected notification %+v", notification)
			}
		}
	})

	t.Run("skips candidates already in the past", func(t *testing.T) {
		repo := &stubNotificationRepo{}
		// The session starts in two hours, so the confirmation request slot
		// has already passed while the reminder is still ahead.
		schedule := notificationTestSchedule(now.Truncate(24*time.Hour), "11:00", 30)
		reader := &stubScheduleReader{schedules: map[string]Schedule{"sched-1": schedule}}
		service := newNotificationService(repo, reader, nil, testfixtures.NewClock(now))

		count, err := service.CreateScheduleNotifications(context.Background(), "sched-1")
		if err != nil {
			t.Fatalf("CreateScheduleNotifications failed: %v", err)
		}
		if count != 1 {
			t.Fatalf("planned %d notifications, want only the reminder", count)
		}
		if repo.notifications[0].Type != NotificationReminder {
			t.Fatalf("unexpected notification %+v", repo.notifications[0])
		}
	})

	t.Run("plans nothing for inactive schedules", func(t *testing.T) {
		repo := &stubNotificationRepo{}
		schedule := notificationTestSchedule(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), "14:00", 30)
		schedule.Status = StatusCancelled
		reader := &stubScheduleReader{schedules: map[string]Schedule{"sched-1": schedule}}
		service := newNotificationService(repo, reader, nil, testfixtures.NewClock(now))

		count, err := service.CreateScheduleNotifications(context.Background(), "sched-1")
		if err != nil {
			t.Fatalf("CreateScheduleNotifications failed: %v", err)
		}
		if count != 0 || len(repo.notifications) != 0 {
			t.Fatalf("expected no notifications, got %+v", repo.notifications)
		}
	})

	t.Run("omits the reminder when reminders are disabled", func(t *testing.T) {
		repo := &stubNotificationRepo{}
		schedule := notificationTestSchedule(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), "14:00", 0)
		reader := &stubScheduleReader{schedules: map[string]Schedule{"sched-1": schedule}}
		service := newNotificationService(repo, reader, nil, testfixtures.NewClock(now))

		count, err := service.CreateScheduleNotifications(context.Background(), "sched-1")
		if err != nil {
			t.Fatalf("CreateScheduleNotifications failed: %v", err)
		}
		if count != 1 || repo.notifications[0].Type != NotificationConfirmationRequest {
			t.Fatalf("expected only the confirmation request, got %+v", repo.notifications)
		}
	})
}

func TestNotificationService_ImmediateNotices(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	schedule := notificationTestSchedule(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), "14:00", 30)

	t.Run("cancellation notice is due immediately and delivered inline", func(t *testing.T) {
		repo := &stubNotificationRepo{}
		deliverer := &stubDeliverer{}
		service := newNotificationService(repo, &stubScheduleReader{}, deliverer, testfixtures.NewClock(now))

		if err := service.CreateCancellationNotice(context.Background(), schedule, "trainer unavailable"); err != nil {
			t.Fatalf("CreateCancellationNotice failed: %v", err)
		}

		if len(repo.notifications) != 1 {
			t.Fatalf("expected one notification, got %d", len(repo.notifications))
		}
		notice := repo.notifications[0]
		if notice.Type != NotificationCancellation || !notice.ScheduledFor.Equal(now) {
			t.Errorf("unexpected notice %+v", notice)
		}
		if notice.AdditionalData["reason"] != "trainer unavailable" {
			t.Errorf("reason not carried: %v", notice.AdditionalData)
		}
		if len(deliverer.delivered) != 1 || deliverer.delivered[0] != notice.ID {
			t.Errorf("inline delivery not attempted: %v", deliverer.delivered)
		}
	})

	t.Run("a failed inline delivery leaves the row for polling", func(t *testing.T) {
		repo := &stubNotificationRepo{}
		deliverer := &stubDeliverer{err: errors.New("gateway down")}
		service := newNotificationService(repo, &stubScheduleReader{}, deliverer, testfixtures.NewClock(now))

		if err := service.CreateCancellationNotice(context.Background(), schedule, "sick"); err != nil {
			t.Fatalf("CreateCancellationNotice must swallow delivery errors, got %v", err)
		}
		if len(repo.notifications) != 1 || repo.notifications[0].Status != NotificationPending {
			t.Fatalf("row must stay pending, got %+v", repo.notifications)
		}
	})

	t.Run("reschedule notice carries the superseded slot", func(t *testing.T) {
		repo := &stubNotificationRepo{}
		service := newNotificationService(repo, &stubScheduleReader{}, nil, testfixtures.NewClock(now))

		previous := schedule
		previous.Date = time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
		previous.StartTime = "10:00"
		previous.EndTime = "11:00"

		if err := service.CreateRescheduleNotice(context.Background(), schedule, previous); err != nil {
			t.Fatalf("CreateRescheduleNotice failed: %v", err)
		}

		data := repo.notifications[0].AdditionalData
		if data["previous_date"] != "2025-03-08" || data["previous_start_time"] != "10:00" || data["previous_end_time"] != "11:00" {
			t.Fatalf("superseded slot not carried: %v", data)
		}
	})
}

func TestNotificationService_CancelForSchedule(t *testing.T) {
	repo := &stubNotificationRepo{}
	service := newNotificationService(repo, &stubScheduleReader{}, nil, testfixtures.NewClock(time.Time{}))

	count, err := service.CancelForSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatalf("CancelForSchedule failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if len(repo.cancelled) != 1 || repo.cancelled[0] != "sched-1" {
		t.Fatalf("unexpected cancellations %v", repo.cancelled)
	}
}

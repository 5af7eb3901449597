package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/trainer-scheduler/internal/application"
	"github.com/example/trainer-scheduler/internal/persistence"
	"github.com/example/trainer-scheduler/internal/persistence/sqlite"
	"github.com/example/trainer-scheduler/internal/recurrence"
)

// The services speak application types while the repositories speak row
// structs. The adapters below translate between the two, including the JSON
// encoding of recurrence rules and notification payloads.
//
// Lookup misses are mapped to application.ErrNotFound here because the
// dispatch worker consumes these adapters directly, without a service layer
// in between.
func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return application.ErrNotFound
	}
	return err
}

type scheduleRepositoryAdapter struct {
	repo *sqlite.ScheduleRepository
}

func newScheduleRepositoryAdapter(repo *sqlite.ScheduleRepository) *scheduleRepositoryAdapter {
	return &scheduleRepositoryAdapter{repo: repo}
}

func (a *scheduleRepositoryAdapter) CreateSchedule(ctx context.Context, schedule application.Schedule) error {
	row, err := toScheduleRow(schedule)
	if err != nil {
		return err
	}
	return a.repo.CreateSchedule(ctx, row)
}

func (a *scheduleRepositoryAdapter) CreateSchedules(ctx context.Context, schedules []application.Schedule) error {
	rows := make([]persistence.Schedule, 0, len(schedules))
	for _, schedule := range schedules {
		row, err := toScheduleRow(schedule)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return a.repo.CreateSchedules(ctx, rows)
}

func (a *scheduleRepositoryAdapter) UpdateSchedule(ctx context.Context, schedule application.Schedule) error {
	row, err := toScheduleRow(schedule)
	if err != nil {
		return err
	}
	return a.repo.UpdateSchedule(ctx, row)
}

func (a *scheduleRepositoryAdapter) GetSchedule(ctx context.Context, id string) (application.Schedule, error) {
	row, err := a.repo.GetSchedule(ctx, id)
	if err != nil {
		return application.Schedule{}, mapNotFound(err)
	}
	return toApplicationSchedule(row)
}

func (a *scheduleRepositoryAdapter) ListSchedules(ctx context.Context, filter application.ScheduleRepositoryFilter) ([]application.Schedule, error) {
	excludeStatus := ""
	if filter.ExcludeCancelled {
		excludeStatus = string(application.StatusCancelled)
	}
	rows, err := a.repo.ListSchedules(ctx, persistence.ScheduleFilter{
		TrainerID:     filter.TrainerID,
		AthleteID:     filter.AthleteID,
		Date:          filter.Date,
		StartsAfter:   filter.StartsAfter,
		EndsBefore:    filter.EndsBefore,
		ExcludeStatus: excludeStatus,
	})
	if err != nil {
		return nil, err
	}
	schedules := make([]application.Schedule, 0, len(rows))
	for _, row := range rows {
		schedule, err := toApplicationSchedule(row)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

func (a *scheduleRepositoryAdapter) DeleteSchedule(ctx context.Context, id string) error {
	return a.repo.DeleteSchedule(ctx, id)
}

func toScheduleRow(schedule application.Schedule) (persistence.Schedule, error) {
	row := persistence.Schedule{
		ID:               schedule.ID,
		TrainerID:        schedule.TrainerID,
		AthleteID:        schedule.AthleteID,
		Title:            schedule.Title,
		Description:      schedule.Description,
		Date:             schedule.Date,
		StartTime:        schedule.StartTime,
		EndTime:          schedule.EndTime,
		DurationMinutes:  schedule.DurationMinutes,
		Type:             string(schedule.Type),
		Status:           string(schedule.Status),
		Location:         schedule.Location,
		IsOnline:         schedule.IsOnline,
		MeetingLink:      schedule.MeetingLink,
		ReminderMinutes:  schedule.ReminderMinutes,
		Color:            schedule.Color,
		Notes:            schedule.Notes,
		AthleteConfirmed: schedule.AthleteConfirmed,
		CancelledReason:  schedule.CancelledReason,
		CancelledBy:      schedule.CancelledBy,
		CancelledAt:      schedule.CancelledAt,
		IsRecurring:      schedule.IsRecurring,
		ParentScheduleID: schedule.ParentScheduleID,
		OccurrenceNumber: schedule.OccurrenceNumber,
		CreatedAt:        schedule.CreatedAt,
		UpdatedAt:        schedule.UpdatedAt,
	}
	if schedule.RecurringPattern != nil {
		encoded, err := json.Marshal(schedule.RecurringPattern)
		if err != nil {
			return persistence.Schedule{}, fmt.Errorf("encode recurrence rule: %w", err)
		}
		pattern := string(encoded)
		row.RecurringPattern = &pattern
	}
	return row, nil
}

func toApplicationSchedule(row persistence.Schedule) (application.Schedule, error) {
	schedule := application.Schedule{
		ID:               row.ID,
		TrainerID:        row.TrainerID,
		AthleteID:        row.AthleteID,
		Title:            row.Title,
		Description:      row.Description,
		Date:             row.Date,
		StartTime:        row.StartTime,
		EndTime:          row.EndTime,
		DurationMinutes:  row.DurationMinutes,
		Type:             application.ScheduleType(row.Type),
		Status:           application.ScheduleStatus(row.Status),
		Location:         row.Location,
		IsOnline:         row.IsOnline,
		MeetingLink:      row.MeetingLink,
		ReminderMinutes:  row.ReminderMinutes,
		Color:            row.Color,
		Notes:            row.Notes,
		AthleteConfirmed: row.AthleteConfirmed,
		CancelledReason:  row.CancelledReason,
		CancelledBy:      row.CancelledBy,
		CancelledAt:      row.CancelledAt,
		IsRecurring:      row.IsRecurring,
		ParentScheduleID: row.ParentScheduleID,
		OccurrenceNumber: row.OccurrenceNumber,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.RecurringPattern != nil {
		var rule recurrence.Rule
		if err := json.Unmarshal([]byte(*row.RecurringPattern), &rule); err != nil {
			return application.Schedule{}, fmt.Errorf("decode recurrence rule for schedule %s: %w", row.ID, err)
		}
		schedule.RecurringPattern = &rule
	}
	return schedule, nil
}

type userRepositoryAdapter struct {
	repo *sqlite.UserRepository
}

func newUserRepositoryAdapter(repo *sqlite.UserRepository) *userRepositoryAdapter {
	return &userRepositoryAdapter{repo: repo}
}

func (a *userRepositoryAdapter) CreateUser(ctx context.Context, user application.User, passwordHash *string) error {
	return a.repo.CreateUser(ctx, toUserRow(user, passwordHash))
}

func (a *userRepositoryAdapter) UpdateUser(ctx context.Context, user application.User, passwordHash *string) error {
	if passwordHash == nil {
		current, err := a.repo.GetUser(ctx, user.ID)
		if err != nil {
			return err
		}
		passwordHash = current.PasswordHash
	}
	return a.repo.UpdateUser(ctx, toUserRow(user, passwordHash))
}

func (a *userRepositoryAdapter) GetUser(ctx context.Context, id string) (application.User, error) {
	row, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return application.User{}, mapNotFound(err)
	}
	return toApplicationUser(row), nil
}

func (a *userRepositoryAdapter) GetUserByEmail(ctx context.Context, email string) (application.User, error) {
	row, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return application.User{}, mapNotFound(err)
	}
	return toApplicationUser(row), nil
}

func (a *userRepositoryAdapter) ListUsers(ctx context.Context, role application.UserRole) ([]application.User, error) {
	rows, err := a.repo.ListUsers(ctx, string(role))
	if err != nil {
		return nil, err
	}
	users := make([]application.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, toApplicationUser(row))
	}
	return users, nil
}

func (a *userRepositoryAdapter) DeleteUser(ctx context.Context, id string) error {
	return a.repo.DeleteUser(ctx, id)
}

func toUserRow(user application.User, passwordHash *string) persistence.User {
	return persistence.User{
		ID:           user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         string(user.Role),
		PasswordHash: passwordHash,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
}

func toApplicationUser(row persistence.User) application.User {
	return application.User{
		ID:          row.ID,
		Email:       row.Email,
		DisplayName: row.DisplayName,
		Role:        application.UserRole(row.Role),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

type attendanceRepositoryAdapter struct {
	repo *sqlite.AttendanceRepository
}

func newAttendanceRepositoryAdapter(repo *sqlite.AttendanceRepository) *attendanceRepositoryAdapter {
	return &attendanceRepositoryAdapter{repo: repo}
}

func (a *attendanceRepositoryAdapter) UpsertAttendance(ctx context.Context, attendance application.Attendance) error {
	return a.repo.UpsertAttendance(ctx, persistence.Attendance{
		ScheduleID: attendance.ScheduleID,
		AthleteID:  attendance.AthleteID,
		Status:     string(attendance.Status),
		MarkedAt:   attendance.MarkedAt,
	})
}

func (a *attendanceRepositoryAdapter) ListForSchedule(ctx context.Context, scheduleID string) ([]application.Attendance, error) {
	rows, err := a.repo.ListForSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	marks := make([]application.Attendance, 0, len(rows))
	for _, row := range rows {
		marks = append(marks, application.Attendance{
			ScheduleID: row.ScheduleID,
			AthleteID:  row.AthleteID,
			Status:     application.AttendanceStatus(row.Status),
			MarkedAt:   row.MarkedAt,
		})
	}
	return marks, nil
}

type notificationRepositoryAdapter struct {
	repo *sqlite.NotificationRepository
}

func newNotificationRepositoryAdapter(repo *sqlite.NotificationRepository) *notificationRepositoryAdapter {
	return &notificationRepositoryAdapter{repo: repo}
}

func (a *notificationRepositoryAdapter) CreateNotification(ctx context.Context, notification application.Notification) error {
	row, err := toNotificationRow(notification)
	if err != nil {
		return err
	}
	return a.repo.CreateNotification(ctx, row)
}

func (a *notificationRepositoryAdapter) GetNotification(ctx context.Context, id string) (application.Notification, error) {
	row, err := a.repo.GetNotification(ctx, id)
	if err != nil {
		return application.Notification{}, mapNotFound(err)
	}
	return toApplicationNotification(row)
}

func (a *notificationRepositoryAdapter) ListForSchedule(ctx context.Context, scheduleID string) ([]application.Notification, error) {
	rows, err := a.repo.ListForSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return toApplicationNotifications(rows)
}

func (a *notificationRepositoryAdapter) ClaimDue(ctx context.Context, now time.Time, limit int) ([]application.Notification, error) {
	rows, err := a.repo.ClaimDue(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	return toApplicationNotifications(rows)
}

func (a *notificationRepositoryAdapter) Claim(ctx context.Context, id string) (application.Notification, error) {
	row, err := a.repo.Claim(ctx, id)
	if err != nil {
		return application.Notification{}, mapNotFound(err)
	}
	return toApplicationNotification(row)
}

func (a *notificationRepositoryAdapter) Release(ctx context.Context, id string) error {
	return a.repo.Release(ctx, id)
}

func (a *notificationRepositoryAdapter) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	return a.repo.ReclaimStale(ctx, cutoff)
}

func (a *notificationRepositoryAdapter) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	return a.repo.MarkSent(ctx, id, sentAt)
}

func (a *notificationRepositoryAdapter) MarkRetry(ctx context.Context, id string, nextAttempt time.Time, attempts int, reason string) error {
	return a.repo.MarkRetry(ctx, id, attempts, nextAttempt, reason)
}

func (a *notificationRepositoryAdapter) MarkFailed(ctx context.Context, id string, attempts int, reason string) error {
	return a.repo.MarkFailed(ctx, id, attempts, reason)
}

func (a *notificationRepositoryAdapter) MarkCancelled(ctx context.Context, id string) error {
	return a.repo.MarkCancelled(ctx, id)
}

func (a *notificationRepositoryAdapter) CancelPendingForSchedule(ctx context.Context, scheduleID string, now time.Time) (int, error) {
	return a.repo.CancelPendingForSchedule(ctx, scheduleID, now)
}

func toNotificationRow(notification application.Notification) (persistence.Notification, error) {
	row := persistence.Notification{
		ID:           notification.ID,
		ScheduleID:   notification.ScheduleID,
		RecipientID:  notification.RecipientID,
		Type:         string(notification.Type),
		Channel:      notification.Channel,
		ScheduledFor: notification.ScheduledFor,
		Status:       string(notification.Status),
		SentAt:       notification.SentAt,
		Error:        notification.Error,
		Attempts:     notification.Attempts,
		CreatedAt:    notification.CreatedAt,
		UpdatedAt:    notification.UpdatedAt,
	}
	if len(notification.AdditionalData) > 0 {
		encoded, err := json.Marshal(notification.AdditionalData)
		if err != nil {
			return persistence.Notification{}, fmt.Errorf("encode notification data: %w", err)
		}
		data := string(encoded)
		row.AdditionalData = &data
	}
	return row, nil
}

func toApplicationNotification(row persistence.Notification) (application.Notification, error) {
	notification := application.Notification{
		ID:           row.ID,
		ScheduleID:   row.ScheduleID,
		RecipientID:  row.RecipientID,
		Type:         application.NotificationType(row.Type),
		Channel:      row.Channel,
		ScheduledFor: row.ScheduledFor,
		Status:       application.NotificationStatus(row.Status),
		SentAt:       row.SentAt,
		Error:        row.Error,
		Attempts:     row.Attempts,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.AdditionalData != nil {
		if err := json.Unmarshal([]byte(*row.AdditionalData), &notification.AdditionalData); err != nil {
			return application.Notification{}, fmt.Errorf("decode notification data for %s: %w", row.ID, err)
		}
	}
	return notification, nil
}

func toApplicationNotifications(rows []persistence.Notification) ([]application.Notification, error) {
	notifications := make([]application.Notification, 0, len(rows))
	for _, row := range rows {
		notification, err := toApplicationNotification(row)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}
	return notifications, nil
}

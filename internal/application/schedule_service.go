package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/trainer-scheduler/internal/persistence"
	"github.com/example/trainer-scheduler/internal/recurrence"
	"github.com/example/trainer-scheduler/internal/scheduler"
)

// ScheduleRepository captures the persistence interactions needed by the service.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule Schedule) error
	CreateSchedules(ctx context.Context, schedules []Schedule) error
	UpdateSchedule(ctx context.Context, schedule Schedule) error
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	ListSchedules(ctx context.Context, filter ScheduleRepositoryFilter) ([]Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// ScheduleRepositoryFilter narrows queries issued to the schedule repository.
type ScheduleRepositoryFilter struct {
	TrainerID        string
	AthleteID        string
	Date             *time.Time
	StartsAfter      *time.Time
	EndsBefore       *time.Time
	ExcludeCancelled bool
}

// UserDirectory exposes account lookups.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// AttendanceRecorder stores presence marks.
type AttendanceRecorder interface {
	UpsertAttendance(ctx context.Context, attendance Attendance) error
	ListForSchedule(ctx context.Context, scheduleID string) ([]Attendance, error)
}

// NotificationPlanner is the slice of the notification service the schedule
// store drives. All calls are best-effort: a planner failure never rolls back
// a schedule write.
type NotificationPlanner interface {
	CreateScheduleNotifications(ctx context.Context, scheduleID string) (int, error)
	CancelForSchedule(ctx context.Context, scheduleID string) (int, error)
	CreateCancellationNotice(ctx context.Context, schedule Schedule, reason string) error
	CreateRescheduleNotice(ctx context.Context, schedule, previous Schedule) error
}

// ScheduleService orchestrates validation, conflict detection and persistence
// for session operations.
type ScheduleService struct {
	schedules   ScheduleRepository
	users       UserDirectory
	attendance  AttendanceRecorder
	notifier    NotificationPlanner
	idGenerator func() string
	now         func() time.Time
	location    *time.Location
	// failOpen lets creation proceed when the conflict detector cannot read
	// storage. Off by default; a ConflictCheckError is returned instead.
	failOpen bool
	logger   *slog.Logger
}

// ScheduleServiceConfig wires dependencies for the schedule service.
type ScheduleServiceConfig struct {
	Schedules             ScheduleRepository
	Users                 UserDirectory
	Attendance            AttendanceRecorder
	Notifier              NotificationPlanner
	IDGenerator           func() string
	Now                   func() time.Time
	Location              *time.Location
	ConflictCheckFailOpen bool
	Logger                *slog.Logger
}

// NewScheduleService constructs a schedule service.
func NewScheduleService(cfg ScheduleServiceConfig) *ScheduleService {
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
	return &ScheduleService{
		schedules:   cfg.Schedules,
		users:       cfg.Users,
		attendance:  cfg.Attendance,
		notifier:    cfg.Notifier,
		idGenerator: idGenerator,
		now:         now,
		location:    location,
		failOpen:    cfg.ConflictCheckFailOpen,
		logger:      defaultLogger(cfg.Logger),
	}
}

// CheckConflicts probes whether the proposed slot overlaps an existing
// non-cancelled schedule for the trainer. It is read-only.
func (s *ScheduleService) CheckConflicts(ctx context.Context, params ConflictCheckParams) (ConflictResult, error) {
	start, err := scheduler.ParseClock(params.StartTime)
	if err != nil {
		vErr := &ValidationError{}
		vErr.add("start_time", "must be a valid HH:MM value")
		return ConflictResult{}, vErr
	}
	end, err := scheduler.ParseClock(params.EndTime)
	if err != nil {
		vErr := &ValidationError{}
		vErr.add("end_time", "must be a valid HH:MM value")
		return ConflictResult{}, vErr
	}
	if end <= start {
		vErr := &ValidationError{}
		vErr.add("end_time", "must be after start_time")
		return ConflictResult{}, vErr
	}

	candidate := scheduler.Entry{
		TrainerID: params.TrainerID,
		Date:      normalizeDate(params.Date),
		Start:     start,
		End:       end,
	}
	return s.detectConflicts(ctx, candidate, params.ExcludeID)
}

func (s *ScheduleService) detectConflicts(ctx context.Context, candidate scheduler.Entry, excludeID string) (ConflictResult, error) {
	date := candidate.Date
	existing, err := s.schedules.ListSchedules(ctx, ScheduleRepositoryFilter{
		TrainerID:        candidate.TrainerID,
		Date:             &date,
		ExcludeCancelled: true,
	})
	if err != nil {
		return ConflictResult{}, &ConflictCheckError{Cause: mapRepoError(err)}
	}

	entries := make([]scheduler.Entry, 0, len(existing))
	byID := make(map[string]Schedule, len(existing))
	for _, schedule := range existing {
		entries = append(entries, toSchedulerEntry(schedule))
		byID[schedule.ID] = schedule
	}

	hits := scheduler.DetectConflicts(entries, candidate, excludeID)
	result := ConflictResult{HasConflict: len(hits) > 0}
	for _, hit := range hits {
		result.Conflicts = append(result.Conflicts, byID[hit.ID])
	}
	return result, nil
}

// Create validates and persists a new session. A recurring request expands
// into one parent plus N-1 occurrence rows written atomically; if any
// occurrence conflicts the whole batch is rejected before any row is written.
func (s *ScheduleService) Create(ctx context.Context, input ScheduleInput) ([]Schedule, error) {
	logger := serviceLogger(ctx, s.logger, "schedules", "create", "trainer_id", input.TrainerID)

	vErr := &ValidationError{}
	duration := validateScheduleInput(input, vErr)
	if vErr.HasErrors() {
		return nil, vErr
	}
	if err := s.ensureAccounts(ctx, input.TrainerID, input.AthleteID); err != nil {
		return nil, err
	}

	dates := []time.Time{normalizeDate(input.Date)}
	if input.Recurrence != nil {
		expanded, err := recurrence.Expand(normalizeDate(input.Date), *input.Recurrence)
		if err != nil {
			vErr.add("recurring_pattern", err.Error())
			return nil, vErr
		}
		dates = expanded
	}

	createdAt := s.now()
	schedules := make([]Schedule, 0, len(dates))
	var parentID string
	for i, date := range dates {
		schedule := s.buildSchedule(input, date, duration, createdAt)
		if input.Recurrence != nil {
			schedule.OccurrenceNumber = i + 1
			if i == 0 {
				schedule.IsRecurring = true
				schedule.RecurringPattern = input.Recurrence
				parentID = schedule.ID
			} else {
				pid := parentID
				schedule.ParentScheduleID = &pid
			}
		}
		schedules = append(schedules, schedule)
	}

	// All-or-nothing conflict policy for the batch.
	var conflicts []Schedule
	for _, schedule := range schedules {
		result, err := s.detectConflicts(ctx, toSchedulerEntry(schedule), "")
		if err != nil {
			var checkErr *ConflictCheckError
			if errors.As(err, &checkErr) && s.failOpen {
				logger.WarnContext(ctx, "conflict check unavailable, proceeding fail-open", "error", checkErr.Cause)
				continue
			}
			return nil, err
		}
		conflicts = append(conflicts, result.Conflicts...)
	}
	if len(conflicts) > 0 {
		return nil, &ConflictError{Conflicts: conflicts}
	}

	var err error
	if len(schedules) == 1 {
		err = s.schedules.CreateSchedule(ctx, schedules[0])
	} else {
		err = s.schedules.CreateSchedules(ctx, schedules)
	}
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.planNotifications(ctx, logger, schedules)

	logger.InfoContext(ctx, "schedule created", "schedule_id", schedules[0].ID, "occurrences", len(schedules))
	return schedules, nil
}

func (s *ScheduleService) buildSchedule(input ScheduleInput, date time.Time, duration int, createdAt time.Time) Schedule {
	scheduleType := input.Type
	if scheduleType == "" {
		scheduleType = TypeTraining
	}
	return Schedule{
		ID:              s.idGenerator(),
		TrainerID:       input.TrainerID,
		AthleteID:       input.AthleteID,
		Title:           strings.TrimSpace(input.Title),
		Description:     input.Description,
		Date:            date,
		StartTime:       input.StartTime,
		EndTime:         input.EndTime,
		DurationMinutes: duration,
		Type:            scheduleType,
		Status:          StatusScheduled,
		Location:        input.Location,
		IsOnline:        input.IsOnline,
		MeetingLink:     input.MeetingLink,
		ReminderMinutes: input.ReminderMinutes,
		Color:           input.Color,
		Notes:           input.Notes,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func (s *ScheduleService) planNotifications(ctx context.Context, logger *slog.Logger, schedules []Schedule) {
	if s.notifier == nil {
		return
	}
	for _, schedule := range schedules {
		if _, err := s.notifier.CreateScheduleNotifications(ctx, schedule.ID); err != nil {
			// Notification planning is best-effort; the schedule write stands.
			logger.ErrorContext(ctx, "failed to plan notifications", "schedule_id", schedule.ID, "error", err)
		}
	}
}

// Update applies changes to an existing session, re-running conflict
// detection (excluding the row itself) whenever the slot moves.
func (s *ScheduleService) Update(ctx context.Context, scheduleID string, input ScheduleInput) (Schedule, error) {
	logger := serviceLogger(ctx, s.logger, "schedules", "update", "schedule_id", scheduleID)

	existing, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return Schedule{}, mapRepoError(err)
	}
	if existing.Status == StatusCancelled {
		vErr := &ValidationError{}
		vErr.add("status", "cancelled schedules cannot be updated")
		return Schedule{}, vErr
	}

	if input.TrainerID == "" {
		input.TrainerID = existing.TrainerID
	}
	if input.AthleteID == "" {
		input.AthleteID = existing.AthleteID
	}

	vErr := &ValidationError{}
	duration := validateScheduleInput(input, vErr)
	if vErr.HasErrors() {
		return Schedule{}, vErr
	}
	if input.TrainerID != existing.TrainerID {
		vErr.add("trainer_id", "trainer cannot be changed")
		return Schedule{}, vErr
	}
	if err := s.ensureAccounts(ctx, input.TrainerID, input.AthleteID); err != nil {
		return Schedule{}, err
	}

	newDate := normalizeDate(input.Date)
	slotMoved := !scheduler.SameDate(existing.Date, newDate) ||
		existing.StartTime != input.StartTime ||
		existing.EndTime != input.EndTime

	updated := existing
	updated.AthleteID = input.AthleteID
	updated.Title = strings.TrimSpace(input.Title)
	updated.Description = input.Description
	updated.Date = newDate
	updated.StartTime = input.StartTime
	updated.EndTime = input.EndTime
	updated.DurationMinutes = duration
	if input.Type != "" {
		updated.Type = input.Type
	}
	updated.Location = input.Location
	updated.IsOnline = input.IsOnline
	updated.MeetingLink = input.MeetingLink
	updated.ReminderMinutes = input.ReminderMinutes
	updated.Color = input.Color
	updated.Notes = input.Notes
	updated.UpdatedAt = s.now()

	if slotMoved {
		result, err := s.detectConflicts(ctx, toSchedulerEntry(updated), updated.ID)
		if err != nil {
			var checkErr *ConflictCheckError
			if !errors.As(err, &checkErr) || !s.failOpen {
				return Schedule{}, err
			}
			logger.WarnContext(ctx, "conflict check unavailable, proceeding fail-open", "error", err)
		} else if result.HasConflict {
			return Schedule{}, &ConflictError{Conflicts: result.Conflicts}
		}
	}

	if err := s.schedules.UpdateSchedule(ctx, updated); err != nil {
		return Schedule{}, mapRepoError(err)
	}

	if slotMoved && s.notifier != nil {
		if _, err := s.notifier.CancelForSchedule(ctx, updated.ID); err != nil {
			logger.ErrorContext(ctx, "failed to cancel stale notifications", "error", err)
		}
		if _, err := s.notifier.CreateScheduleNotifications(ctx, updated.ID); err != nil {
			logger.ErrorContext(ctx, "failed to plan notifications", "error", err)
		}
		if err := s.notifier.CreateRescheduleNotice(ctx, updated, existing); err != nil {
			logger.ErrorContext(ctx, "failed to create reschedule notice", "error", err)
		}
	}

	logger.InfoContext(ctx, "schedule updated", "slot_moved", slotMoved)
	return updated, nil
}

// Cancel marks a session cancelled, cascades to its pending notifications and
// queues an immediate cancellation notice. Cancellation is terminal.
func (s *ScheduleService) Cancel(ctx context.Context, params CancelScheduleParams) (Schedule, error) {
	logger := serviceLogger(ctx, s.logger, "schedules", "cancel", "schedule_id", params.ScheduleID)

	existing, err := s.schedules.GetSchedule(ctx, params.ScheduleID)
	if err != nil {
		return Schedule{}, mapRepoError(err)
	}
	if existing.Status == StatusCancelled {
		return existing, nil
	}

	now := s.now()
	cancelled := existing
	cancelled.Status = StatusCancelled
	reason := params.Reason
	cancelled.CancelledReason = &reason
	cancelledBy := params.CancelledBy
	cancelled.CancelledBy = &cancelledBy
	cancelled.CancelledAt = &now
	cancelled.UpdatedAt = now

	if err := s.schedules.UpdateSchedule(ctx, cancelled); err != nil {
		return Schedule{}, mapRepoError(err)
	}

	if s.notifier != nil {
		if _, err := s.notifier.CancelForSchedule(ctx, cancelled.ID); err != nil {
			logger.ErrorContext(ctx, "failed to cancel pending notifications", "error", err)
		}
		if err := s.notifier.CreateCancellationNotice(ctx, cancelled, params.Reason); err != nil {
			logger.ErrorContext(ctx, "failed to create cancellation notice", "error", err)
		}
	}

	logger.InfoContext(ctx, "schedule cancelled", "reason", params.Reason)
	return cancelled, nil
}

// Confirm records the athlete's confirmation for a session.
func (s *ScheduleService) Confirm(ctx context.Context, scheduleID string) (Schedule, error) {
	existing, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return Schedule{}, mapRepoError(err)
	}
	if !existing.Status.Sendable() {
		vErr := &ValidationError{}
		vErr.add("status", fmt.Sprintf("schedule in status %q cannot be confirmed", existing.Status))
		return Schedule{}, vErr
	}

	existing.AthleteConfirmed = true
	existing.Status = StatusConfirmed
	existing.UpdatedAt = s.now()
	if err := s.schedules.UpdateSchedule(ctx, existing); err != nil {
		return Schedule{}, mapRepoError(err)
	}
	return existing, nil
}

// Delete hard-removes a session. Pending notifications are cancelled; already
// sent ones remain as dispatch history.
func (s *ScheduleService) Delete(ctx context.Context, scheduleID string) error {
	logger := serviceLogger(ctx, s.logger, "schedules", "delete", "schedule_id", scheduleID)

	if _, err := s.schedules.GetSchedule(ctx, scheduleID); err != nil {
		return mapRepoError(err)
	}
	if s.notifier != nil {
		if _, err := s.notifier.CancelForSchedule(ctx, scheduleID); err != nil {
			logger.ErrorContext(ctx, "failed to cancel pending notifications", "error", err)
		}
	}
	if err := s.schedules.DeleteSchedule(ctx, scheduleID); err != nil {
		return mapRepoError(err)
	}
	logger.InfoContext(ctx, "schedule deleted")
	return nil
}

// Get retrieves one session.
func (s *ScheduleService) Get(ctx context.Context, scheduleID string) (Schedule, error) {
	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return Schedule{}, mapRepoError(err)
	}
	return schedule, nil
}

// List enumerates sessions matching the filter, ordered by date and start.
func (s *ScheduleService) List(ctx context.Context, params ListSchedulesParams) ([]Schedule, error) {
	schedules, err := s.schedules.ListSchedules(ctx, ScheduleRepositoryFilter{
		TrainerID:   params.TrainerID,
		AthleteID:   params.AthleteID,
		Date:        params.Date,
		StartsAfter: params.StartsAfter,
		EndsBefore:  params.EndsBefore,
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return schedules, nil
}

// MarkAttendance upserts the presence mark for an athlete on a session.
func (s *ScheduleService) MarkAttendance(ctx context.Context, scheduleID, athleteID string, status AttendanceStatus) error {
	if s.attendance == nil {
		return fmt.Errorf("attendance recorder not configured")
	}
	switch status {
	case AttendancePresent, AttendanceAbsent, AttendanceLate:
	default:
		vErr := &ValidationError{}
		vErr.add("status", "must be one of present, absent, late")
		return vErr
	}
	if _, err := s.schedules.GetSchedule(ctx, scheduleID); err != nil {
		return mapRepoError(err)
	}
	return s.attendance.UpsertAttendance(ctx, Attendance{
		ScheduleID: scheduleID,
		AthleteID:  athleteID,
		Status:     status,
		MarkedAt:   s.now(),
	})
}

func (s *ScheduleService) ensureAccounts(ctx context.Context, trainerID, athleteID string) error {
	if s.users == nil {
		return nil
	}
	vErr := &ValidationError{}
	if _, err := s.users.GetUser(ctx, trainerID); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
			vErr.add("trainer_id", "unknown trainer")
		} else {
			return err
		}
	}
	if _, err := s.users.GetUser(ctx, athleteID); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
			vErr.add("athlete_id", "unknown athlete")
		} else {
			return err
		}
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

// validateScheduleInput records field issues and returns the session duration
// in minutes when the time range is well formed.
func validateScheduleInput(input ScheduleInput, vErr *ValidationError) int {
	if strings.TrimSpace(input.TrainerID) == "" {
		vErr.add("trainer_id", "trainer is required")
	}
	if strings.TrimSpace(input.AthleteID) == "" {
		vErr.add("athlete_id", "athlete is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		vErr.add("title", "title is required")
	}
	if input.Date.IsZero() {
		vErr.add("date", "date is required")
	}
	if input.Type != "" && !ValidScheduleType(input.Type) {
		vErr.add("type", "unknown schedule type")
	}
	if input.ReminderMinutes < 0 {
		vErr.add("reminder_minutes", "must be zero or positive")
	}
	if input.IsOnline && (input.MeetingLink == nil || strings.TrimSpace(*input.MeetingLink) == "") {
		vErr.add("meeting_link", "required for online sessions")
	}

	start, startErr := scheduler.ParseClock(input.StartTime)
	if startErr != nil {
		vErr.add("start_time", "must be a valid HH:MM value")
	}
	end, endErr := scheduler.ParseClock(input.EndTime)
	if endErr != nil {
		vErr.add("end_time", "must be a valid HH:MM value")
	}
	if startErr != nil || endErr != nil {
		return 0
	}
	// Overnight sessions are not supported: the slot must close the same day.
	if end <= start {
		vErr.add("end_time", "must be after start_time")
		return 0
	}
	return end - start
}

func toSchedulerEntry(schedule Schedule) scheduler.Entry {
	start, _ := scheduler.ParseClock(schedule.StartTime)
	end, _ := scheduler.ParseClock(schedule.EndTime)
	return scheduler.Entry{
		ID:        schedule.ID,
		TrainerID: schedule.TrainerID,
		Date:      schedule.Date,
		Start:     start,
		End:       end,
		Cancelled: schedule.Status == StatusCancelled,
	}
}

func normalizeDate(value time.Time) time.Time {
	y, m, d := value.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyExists
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := &ValidationError{}
		vErr.add("time", "start must be before end")
		return vErr
	}
	if errors.Is(err, persistence.ErrForeignKeyViolation) {
		vErr := &ValidationError{}
		vErr.add("reference", "related records are missing")
		return vErr
	}
	return err
}

package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/trainer-scheduler/internal/recurrence"
	"github.com/example/trainer-scheduler/internal/testfixtures"
)

type stubScheduleRepo struct {
	schedules map[string]Schedule
	listErr   error
	created   [][]Schedule
}

func newStubScheduleRepo() *stubScheduleRepo {
	return &stubScheduleRepo{schedules: make(map[string]Schedule)}
}

func (r *stubScheduleRepo) CreateSchedule(ctx context.Context, schedule Schedule) error {
	r.schedules[schedule.ID] = schedule
	r.created = append(r.created, []Schedule{schedule})
	return nil
}

func (r *stubScheduleRepo) CreateSchedules(ctx context.Context, schedules []Schedule) error {
	for _, schedule := range schedules {
		r.schedules[schedule.ID] = schedule
	}
	r.created = append(r.created, schedules)
	return nil
}

func (r *stubScheduleRepo) UpdateSchedule(ctx context.Context, schedule Schedule) error {
	if _, ok := r.schedules[schedule.ID]; !ok {
		return ErrNotFound
	}
	r.schedules[schedule.ID] = schedule
	return nil
}

func (r *stubScheduleRepo) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	schedule, ok := r.schedules[id]
	if !ok {
		return Schedule{}, ErrNotFound
	}
	return schedule, nil
}

func (r *stubScheduleRepo) ListSchedules(ctx context.Context, filter ScheduleRepositoryFilter) ([]Schedule, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []Schedule
	for _, schedule := range r.schedules {
		if filter.TrainerID != "" && schedule.TrainerID != filter.TrainerID {
			continue
		}
		if filter.Date != nil && !schedule.Date.Equal(*filter.Date) {
			continue
		}
		if filter.ExcludeCancelled && schedule.Status == StatusCancelled {
			continue
		}
		out = append(out, schedule)
	}
	return out, nil
}

func (r *stubScheduleRepo) DeleteSchedule(ctx context.Context, id string) error {
	if _, ok := r.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(r.schedules, id)
	return nil
}

type stubDirectory struct {
	users map[string]User
}

func (d *stubDirectory) GetUser(ctx context.Context, id string) (User, error) {
	user, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

type plannerCall struct {
	op         string
	scheduleID string
}

type stubPlanner struct {
	calls []plannerCall
}

func (p *stubPlanner) CreateScheduleNotifications(ctx context.Context, scheduleID string) (int, error) {
	p.calls = append(p.calls, plannerCall{op: "plan", scheduleID: scheduleID})
	return 2, nil
}

func (p *stubPlanner) CancelForSchedule(ctx context.Context, scheduleID string) (int, error) {
	p.calls = append(p.calls, plannerCall{op: "cancel", scheduleID: scheduleID})
	return 1, nil
}

func (p *stubPlanner) CreateCancellationNotice(ctx context.Context, schedule Schedule, reason string) error {
	p.calls = append(p.calls, plannerCall{op: "cancellation_notice", scheduleID: schedule.ID})
	return nil
}

func (p *stubPlanner) CreateRescheduleNotice(ctx context.Context, schedule, previous Schedule) error {
	p.calls = append(p.calls, plannerCall{op: "reschedule_notice", scheduleID: schedule.ID})
	return nil
}

type stubAttendance struct {
	marks []Attendance
}

func (a *stubAttendance) UpsertAttendance(ctx context.Context, attendance Attendance) error {
	a.marks = append(a.marks, attendance)
	return nil
}

func (a *stubAttendance) ListForSchedule(ctx context.Context, scheduleID string) ([]Attendance, error) {
	return a.marks, nil
}

type scheduleServiceHarness struct {
	service    *ScheduleService
	repo       *stubScheduleRepo
	planner    *stubPlanner
	attendance *stubAttendance
	clock      *testfixtures.Clock
}

func newScheduleServiceHarness(t *testing.T, failOpen bool) *scheduleServiceHarness {
	t.Helper()

	repo := newStubScheduleRepo()
	planner := &stubPlanner{}
	attendance := &stubAttendance{}
	clock := testfixtures.NewClock(time.Time{})
	directory := &stubDirectory{users: map[string]User{
		"trainer-1": {ID: "trainer-1", Role: RoleTrainer},
		"athlete-1": {ID: "athlete-1", Role: RoleAthlete},
	}}

	service := NewScheduleService(ScheduleServiceConfig{
		Schedules:             repo,
		Users:                 directory,
		Attendance:            attendance,
		Notifier:              planner,
		IDGenerator:           testfixtures.NewIDGenerator("sched").NextFunc(),
		Now:                   clock.NowFunc(),
		ConflictCheckFailOpen: failOpen,
		Logger:                slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &scheduleServiceHarness{
		service:    service,
		repo:       repo,
		planner:    planner,
		attendance: attendance,
		clock:      clock,
	}
}

func validInput() ScheduleInput {
	return ScheduleInput{
		TrainerID:       "trainer-1",
		AthleteID:       "athlete-1",
		Title:           "Strength session",
		Date:            time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		StartTime:       "14:00",
		EndTime:         "15:00",
		ReminderMinutes: 30,
	}
}

func TestScheduleService_Create(t *testing.T) {
	t.Run("computes duration and plans notifications", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		created, err := h.service.Create(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if len(created) != 1 {
			t.Fatalf("created %d schedules, want 1", len(created))
		}
		schedule := created[0]
		if schedule.DurationMinutes != 60 {
			t.Errorf("duration = %d, want 60", schedule.DurationMinutes)
		}
		if schedule.Status != StatusScheduled || schedule.Type != TypeTraining {
			t.Errorf("defaults not applied: %+v", schedule)
		}
		if len(h.planner.calls) != 1 || h.planner.calls[0].op != "plan" {
			t.Errorf("expected one planning call, got %+v", h.planner.calls)
		}
	})

	t.Run("rejects overlapping slots with the blocking schedule", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		if _, err := h.service.Create(context.Background(), validInput()); err != nil {
			t.Fatalf("seed Create failed: %v", err)
		}

		overlapping := validInput()
		overlapping.StartTime = "14:30"
		overlapping.EndTime = "15:30"
		_, err := h.service.Create(context.Background(), overlapping)

		var conflictErr *ConflictError
		if !errors.As(err, &conflictErr) {
			t.Fatalf("expected ConflictError, got %v", err)
		}
		if len(conflictErr.Conflicts) != 1 || conflictErr.Conflicts[0].StartTime != "14:00" {
			t.Fatalf("unexpected conflicts %+v", conflictErr.Conflicts)
		}
	})

	t.Run("allows back to back slots", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		if _, err := h.service.Create(context.Background(), validInput()); err != nil {
			t.Fatalf("seed Create failed: %v", err)
		}

		adjacent := validInput()
		adjacent.StartTime = "15:00"
		adjacent.EndTime = "16:00"
		if _, err := h.service.Create(context.Background(), adjacent); err != nil {
			t.Fatalf("adjacent Create failed: %v", err)
		}
	})

	t.Run("collects all validation issues at once", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		_, err := h.service.Create(context.Background(), ScheduleInput{
			TrainerID: "trainer-1",
			AthleteID: "athlete-1",
			Date:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			StartTime: "15:00",
			EndTime:   "14:00",
		})

		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"title", "end_time"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Errorf("expected a field error for %q, got %v", field, vErr.FieldErrors)
			}
		}
	})

	t.Run("rejects unknown participants", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		input := validInput()
		input.AthleteID = "ghost"
		_, err := h.service.Create(context.Background(), input)

		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := vErr.FieldErrors["athlete_id"]; !ok {
			t.Fatalf("expected athlete_id error, got %v", vErr.FieldErrors)
		}
	})

	t.Run("surfaces a storage failure as conflict check unavailable", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)
		h.repo.listErr = errors.New("disk on fire")

		_, err := h.service.Create(context.Background(), validInput())

		var checkErr *ConflictCheckError
		if !errors.As(err, &checkErr) {
			t.Fatalf("expected ConflictCheckError, got %v", err)
		}
		if len(h.repo.created) != 0 {
			t.Fatalf("nothing must be written when the check fails closed")
		}
	})

	t.Run("fail open proceeds past an unavailable conflict check", func(t *testing.T) {
		h := newScheduleServiceHarness(t, true)
		h.repo.listErr = errors.New("disk on fire")

		created, err := h.service.Create(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Create failed despite fail-open: %v", err)
		}
		if len(created) != 1 {
			t.Fatalf("created %d schedules, want 1", len(created))
		}
	})
}

func TestScheduleService_CreateRecurring(t *testing.T) {
	t.Run("expands into linked occurrence rows", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		input := validInput()
		input.Date = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
		input.Recurrence = &recurrence.Rule{
			Pattern: recurrence.Weekly{Interval: 1},
			Count:   3,
		}

		created, err := h.service.Create(context.Background(), input)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if len(created) != 3 {
			t.Fatalf("created %d occurrences, want 3", len(created))
		}

		parent := created[0]
		if !parent.IsRecurring || parent.RecurringPattern == nil || parent.OccurrenceNumber != 1 {
			t.Errorf("parent row not marked recurring: %+v", parent)
		}
		for i, child := range created[1:] {
			if child.ParentScheduleID == nil || *child.ParentScheduleID != parent.ID {
				t.Errorf("occurrence %d not linked to parent: %+v", i+2, child)
			}
			if child.OccurrenceNumber != i+2 {
				t.Errorf("occurrence number = %d, want %d", child.OccurrenceNumber, i+2)
			}
			wantDate := parent.Date.AddDate(0, 0, 7*(i+1))
			if !child.Date.Equal(wantDate) {
				t.Errorf("occurrence %d date = %s, want %s", i+2, child.Date, wantDate)
			}
		}

		if len(h.repo.created) != 1 || len(h.repo.created[0]) != 3 {
			t.Fatalf("expected a single atomic batch write, got %+v", h.repo.created)
		}
	})

	t.Run("rejects the whole series when any occurrence conflicts", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		blocker := validInput()
		blocker.Date = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
		if _, err := h.service.Create(context.Background(), blocker); err != nil {
			t.Fatalf("seed Create failed: %v", err)
		}
		writesBefore := len(h.repo.created)

		input := validInput()
		input.Date = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
		input.Recurrence = &recurrence.Rule{
			Pattern: recurrence.Weekly{Interval: 1},
			Count:   4, // third occurrence lands on the blocked Jan 20
		}

		_, err := h.service.Create(context.Background(), input)
		var conflictErr *ConflictError
		if !errors.As(err, &conflictErr) {
			t.Fatalf("expected ConflictError, got %v", err)
		}
		if len(h.repo.created) != writesBefore {
			t.Fatalf("no occurrence may be written when the series conflicts")
		}
	})
}

func TestScheduleService_Update(t *testing.T) {
	t.Run("moving the slot reschedules notifications", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		created, err := h.service.Create(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		h.planner.calls = nil

		input := validInput()
		input.StartTime = "16:00"
		input.EndTime = "17:00"
		updated, err := h.service.Update(context.Background(), created[0].ID, input)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.StartTime != "16:00" {
			t.Errorf("start = %q, want 16:00", updated.StartTime)
		}

		ops := make([]string, 0, len(h.planner.calls))
		for _, call := range h.planner.calls {
			ops = append(ops, call.op)
		}
		want := []string{"cancel", "plan", "reschedule_notice"}
		if len(ops) != len(want) {
			t.Fatalf("planner calls = %v, want %v", ops, want)
		}
		for i := range want {
			if ops[i] != want[i] {
				t.Fatalf("planner calls = %v, want %v", ops, want)
			}
		}
	})

	t.Run("editing only metadata leaves notifications alone", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		created, err := h.service.Create(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		h.planner.calls = nil

		input := validInput()
		input.Notes = "bring resistance bands"
		if _, err := h.service.Update(context.Background(), created[0].ID, input); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if len(h.planner.calls) != 0 {
			t.Fatalf("unexpected planner calls %+v", h.planner.calls)
		}
	})

	t.Run("the update excludes its own row from conflict detection", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		created, err := h.service.Create(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		// Shift by half an hour so the new slot overlaps the old one.
		input := validInput()
		input.StartTime = "14:30"
		input.EndTime = "15:30"
		if _, err := h.service.Update(context.Background(), created[0].ID, input); err != nil {
			t.Fatalf("Update failed against own slot: %v", err)
		}
	})

	t.Run("rejects changing the trainer", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		created, err := h.service.Create(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		input := validInput()
		input.TrainerID = "trainer-2"
		_, err = h.service.Update(context.Background(), created[0].ID, input)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := vErr.FieldErrors["trainer_id"]; !ok {
			t.Fatalf("expected trainer_id error, got %v", vErr.FieldErrors)
		}
	})

	t.Run("rejects updates to cancelled schedules", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		created, err := h.service.Create(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := h.service.Cancel(context.Background(), CancelScheduleParams{
			ScheduleID:  created[0].ID,
			Reason:      "athlete sick",
			CancelledBy: "trainer-1",
		}); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}

		_, err = h.service.Update(context.Background(), created[0].ID, validInput())
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestScheduleService_Cancel(t *testing.T) {
	t.Run("records the reason and cascades to notifications", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		created, err := h.service.Create(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		h.planner.calls = nil

		cancelled, err := h.service.Cancel(context.Background(), CancelScheduleParams{
			ScheduleID:  created[0].ID,
			Reason:      "trainer unavailable",
			CancelledBy: "trainer-1",
		})
		if err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if cancelled.Status != StatusCancelled {
			t.Errorf("status = %q, want cancelled", cancelled.Status)
		}
		if cancelled.CancelledReason == nil || *cancelled.CancelledReason != "trainer unavailable" {
			t.Errorf("reason not recorded: %+v", cancelled)
		}
		if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(h.clock.Now()) {
			t.Errorf("cancelled_at not recorded: %+v", cancelled)
		}

		ops := make([]string, 0, len(h.planner.calls))
		for _, call := range h.planner.calls {
			ops = append(ops, call.op)
		}
		if len(ops) != 2 || ops[0] != "cancel" || ops[1] != "cancellation_notice" {
			t.Fatalf("planner calls = %v, want [cancel cancellation_notice]", ops)
		}
	})

	t.Run("cancelling twice is idempotent", func(t *testing.T) {
		h := newScheduleServiceHarness(t, false)

		created, err := h.service.Create(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		params := CancelScheduleParams{ScheduleID: created[0].ID, Reason: "sick", CancelledBy: "trainer-1"}
		if _, err := h.service.Cancel(context.Background(), params); err != nil {
			t.Fatalf("first Cancel failed: %v", err)
		}
		h.planner.calls = nil

		if _, err := h.service.Cancel(context.Background(), params); err != nil {
			t.Fatalf("second Cancel failed: %v", err)
		}
		if len(h.planner.calls) != 0 {
			t.Fatalf("second cancel must not touch notifications, got %+v", h.planner.calls)
		}
	})
}

func TestScheduleService_Confirm(t *testing.T) {
	h := newScheduleServiceHarness(t, false)

	created, err := h.service.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	confirmed, err := h.service.Confirm(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if confirmed.Status != StatusConfirmed || !confirmed.AthleteConfirmed {
		t.Fatalf("confirmation not recorded: %+v", confirmed)
	}

	if _, err := h.service.Cancel(context.Background(), CancelScheduleParams{
		ScheduleID:  created[0].ID,
		Reason:      "sick",
		CancelledBy: "trainer-1",
	}); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := h.service.Confirm(context.Background(), created[0].ID); err == nil {
		t.Fatal("confirming a cancelled schedule must fail")
	}
}

func TestScheduleService_MarkAttendance(t *testing.T) {
	h := newScheduleServiceHarness(t, false)

	created, err := h.service.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := h.service.MarkAttendance(context.Background(), created[0].ID, "athlete-1", AttendanceLate); err != nil {
		t.Fatalf("MarkAttendance failed: %v", err)
	}
	if len(h.attendance.marks) != 1 || h.attendance.marks[0].Status != AttendanceLate {
		t.Fatalf("mark not recorded: %+v", h.attendance.marks)
	}

	err = h.service.MarkAttendance(context.Background(), created[0].ID, "athlete-1", "vanished")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for unknown status, got %v", err)
	}
}

func TestScheduleService_CheckConflicts(t *testing.T) {
	h := newScheduleServiceHarness(t, false)

	if _, err := h.service.Create(context.Background(), validInput()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := h.service.CheckConflicts(context.Background(), ConflictCheckParams{
		TrainerID: "trainer-1",
		Date:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		StartTime: "14:30",
		EndTime:   "15:30",
	})
	if err != nil {
		t.Fatalf("CheckConflicts failed: %v", err)
	}
	if !result.HasConflict || len(result.Conflicts) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	clear, err := h.service.CheckConflicts(context.Background(), ConflictCheckParams{
		TrainerID: "trainer-1",
		Date:      time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		StartTime: "14:30",
		EndTime:   "15:30",
	})
	if err != nil {
		t.Fatalf("CheckConflicts failed: %v", err)
	}
	if clear.HasConflict {
		t.Fatalf("expected no conflict on a free day, got %+v", clear)
	}
}

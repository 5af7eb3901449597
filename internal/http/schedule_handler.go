package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/trainer-scheduler/internal/application"
	"github.com/example/trainer-scheduler/internal/recurrence"
)

const dateLayout = "2006-01-02"

type scheduleService interface {
	Create(ctx context.Context, input application.ScheduleInput) ([]application.Schedule, error)
	Update(ctx context.Context, scheduleID string, input application.ScheduleInput) (application.Schedule, error)
	Cancel(ctx context.Context, params application.CancelScheduleParams) (application.Schedule, error)
	Confirm(ctx context.Context, scheduleID string) (application.Schedule, error)
	Delete(ctx context.Context, scheduleID string) error
	Get(ctx context.Context, scheduleID string) (application.Schedule, error)
	List(ctx context.Context, params application.ListSchedulesParams) ([]application.Schedule, error)
	CheckConflicts(ctx context.Context, params application.ConflictCheckParams) (application.ConflictResult, error)
	MarkAttendance(ctx context.Context, scheduleID, athleteID string, status application.AttendanceStatus) error
}

type ScheduleHandler struct {
	service   scheduleService
	responder responder
}

func NewScheduleHandler(service scheduleService, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{service: service, responder: newResponder(logger)}
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req scheduleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.handleBindError(r.Context(), w, err)
		return
	}

	input, err := req.toInput()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	schedules, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, createSchedulesResponse{
		Schedules: toScheduleDTOs(schedules),
	})
}

func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := ScheduleIDFromContext(r.Context())
	if !ok || strings.TrimSpace(scheduleID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidScheduleID)
		return
	}

	var req scheduleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.handleBindError(r.Context(), w, err)
		return
	}

	input, err := req.toInput()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	schedule, err := h.service.Update(r.Context(), scheduleID, input)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, scheduleResponse{Schedule: toScheduleDTO(schedule)})
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := ScheduleIDFromContext(r.Context())
	if !ok || strings.TrimSpace(scheduleID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidScheduleID)
		return
	}

	schedule, err := h.service.Get(r.Context(), scheduleID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, scheduleResponse{Schedule: toScheduleDTO(schedule)})
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	params, err := buildListParams(r.URL.Query())
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	schedules, err := h.service.List(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listSchedulesResponse{
		Schedules: toScheduleDTOs(schedules),
	})
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := ScheduleIDFromContext(r.Context())
	if !ok || strings.TrimSpace(scheduleID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidScheduleID)
		return
	}

	if err := h.service.Delete(r.Context(), scheduleID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := ScheduleIDFromContext(r.Context())
	if !ok || strings.TrimSpace(scheduleID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidScheduleID)
		return
	}

	var req cancelScheduleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.handleBindError(r.Context(), w, err)
		return
	}

	schedule, err := h.service.Cancel(r.Context(), application.CancelScheduleParams{
		ScheduleID:  scheduleID,
		Reason:      strings.TrimSpace(req.Reason),
		CancelledBy: strings.TrimSpace(req.CancelledBy),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, scheduleResponse{Schedule: toScheduleDTO(schedule)})
}

func (h *ScheduleHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := ScheduleIDFromContext(r.Context())
	if !ok || strings.TrimSpace(scheduleID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidScheduleID)
		return
	}

	schedule, err := h.service.Confirm(r.Context(), scheduleID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, scheduleResponse{Schedule: toScheduleDTO(schedule)})
}

func (h *ScheduleHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := ScheduleIDFromContext(r.Context())
	if !ok || strings.TrimSpace(scheduleID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidScheduleID)
		return
	}

	var req attendanceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.handleBindError(r.Context(), w, err)
		return
	}

	err := h.service.MarkAttendance(r.Context(), scheduleID, req.AthleteID, application.AttendanceStatus(req.Status))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ScheduleHandler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req conflictCheckRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.handleBindError(r.Context(), w, err)
		return
	}

	date, err := parseDateField("date", req.Date)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	result, err := h.service.CheckConflicts(r.Context(), application.ConflictCheckParams{
		TrainerID: req.TrainerID,
		Date:      date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		ExcludeID: req.ExcludeID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, conflictCheckResponse{
		HasConflict: result.HasConflict,
		Conflicts:   toScheduleDTOs(result.Conflicts),
	})
}

// PreviewRecurrence expands a recurrence rule without persisting anything so
// clients can show the occurrence dates before creation.
func (h *ScheduleHandler) PreviewRecurrence(w http.ResponseWriter, r *http.Request) {
	var req recurrencePreviewRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.handleBindError(r.Context(), w, err)
		return
	}

	start, err := parseDateField("start_date", req.StartDate)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	dates, err := recurrence.Expand(start, req.Rule)
	if err != nil {
		vErr := &application.ValidationError{FieldErrors: map[string]string{"rule": err.Error()}}
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	out := make([]string, 0, len(dates))
	for _, date := range dates {
		out = append(out, date.Format(dateLayout))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, recurrencePreviewResponse{Dates: out})
}

func (h *ScheduleHandler) handleBindError(ctx context.Context, w http.ResponseWriter, err error) {
	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}
	h.responder.writeError(ctx, w, http.StatusBadRequest, err)
}

type scheduleRequest struct {
	TrainerID       string           `json:"trainer_id" validate:"required"`
	AthleteID       string           `json:"athlete_id" validate:"required"`
	Title           string           `json:"title" validate:"required"`
	Description     string           `json:"description"`
	Date            string           `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime       string           `json:"start_time" validate:"required,datetime=15:04"`
	EndTime         string           `json:"end_time" validate:"required,datetime=15:04"`
	Type            string           `json:"type" validate:"omitempty,oneof=training consultation assessment recovery group_class online other"`
	Location        *string          `json:"location"`
	IsOnline        bool             `json:"is_online"`
	MeetingLink     *string          `json:"meeting_link" validate:"omitempty,url"`
	ReminderMinutes int              `json:"reminder_minutes" validate:"min=0"`
	Color           string           `json:"color"`
	Notes           string           `json:"notes"`
	Recurrence      *recurrence.Rule `json:"recurring_pattern"`
}

// parseDateField re-parses a date string the validator tags already vetted.
// An error here means a tag drifted out of sync with the layout, so it is
// surfaced as a field error rather than passed on as a zero date.
func parseDateField(field, value string) (time.Time, error) {
	date, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, &application.ValidationError{
			FieldErrors: map[string]string{field: "must be formatted as YYYY-MM-DD"},
		}
	}
	return date, nil
}

func (r scheduleRequest) toInput() (application.ScheduleInput, error) {
	date, err := parseDateField("date", r.Date)
	if err != nil {
		return application.ScheduleInput{}, err
	}
	return application.ScheduleInput{
		TrainerID:       strings.TrimSpace(r.TrainerID),
		AthleteID:       strings.TrimSpace(r.AthleteID),
		Title:           strings.TrimSpace(r.Title),
		Description:     r.Description,
		Date:            date,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		Type:            application.ScheduleType(r.Type),
		Location:        r.Location,
		IsOnline:        r.IsOnline,
		MeetingLink:     r.MeetingLink,
		ReminderMinutes: r.ReminderMinutes,
		Color:           r.Color,
		Notes:           r.Notes,
		Recurrence:      r.Recurrence,
	}, nil
}

type cancelScheduleRequest struct {
	Reason      string `json:"reason" validate:"required"`
	CancelledBy string `json:"cancelled_by" validate:"required"`
}

type attendanceRequest struct {
	AthleteID string `json:"athlete_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=present absent late"`
}

type conflictCheckRequest struct {
	TrainerID string `json:"trainer_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
	ExcludeID string `json:"exclude_id"`
}

type recurrencePreviewRequest struct {
	StartDate string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	Rule      recurrence.Rule `json:"rule" validate:"required"`
}

type scheduleResponse struct {
	Schedule scheduleDTO `json:"schedule"`
}

type createSchedulesResponse struct {
	Schedules []scheduleDTO `json:"schedules"`
}

type listSchedulesResponse struct {
	Schedules []scheduleDTO `json:"schedules"`
}

type conflictCheckResponse struct {
	HasConflict bool          `json:"has_conflict"`
	Conflicts   []scheduleDTO `json:"conflicts,omitempty"`
}

type recurrencePreviewResponse struct {
	Dates []string `json:"dates"`
}

type scheduleDTO struct {
	ID               string           `json:"id"`
	TrainerID        string           `json:"trainer_id"`
	AthleteID        string           `json:"athlete_id"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Date             string           `json:"date"`
	StartTime        string           `json:"start_time"`
	EndTime          string           `json:"end_time"`
	DurationMinutes  int              `json:"duration_minutes"`
	Type             string           `json:"type"`
	Status           string           `json:"status"`
	Location         *string          `json:"location,omitempty"`
	IsOnline         bool             `json:"is_online"`
	MeetingLink      *string          `json:"meeting_link,omitempty"`
	ReminderMinutes  int              `json:"reminder_minutes"`
	Color            string           `json:"color,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	AthleteConfirmed bool             `json:"athlete_confirmed"`
	CancelledReason  *string          `json:"cancelled_reason,omitempty"`
	CancelledBy      *string          `json:"cancelled_by,omitempty"`
	CancelledAt      *string          `json:"cancelled_at,omitempty"`
	IsRecurring      bool             `json:"is_recurring"`
	RecurringPattern *recurrence.Rule `json:"recurring_pattern,omitempty"`
	ParentScheduleID *string          `json:"parent_schedule_id,omitempty"`
	OccurrenceNumber int              `json:"occurrence_number,omitempty"`
	CreatedAt        string           `json:"created_at"`
	UpdatedAt        string           `json:"updated_at"`
}

func toScheduleDTO(schedule application.Schedule) scheduleDTO {
	dto := scheduleDTO{
		ID:               schedule.ID,
		TrainerID:        schedule.TrainerID,
		AthleteID:        schedule.AthleteID,
		Title:            schedule.Title,
		Description:      schedule.Description,
		Date:             schedule.Date.Format(dateLayout),
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
		IsRecurring:      schedule.IsRecurring,
		RecurringPattern: schedule.RecurringPattern,
		ParentScheduleID: schedule.ParentScheduleID,
		OccurrenceNumber: schedule.OccurrenceNumber,
		CreatedAt:        schedule.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        schedule.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if schedule.CancelledAt != nil {
		formatted := schedule.CancelledAt.UTC().Format(time.RFC3339)
		dto.CancelledAt = &formatted
	}
	return dto
}

func toScheduleDTOs(schedules []application.Schedule) []scheduleDTO {
	if len(schedules) == 0 {
		return nil
	}
	out := make([]scheduleDTO, 0, len(schedules))
	for _, schedule := range schedules {
		out = append(out, toScheduleDTO(schedule))
	}
	return out
}

func buildListParams(values url.Values) (application.ListSchedulesParams, error) {
	params := application.ListSchedulesParams{
		TrainerID: strings.TrimSpace(values.Get("trainer_id")),
		AthleteID: strings.TrimSpace(values.Get("athlete_id")),
	}

	if day := strings.TrimSpace(values.Get("date")); day != "" {
		ts, err := time.Parse(dateLayout, day)
		if err != nil {
			return params, errInvalidDateFilter
		}
		params.Date = &ts
	}
	if after := strings.TrimSpace(values.Get("starts_after")); after != "" {
		ts, err := time.Parse(dateLayout, after)
		if err != nil {
			return params, errInvalidDateFilter
		}
		params.StartsAfter = &ts
	}
	if before := strings.TrimSpace(values.Get("ends_before")); before != "" {
		ts, err := time.Parse(dateLayout, before)
		if err != nil {
			return params, errInvalidDateFilter
		}
		params.EndsBefore = &ts
	}

	return params, nil
}

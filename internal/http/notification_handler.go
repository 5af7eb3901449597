package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/trainer-scheduler/internal/application"
)

type notificationService interface {
	ListForSchedule(ctx context.Context, scheduleID string) ([]application.Notification, error)
	CreateScheduleNotifications(ctx context.Context, scheduleID string) (int, error)
}

// NotificationHandler exposes the dispatch history of a schedule.
type NotificationHandler struct {
	service   notificationService
	responder responder
}

func NewNotificationHandler(service notificationService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, responder: newResponder(logger)}
}

func (h *NotificationHandler) ListForSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := ScheduleIDFromContext(r.Context())
	if !ok || strings.TrimSpace(scheduleID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidScheduleID)
		return
	}

	notifications, err := h.service.ListForSchedule(r.Context(), scheduleID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]notificationDTO, 0, len(notifications))
	for _, notification := range notifications {
		out = append(out, toNotificationDTO(notification))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listNotificationsResponse{Notifications: out})
}

// CreateForSchedule recomputes the reminder and confirmation-request rows for
// a session, inserting only candidates still in the future.
func (h *NotificationHandler) CreateForSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := ScheduleIDFromContext(r.Context())
	if !ok || strings.TrimSpace(scheduleID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidScheduleID)
		return
	}

	count, err := h.service.CreateScheduleNotifications(r.Context(), scheduleID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, createNotificationsResponse{Created: count})
}

type createNotificationsResponse struct {
	Created int `json:"created"`
}

type listNotificationsResponse struct {
	Notifications []notificationDTO `json:"notifications"`
}

type notificationDTO struct {
	ID             string            `json:"id"`
	ScheduleID     string            `json:"schedule_id"`
	RecipientID    string            `json:"recipient_id"`
	Type           string            `json:"type"`
	Channel        string            `json:"channel"`
	ScheduledFor   string            `json:"scheduled_for"`
	Status         string            `json:"status"`
	SentAt         *string           `json:"sent_at,omitempty"`
	Error          *string           `json:"error,omitempty"`
	Attempts       int               `json:"attempts"`
	AdditionalData map[string]string `json:"additional_data,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

func toNotificationDTO(notification application.Notification) notificationDTO {
	dto := notificationDTO{
		ID:             notification.ID,
		ScheduleID:     notification.ScheduleID,
		RecipientID:    notification.RecipientID,
		Type:           string(notification.Type),
		Channel:        notification.Channel,
		ScheduledFor:   notification.ScheduledFor.UTC().Format(time.RFC3339),
		Status:         string(notification.Status),
		Error:          notification.Error,
		Attempts:       notification.Attempts,
		AdditionalData: notification.AdditionalData,
		CreatedAt:      notification.CreatedAt.UTC().Format(time.RFC3339),
	}
	if notification.SentAt != nil {
		formatted := notification.SentAt.UTC().Format(time.RFC3339)
		dto.SentAt = &formatted
	}
	return dto
}

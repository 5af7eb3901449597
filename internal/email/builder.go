package email

import (
	"fmt"
	"strings"

	"github.com/example/trainer-scheduler/internal/application"
)

// BuildMessage renders the email for one notification. The recipient's
// display name and address come from the directory, the session details from
// the owning schedule, and type-specific context from the notification's
// additional data.
func BuildMessage(notification application.Notification, schedule application.Schedule, recipient application.User) (Message, error) {
	switch notification.Type {
	case application.NotificationReminder:
		return buildReminder(schedule, recipient), nil
	case application.NotificationConfirmationRequest:
		return buildConfirmationRequest(schedule, recipient), nil
	case application.NotificationCancellation:
		return buildCancellation(notification, schedule, recipient), nil
	case application.NotificationReschedule:
		return buildReschedule(notification, schedule, recipient), nil
	default:
		return Message{}, fmt.Errorf("email: no template for notification type %q", notification.Type)
	}
}

func buildReminder(schedule application.Schedule, recipient application.User) Message {
	slot := slotLine(schedule)
	text := fmt.Sprintf("Hi %s,\n\nThis is a reminder for your upcoming session %q on %s.%s\n",
		recipient.DisplayName, schedule.Title, slot, locationLine(schedule))

	return Message{
		To:      recipient.Email,
		Subject: fmt.Sprintf("Reminder: %s on %s", schedule.Title, schedule.Date.Format("Jan 2")),
		HTML:    toHTML(text),
		Text:    text,
		Tags:    tags(schedule, "reminder"),
	}
}

func buildConfirmationRequest(schedule application.Schedule, recipient application.User) Message {
	slot := slotLine(schedule)
	text := fmt.Sprintf("Hi %s,\n\nPlease confirm your attendance for %q on %s.%s\n\nReply to this email or confirm in the app.\n",
		recipient.DisplayName, schedule.Title, slot, locationLine(schedule))

	return Message{
		To:      recipient.Email,
		Subject: fmt.Sprintf("Please confirm: %s on %s", schedule.Title, schedule.Date.Format("Jan 2")),
		HTML:    toHTML(text),
		Text:    text,
		Tags:    tags(schedule, "confirmation_request"),
	}
}

func buildCancellation(notification application.Notification, schedule application.Schedule, recipient application.User) Message {
	reason := notification.AdditionalData["reason"]
	reasonLine := ""
	if reason != "" {
		reasonLine = fmt.Sprintf("\n\nReason: %s", reason)
	}
	text := fmt.Sprintf("Hi %s,\n\nYour session %q on %s has been cancelled.%s\n",
		recipient.DisplayName, schedule.Title, slotLine(schedule), reasonLine)

	return Message{
		To:      recipient.Email,
		Subject: fmt.Sprintf("Cancelled: %s on %s", schedule.Title, schedule.Date.Format("Jan 2")),
		HTML:    toHTML(text),
		Text:    text,
		Tags:    tags(schedule, "cancellation"),
	}
}

func buildReschedule(notification application.Notification, schedule application.Schedule, recipient application.User) Message {
	previous := ""
	if date := notification.AdditionalData["previous_date"]; date != "" {
		previous = fmt.Sprintf("\n\nPreviously: %s %s-%s.",
			date,
			notification.AdditionalData["previous_start_time"],
			notification.AdditionalData["previous_end_time"])
	}
	text := fmt.Sprintf("Hi %s,\n\nYour session %q has been moved to %s.%s%s\n",
		recipient.DisplayName, schedule.Title, slotLine(schedule), previous, locationLine(schedule))

	return Message{
		To:      recipient.Email,
		Subject: fmt.Sprintf("Rescheduled: %s now on %s", schedule.Title, schedule.Date.Format("Jan 2")),
		HTML:    toHTML(text),
		Text:    text,
		Tags:    tags(schedule, "reschedule"),
	}
}

func slotLine(schedule application.Schedule) string {
	return fmt.Sprintf("%s from %s to %s",
		schedule.Date.Format("Monday, January 2, 2006"), schedule.StartTime, schedule.EndTime)
}

func locationLine(schedule application.Schedule) string {
	if schedule.IsOnline && schedule.MeetingLink != nil {
		return fmt.Sprintf("\n\nJoin online: %s", *schedule.MeetingLink)
	}
	if schedule.Location != nil && *schedule.Location != "" {
		return fmt.Sprintf("\n\nLocation: %s", *schedule.Location)
	}
	return ""
}

func tags(schedule application.Schedule, kind string) map[string]string {
	return map[string]string{
		"notification_type": kind,
		"schedule_id":       schedule.ID,
	}
}

// toHTML is a minimal paragraph conversion; rich templating is handled by the
// product's email templates, not this service.
func toHTML(text string) string {
	paragraphs := strings.Split(strings.TrimSpace(text), "\n\n")
	var b strings.Builder
	for _, p := range paragraphs {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(p, "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}

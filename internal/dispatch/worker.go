// Package dispatch runs the background worker that polls for due
// notifications and delivers them by email.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/trainer-scheduler/internal/application"
	"github.com/example/trainer-scheduler/internal/email"
)

const (
	defaultInterval    = 60 * time.Second
	defaultBatchSize   = 10
	defaultMaxAttempts = 3
	baseRetryDelay     = 5 * time.Minute

	// staleClaimAge bounds how long a row may sit in processing before it is
	// treated as abandoned by a crashed worker and returned to pending.
	staleClaimAge = 10 * time.Minute

	releaseTimeout = 5 * time.Second
)

// NotificationStore is the slice of notification persistence the worker
// drives. ClaimDue and Claim move rows from pending to processing so that no
// two workers deliver the same notification.
type NotificationStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]application.Notification, error)
	Claim(ctx context.Context, id string) (application.Notification, error)
	Release(ctx context.Context, id string) error
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkRetry(ctx context.Context, id string, nextAttempt time.Time, attempts int, reason string) error
	MarkFailed(ctx context.Context, id string, attempts int, reason string) error
	MarkCancelled(ctx context.Context, id string) error
}

// ScheduleReader loads the schedule a notification belongs to.
type ScheduleReader interface {
	GetSchedule(ctx context.Context, id string) (application.Schedule, error)
}

// UserDirectory resolves a notification's recipient to an email address.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (application.User, error)
}

// Worker polls the notification store on a fixed interval and sends due
// notifications through the email gateway. Construct one per process; Start
// and Stop are idempotent.
type Worker struct {
	store       NotificationStore
	schedules   ScheduleReader
	users       UserDirectory
	gateway     email.Gateway
	interval    time.Duration
	batchSize   int
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// WorkerConfig wires the worker's dependencies. Zero values for Interval,
// BatchSize and MaxAttempts select the defaults.
type WorkerConfig struct {
	Store       NotificationStore
	Schedules   ScheduleReader
	Users       UserDirectory
	Gateway     email.Gateway
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewWorker constructs a dispatch worker.
func NewWorker(cfg WorkerConfig) *Worker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:       cfg.Store,
		schedules:   cfg.Schedules,
		users:       cfg.Users,
		gateway:     cfg.Gateway,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now:         now,
		logger:      logger.With("component", "dispatch"),
	}
}

// Start launches the polling loop. Calling Start on a running worker logs a
// warning and returns without spawning a second loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.logger.WarnContext(ctx, "dispatch worker already running, start ignored")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(loopCtx, w.done)
	w.logger.InfoContext(ctx, "dispatch worker started",
		"interval", w.interval.String(), "batch_size", w.batchSize)
}

// Stop halts the polling loop and waits for an in-flight tick to finish.
// Stopping a worker that is not running is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.running = false
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("dispatch worker stopped")
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Drain anything already due before the first tick fires.
	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick claims one batch of due notifications and dispatches each in turn.
// Claims abandoned by a crashed worker are returned to pending first, and
// claims this tick cannot process before cancellation are released so the
// next tick picks them up.
func (w *Worker) Tick(ctx context.Context) {
	now := w.now()
	if reclaimed, err := w.store.ReclaimStale(ctx, now.Add(-staleClaimAge)); err != nil {
		w.logger.ErrorContext(ctx, "reclaiming stale claims failed", "error", err)
	} else if reclaimed > 0 {
		w.logger.WarnContext(ctx, "returned stale notification claims to pending", "count", reclaimed)
	}

	claimed, err := w.store.ClaimDue(ctx, now, w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "claiming due notifications failed", "error", err)
		return
	}
	for i, notification := range claimed {
		if ctx.Err() != nil {
			w.releaseClaims(claimed[i:])
			return
		}
		w.dispatch(ctx, notification)
	}
}

// releaseClaims returns unprocessed claims to pending. The tick context is
// already cancelled when this runs, so the writes get a fresh short-lived one.
func (w *Worker) releaseClaims(claimed []application.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	for _, notification := range claimed {
		if err := w.store.Release(ctx, notification.ID); err != nil {
			w.logger.Error("releasing claimed notification failed",
				"notification_id", notification.ID, "error", err)
		}
	}
}

// Deliver claims a single notification by id and dispatches it immediately,
// outside the polling cadence. A notification that is no longer pending is
// left alone.
func (w *Worker) Deliver(ctx context.Context, notificationID string) error {
	notification, err := w.store.Claim(ctx, notificationID)
	if err != nil {
		if errors.Is(err, application.ErrNotFound) {
			return nil
		}
		return err
	}
	return w.dispatch(ctx, notification)
}

func (w *Worker) dispatch(ctx context.Context, notification application.Notification) error {
	logger := w.logger.With(
		"notification_id", notification.ID,
		"schedule_id", notification.ScheduleID,
		"type", string(notification.Type))

	// The schedule may have been cancelled or finished between the time the
	// notification was planned and now. Re-read it before sending.
	schedule, err := w.schedules.GetSchedule(ctx, notification.ScheduleID)
	if err != nil {
		if errors.Is(err, application.ErrNotFound) {
			logger.InfoContext(ctx, "schedule gone, cancelling notification")
			return w.store.MarkCancelled(ctx, notification.ID)
		}
		return w.retryOrFail(ctx, logger, notification, fmt.Errorf("load schedule: %w", err))
	}
	if !sendableFor(notification.Type, schedule.Status) {
		logger.InfoContext(ctx, "schedule no longer active, cancelling notification",
			"schedule_status", string(schedule.Status))
		return w.store.MarkCancelled(ctx, notification.ID)
	}

	recipient, err := w.users.GetUser(ctx, notification.RecipientID)
	if err != nil {
		if errors.Is(err, application.ErrNotFound) {
			logger.WarnContext(ctx, "recipient gone, cancelling notification")
			return w.store.MarkCancelled(ctx, notification.ID)
		}
		return w.retryOrFail(ctx, logger, notification, fmt.Errorf("load recipient: %w", err))
	}

	message, err := email.BuildMessage(notification, schedule, recipient)
	if err != nil {
		// A template error never heals on retry.
		logger.ErrorContext(ctx, "building message failed", "error", err)
		return w.store.MarkFailed(ctx, notification.ID, notification.Attempts+1, err.Error())
	}

	if _, err := w.gateway.Send(ctx, message); err != nil {
		return w.retryOrFail(ctx, logger, notification, err)
	}

	sentAt := w.now()
	if err := w.store.MarkSent(ctx, notification.ID, sentAt); err != nil {
		return err
	}
	logger.InfoContext(ctx, "notification sent", "recipient", recipient.Email)
	return nil
}

// retryOrFail records a delivery failure: the attempt counter increments, and
// the row either goes back to pending with an exponential delay or becomes
// terminally failed once the attempt budget is spent.
func (w *Worker) retryOrFail(ctx context.Context, logger *slog.Logger, notification application.Notification, cause error) error {
	attempts := notification.Attempts + 1
	if attempts >= w.maxAttempts {
		logger.ErrorContext(ctx, "notification failed permanently",
			"attempts", attempts, "error", cause)
		return w.store.MarkFailed(ctx, notification.ID, attempts, cause.Error())
	}

	delay := baseRetryDelay * time.Duration(1<<attempts)
	nextAttempt := w.now().Add(delay)
	logger.WarnContext(ctx, "notification delivery failed, scheduling retry",
		"attempts", attempts, "retry_at", nextAttempt.Format(time.RFC3339), "error", cause)
	return w.store.MarkRetry(ctx, notification.ID, nextAttempt, attempts, cause.Error())
}

// sendableFor reports whether a notification of the given type may still go
// out for a schedule in the given status. Cancellation notices are exempt
// from the active-status check since they describe the cancellation itself.
func sendableFor(kind application.NotificationType, status application.ScheduleStatus) bool {
	if kind == application.NotificationCancellation {
		return true
	}
	return status.Sendable()
}

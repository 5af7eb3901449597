package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/trainer-scheduler/internal/application"
	"github.com/example/trainer-scheduler/internal/email"
)

type markCall struct {
	op          string
	id          string
	attempts    int
	nextAttempt time.Time
	reason      string
}

type stubStore struct {
	due            []application.Notification
	claimErr       error
	staleCount     int
	reclaimCutoffs []time.Time
	calls          []markCall
}

func (s *stubStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]application.Notification, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if len(s.due) > limit {
		return s.due[:limit], nil
	}
	return s.due, nil
}

func (s *stubStore) Claim(ctx context.Context, id string) (application.Notification, error) {
	for _, n := range s.due {
		if n.ID == id {
			return n, nil
		}
	}
	return application.Notification{}, application.ErrNotFound
}

func (s *stubStore) Release(ctx context.Context, id string) error {
	s.calls = append(s.calls, markCall{op: "released", id: id})
	return nil
}

func (s *stubStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.reclaimCutoffs = append(s.reclaimCutoffs, cutoff)
	return s.staleCount, nil
}

func (s *stubStore) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	s.calls = append(s.calls, markCall{op: "sent", id: id})
	return nil
}

func (s *stubStore) MarkRetry(ctx context.Context, id string, nextAttempt time.Time, attempts int, reason string) error {
	s.calls = append(s.calls, markCall{op: "retry", id: id, attempts: attempts, nextAttempt: nextAttempt, reason: reason})
	return nil
}

func (s *stubStore) MarkFailed(ctx context.Context, id string, attempts int, reason string) error {
	s.calls = append(s.calls, markCall{op: "failed", id: id, attempts: attempts, reason: reason})
	return nil
}

func (s *stubStore) MarkCancelled(ctx context.Context, id string) error {
	s.calls = append(s.calls, markCall{op: "cancelled", id: id})
	return nil
}

type stubSchedules struct {
	schedules map[string]application.Schedule
}

func (s *stubSchedules) GetSchedule(ctx context.Context, id string) (application.Schedule, error) {
	schedule, ok := s.schedules[id]
	if !ok {
		return application.Schedule{}, application.ErrNotFound
	}
	return schedule, nil
}

type stubUsers struct {
	users map[string]application.User
}

func (s *stubUsers) GetUser(ctx context.Context, id string) (application.User, error) {
	user, ok := s.users[id]
	if !ok {
		return application.User{}, application.ErrNotFound
	}
	return user, nil
}

type stubGateway struct {
	sent    []email.Message
	sendErr error
	// afterSend fires once after the first successful send, letting a test
	// interrupt the tick mid-batch.
	afterSend func()
}

func (g *stubGateway) Send(ctx context.Context, message email.Message) (string, error) {
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.sent = append(g.sent, message)
	if g.afterSend != nil {
		fire := g.afterSend
		g.afterSend = nil
		fire()
	}
	return "msg-1", nil
}

var testTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func testNotification(id string, attempts int) application.Notification {
	return application.Notification{
		ID:          id,
		ScheduleID:  "sched-1",
		RecipientID: "athlete-1",
		Type:        application.NotificationReminder,
		Channel:     application.ChannelEmail,
		Attempts:    attempts,
		Status:      application.NotificationProcessing,
	}
}

func testSchedule(status application.ScheduleStatus) application.Schedule {
	return application.Schedule{
		ID:        "sched-1",
		TrainerID: "trainer-1",
		AthleteID: "athlete-1",
		Title:     "Strength session",
		Date:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		StartTime: "10:00",
		EndTime:   "11:00",
		Status:    status,
	}
}

func newTestWorker(store *stubStore, schedules *stubSchedules, users *stubUsers, gateway *stubGateway) *Worker {
	return NewWorker(WorkerConfig{
		Store:     store,
		Schedules: schedules,
		Users:     users,
		Gateway:   gateway,
		Now:       func() time.Time { return testTime },
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestWorkerDispatchesDueNotification(t *testing.T) {
	store := &stubStore{due: []application.Notification{testNotification("n-1", 0)}}
	schedules := &stubSchedules{schedules: map[string]application.Schedule{"sched-1": testSchedule(application.StatusConfirmed)}}
	users := &stubUsers{users: map[string]application.User{"athlete-1": {ID: "athlete-1", Email: "a@example.com", DisplayName: "Alex"}}}
	gateway := &stubGateway{}

	worker := newTestWorker(store, schedules, users, gateway)
	worker.Tick(context.Background())

	if len(gateway.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(gateway.sent))
	}
	if gateway.sent[0].To != "a@example.com" {
		t.Errorf("unexpected recipient %q", gateway.sent[0].To)
	}
	if len(store.calls) != 1 || store.calls[0].op != "sent" {
		t.Fatalf("expected MarkSent, got %+v", store.calls)
	}
}

func TestWorkerReleasesUnprocessedClaimsOnCancellation(t *testing.T) {
	store := &stubStore{due: []application.Notification{
		testNotification("n-1", 0),
		testNotification("n-2", 0),
	}}
	schedules := &stubSchedules{schedules: map[string]application.Schedule{"sched-1": testSchedule(application.StatusConfirmed)}}
	users := &stubUsers{users: map[string]application.User{"athlete-1": {ID: "athlete-1", Email: "a@example.com", DisplayName: "Alex"}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gateway := &stubGateway{afterSend: cancel}

	worker := newTestWorker(store, schedules, users, gateway)
	worker.Tick(ctx)

	if len(gateway.sent) != 1 {
		t.Fatalf("expected only the first notification to be sent, got %d", len(gateway.sent))
	}
	if len(store.calls) != 2 {
		t.Fatalf("expected a send and a release, got %+v", store.calls)
	}
	if store.calls[0].op != "sent" || store.calls[0].id != "n-1" {
		t.Errorf("first call = %+v, want MarkSent for n-1", store.calls[0])
	}
	if store.calls[1].op != "released" || store.calls[1].id != "n-2" {
		t.Errorf("second call = %+v, want Release for n-2", store.calls[1])
	}
}

func TestWorkerReclaimsStaleClaimsEachTick(t *testing.T) {
	store := &stubStore{staleCount: 1}
	schedules := &stubSchedules{schedules: map[string]application.Schedule{}}
	users := &stubUsers{users: map[string]application.User{}}
	gateway := &stubGateway{}

	worker := newTestWorker(store, schedules, users, gateway)
	worker.Tick(context.Background())

	if len(store.reclaimCutoffs) != 1 {
		t.Fatalf("expected one reclaim per tick, got %d", len(store.reclaimCutoffs))
	}
	if want := testTime.Add(-staleClaimAge); !store.reclaimCutoffs[0].Equal(want) {
		t.Errorf("reclaim cutoff = %s, want %s", store.reclaimCutoffs[0], want)
	}
}

func TestWorkerCancelsNotificationForInactiveSchedule(t *testing.T) {
	for _, status := range []application.ScheduleStatus{
		application.StatusCancelled,
		application.StatusCompleted,
		application.StatusNoShow,
	} {
		t.Run(string(status), func(t *testing.T) {
			store := &stubStore{due: []application.Notification{testNotification("n-1", 0)}}
			schedules := &stubSchedules{schedules: map[string]application.Schedule{"sched-1": testSchedule(status)}}
			users := &stubUsers{users: map[string]application.User{}}
			gateway := &stubGateway{}

			worker := newTestWorker(store, schedules, users, gateway)
			worker.Tick(context.Background())

			if len(gateway.sent) != 0 {
				t.Fatalf("expected no sends, got %d", len(gateway.sent))
			}
			if len(store.calls) != 1 || store.calls[0].op != "cancelled" {
				t.Fatalf("expected MarkCancelled, got %+v", store.calls)
			}
		})
	}
}

func TestWorkerSendsCancellationNoticeForCancelledSchedule(t *testing.T) {
	notification := testNotification("n-1", 0)
	notification.Type = application.NotificationCancellation
	notification.AdditionalData = map[string]string{"reason": "trainer unavailable"}

	store := &stubStore{due: []application.Notification{notification}}
	schedules := &stubSchedules{schedules: map[string]application.Schedule{"sched-1": testSchedule(application.StatusCancelled)}}
	users := &stubUsers{users: map[string]application.User{"athlete-1": {ID: "athlete-1", Email: "a@example.com", DisplayName: "Alex"}}}
	gateway := &stubGateway{}

	worker := newTestWorker(store, schedules, users, gateway)
	worker.Tick(context.Background())

	if len(gateway.sent) != 1 {
		t.Fatalf("expected the cancellation notice to be sent, calls %+v", store.calls)
	}
}

func TestWorkerRetryBackoffDoubles(t *testing.T) {
	cases := []struct {
		name      string
		attempts  int
		wantDelay time.Duration
	}{
		{name: "first failure", attempts: 0, wantDelay: 10 * time.Minute},
		{name: "second failure", attempts: 1, wantDelay: 20 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubStore{due: []application.Notification{testNotification("n-1", tc.attempts)}}
			schedules := &stubSchedules{schedules: map[string]application.Schedule{"sched-1": testSchedule(application.StatusScheduled)}}
			users := &stubUsers{users: map[string]application.User{"athlete-1": {ID: "athlete-1", Email: "a@example.com"}}}
			gateway := &stubGateway{sendErr: errors.New("smtp 451")}

			worker := newTestWorker(store, schedules, users, gateway)
			worker.Tick(context.Background())

			if len(store.calls) != 1 || store.calls[0].op != "retry" {
				t.Fatalf("expected MarkRetry, got %+v", store.calls)
			}
			call := store.calls[0]
			if call.attempts != tc.attempts+1 {
				t.Errorf("attempts = %d, want %d", call.attempts, tc.attempts+1)
			}
			if want := testTime.Add(tc.wantDelay); !call.nextAttempt.Equal(want) {
				t.Errorf("nextAttempt = %s, want %s", call.nextAttempt, want)
			}
		})
	}
}

func TestWorkerFailsPermanentlyAfterThreeAttempts(t *testing.T) {
	store := &stubStore{due: []application.Notification{testNotification("n-1", 2)}}
	schedules := &stubSchedules{schedules: map[string]application.Schedule{"sched-1": testSchedule(application.StatusScheduled)}}
	users := &stubUsers{users: map[string]application.User{"athlete-1": {ID: "athlete-1", Email: "a@example.com"}}}
	gateway := &stubGateway{sendErr: errors.New("smtp 550")}

	worker := newTestWorker(store, schedules, users, gateway)
	worker.Tick(context.Background())

	if len(store.calls) != 1 || store.calls[0].op != "failed" {
		t.Fatalf("expected MarkFailed, got %+v", store.calls)
	}
	if store.calls[0].attempts != 3 {
		t.Errorf("attempts = %d, want 3", store.calls[0].attempts)
	}
}

func TestWorkerCancelsWhenRecipientMissing(t *testing.T) {
	store := &stubStore{due: []application.Notification{testNotification("n-1", 0)}}
	schedules := &stubSchedules{schedules: map[string]application.Schedule{"sched-1": testSchedule(application.StatusScheduled)}}
	users := &stubUsers{users: map[string]application.User{}}
	gateway := &stubGateway{}

	worker := newTestWorker(store, schedules, users, gateway)
	worker.Tick(context.Background())

	if len(store.calls) != 1 || store.calls[0].op != "cancelled" {
		t.Fatalf("expected MarkCancelled, got %+v", store.calls)
	}
}

func TestWorkerDeliverSkipsNonPendingNotification(t *testing.T) {
	store := &stubStore{}
	schedules := &stubSchedules{schedules: map[string]application.Schedule{}}
	users := &stubUsers{users: map[string]application.User{}}
	gateway := &stubGateway{}

	worker := newTestWorker(store, schedules, users, gateway)
	if err := worker.Deliver(context.Background(), "missing"); err != nil {
		t.Fatalf("Deliver returned %v, want nil for an unclaimable notification", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("expected no store calls, got %+v", store.calls)
	}
}

func TestWorkerStartStopIdempotent(t *testing.T) {
	store := &stubStore{}
	schedules := &stubSchedules{schedules: map[string]application.Schedule{}}
	users := &stubUsers{users: map[string]application.User{}}
	gateway := &stubGateway{}

	worker := NewWorker(WorkerConfig{
		Store:     store,
		Schedules: schedules,
		Users:     users,
		Gateway:   gateway,
		Interval:  time.Hour,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	worker.Start(ctx)
	worker.Start(ctx)
	worker.Stop()
	worker.Stop()
}

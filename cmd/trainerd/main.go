package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/trainer-scheduler/internal/application"
	"github.com/example/trainer-scheduler/internal/config"
	"github.com/example/trainer-scheduler/internal/dispatch"
	"github.com/example/trainer-scheduler/internal/email"
	httptransport "github.com/example/trainer-scheduler/internal/http"
	"github.com/example/trainer-scheduler/internal/logging"
	"github.com/example/trainer-scheduler/internal/persistence/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	idGenerator := uuid.NewString
	now := time.Now
	location := cfg.Location()

	scheduleRepo := newScheduleRepositoryAdapter(sqlite.NewScheduleRepository(storage))
	userRepo := newUserRepositoryAdapter(sqlite.NewUserRepository(storage))
	notificationRepo := newNotificationRepositoryAdapter(sqlite.NewNotificationRepository(storage))
	attendanceRepo := newAttendanceRepositoryAdapter(sqlite.NewAttendanceRepository(storage))

	notificationService := application.NewNotificationService(application.NotificationServiceConfig{
		Notifications: notificationRepo,
		Schedules:     scheduleRepo,
		IDGenerator:   idGenerator,
		Now:           now,
		Location:      location,
		Logger:        logger,
	})
	scheduleService := application.NewScheduleService(application.ScheduleServiceConfig{
		Schedules:             scheduleRepo,
		Users:                 userRepo,
		Attendance:            attendanceRepo,
		Notifier:              notificationService,
		IDGenerator:           idGenerator,
		Now:                   now,
		Location:              location,
		ConflictCheckFailOpen: cfg.ConflictFailOpen,
		Logger:                logger,
	})
	userService := application.NewUserService(userRepo, idGenerator, now, logger)

	gateway := email.NewResendGateway(cfg.ResendAPIKey, cfg.EmailFrom)
	worker := dispatch.NewWorker(dispatch.WorkerConfig{
		Store:     notificationRepo,
		Schedules: scheduleRepo,
		Users:     userRepo,
		Gateway:   gateway,
		Interval:  cfg.DispatchInterval,
		BatchSize: cfg.DispatchBatchSize,
		Now:       now,
		Logger:    logger,
	})
	// Cancellation and reschedule notices bypass the polling delay through the
	// worker's Deliver path.
	notificationService.SetDeliverer(worker)

	worker.Start(ctx)
	defer worker.Stop()

	scheduleHandler := httptransport.NewScheduleHandler(scheduleService, logger)
	userHandler := httptransport.NewUserHandler(userService, logger)
	notificationHandler := httptransport.NewNotificationHandler(notificationService, logger)

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Schedules:     scheduleHandler,
		Users:         userHandler,
		Notifications: notificationHandler,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("trainer scheduler API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

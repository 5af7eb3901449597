package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the trainer
// scheduler service.
type Config struct {
	HTTPPort            int
	SQLiteDSN           string
	ResendAPIKey        string
	EmailFrom           string
	DispatchInterval    time.Duration
	DispatchBatchSize   int
	ConflictFailOpen    bool
	Timezone            string
	LogLevel            string
	ShutdownGracePeriod time.Duration
}

// Load parses configuration values from the current process environment. A
// .env file in the working directory is read first when present; real
// environment variables win over file entries.
//
// The loader applies defaults for optional fields while validating required
// values, collecting every missing or malformed entry into a single error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPPort:            8080,
		SQLiteDSN:           "file:trainer.db?_foreign_keys=on",
		EmailFrom:           "Trainer Scheduler <noreply@localhost>",
		DispatchInterval:    60 * time.Second,
		DispatchBatchSize:   10,
		ConflictFailOpen:    false,
		Timezone:            "UTC",
		LogLevel:            "info",
		ShutdownGracePeriod: 10 * time.Second,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("TRAINER_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "TRAINER_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("TRAINER_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if key := strings.TrimSpace(os.Getenv("TRAINER_RESEND_API_KEY")); key == "" {
		missing = append(missing, "TRAINER_RESEND_API_KEY")
	} else {
		cfg.ResendAPIKey = key
	}

	if from := strings.TrimSpace(os.Getenv("TRAINER_EMAIL_FROM")); from != "" {
		cfg.EmailFrom = from
	}

	if intervalValue := strings.TrimSpace(os.Getenv("TRAINER_DISPATCH_INTERVAL")); intervalValue != "" {
		interval, err := time.ParseDuration(intervalValue)
		if err != nil || interval <= 0 {
			invalid = append(invalid, "TRAINER_DISPATCH_INTERVAL")
		} else {
			cfg.DispatchInterval = interval
		}
	}

	if batchValue := strings.TrimSpace(os.Getenv("TRAINER_DISPATCH_BATCH_SIZE")); batchValue != "" {
		batch, err := strconv.Atoi(batchValue)
		if err != nil || batch <= 0 {
			invalid = append(invalid, "TRAINER_DISPATCH_BATCH_SIZE")
		} else {
			cfg.DispatchBatchSize = batch
		}
	}

	if failOpenValue := strings.TrimSpace(os.Getenv("TRAINER_CONFLICT_FAIL_OPEN")); failOpenValue != "" {
		failOpen, err := strconv.ParseBool(failOpenValue)
		if err != nil {
			invalid = append(invalid, "TRAINER_CONFLICT_FAIL_OPEN")
		} else {
			cfg.ConflictFailOpen = failOpen
		}
	}

	if tz := strings.TrimSpace(os.Getenv("TRAINER_TIMEZONE")); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			invalid = append(invalid, "TRAINER_TIMEZONE")
		} else {
			cfg.Timezone = tz
		}
	}

	if level := strings.TrimSpace(os.Getenv("TRAINER_LOG_LEVEL")); level != "" {
		switch strings.ToLower(level) {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = strings.ToLower(level)
		default:
			invalid = append(invalid, "TRAINER_LOG_LEVEL")
		}
	}

	if graceValue := strings.TrimSpace(os.Getenv("TRAINER_SHUTDOWN_GRACE")); graceValue != "" {
		grace, err := time.ParseDuration(graceValue)
		if err != nil || grace <= 0 {
			invalid = append(invalid, "TRAINER_SHUTDOWN_GRACE")
		} else {
			cfg.ShutdownGracePeriod = grace
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// Location resolves the configured timezone. Call after Load succeeded; the
// zone name has already been validated.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

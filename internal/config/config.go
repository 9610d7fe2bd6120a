package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverSQLite   = "sqlite"
)

type Config struct {
	Env                   string
	HTTPAddr              string
	DatabaseDriver        string
	DatabaseURL           string
	RedisAddr             string
	DiscordToken          string
	DiscordGuildID        string
	DiscordRoomCategoryID string
	RingTimeoutSec        int
	MaxRetries            int
	RetryBackoffMs        int
	RemoteLeaveGraceSec   int
	// AnswerOnConnect counts the caller's session reaching connected as the
	// answer. It is off by default: the caller's own join connects at once,
	// so without it an attempt is answered only when the callee is present
	// in the room or accepts explicitly.
	AnswerOnConnect      bool
	EventLogWriteTimeout int
	MissedSweepSchedule  string
	MissedAfterMin       int
	CallWebhookURL       string
	SessionLockTTLMin    int
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.DatabaseDriver {
	case DatabaseDriverPostgres, DatabaseDriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, sqlite, got %q", c.DatabaseDriver)
	}
	if c.RingTimeoutSec <= 0 {
		return fmt.Errorf("CALL_RING_TIMEOUT_SEC must be positive, got %d", c.RingTimeoutSec)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("CALL_MAX_RETRIES must be positive, got %d", c.MaxRetries)
	}
	if c.RetryBackoffMs < 0 {
		return fmt.Errorf("CALL_RETRY_BACKOFF_MS must not be negative, got %d", c.RetryBackoffMs)
	}
	if c.RemoteLeaveGraceSec < 0 {
		return fmt.Errorf("CALL_REMOTE_LEAVE_GRACE_SEC must not be negative, got %d", c.RemoteLeaveGraceSec)
	}
	if c.EventLogWriteTimeout <= 0 {
		return fmt.Errorf("EVENT_LOG_WRITE_TIMEOUT_SEC must be positive, got %d", c.EventLogWriteTimeout)
	}
	if c.MissedAfterMin < 0 {
		return fmt.Errorf("MISSED_AFTER_MIN must not be negative, got %d", c.MissedAfterMin)
	}
	if c.SessionLockTTLMin <= 0 {
		return fmt.Errorf("SESSION_LOCK_TTL_MIN must be positive, got %d", c.SessionLockTTLMin)
	}
	if c.MissedSweepSchedule != "" {
		if _, err := cron.ParseStandard(c.MissedSweepSchedule); err != nil {
			return fmt.Errorf("MISSED_SWEEP_SCHEDULE is invalid: %w", err)
		}
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDR", value: c.HTTPAddr},
		{name: "DATABASE_DRIVER", value: c.DatabaseDriver},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DISCORD_GUILD_ID", value: c.DiscordGuildID},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) RingTimeout() time.Duration {
	return time.Duration(c.RingTimeoutSec) * time.Second
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

func (c *Config) RemoteLeaveGrace() time.Duration {
	return time.Duration(c.RemoteLeaveGraceSec) * time.Second
}

func (c *Config) EventLogTimeout() time.Duration {
	return time.Duration(c.EventLogWriteTimeout) * time.Second
}

func (c *Config) MissedAfter() time.Duration {
	return time.Duration(c.MissedAfterMin) * time.Minute
}

func (c *Config) SessionLockTTL() time.Duration {
	return time.Duration(c.SessionLockTTLMin) * time.Minute
}

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/lessoncall/internal/config"
)

type envConfig struct {
	Env                   string `env:"ENV" envDefault:"production"`
	HTTPAddr              string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseDriver        string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL           string `env:"DATABASE_URL,required"`
	RedisAddr             string `env:"REDIS_ADDR"`
	DiscordToken          string `env:"DISCORD_TOKEN,required"`
	DiscordGuildID        string `env:"DISCORD_GUILD_ID,required"`
	DiscordRoomCategoryID string `env:"DISCORD_ROOM_CATEGORY_ID"`
	RingTimeoutSec        int    `env:"CALL_RING_TIMEOUT_SEC" envDefault:"40"`
	MaxRetries            int    `env:"CALL_MAX_RETRIES" envDefault:"3"`
	RetryBackoffMs        int    `env:"CALL_RETRY_BACKOFF_MS" envDefault:"500"`
	RemoteLeaveGraceSec   int    `env:"CALL_REMOTE_LEAVE_GRACE_SEC" envDefault:"30"`
	AnswerOnConnect       bool   `env:"CALL_ANSWER_ON_CONNECT" envDefault:"false"`
	EventLogWriteTimeout  int    `env:"EVENT_LOG_WRITE_TIMEOUT_SEC" envDefault:"5"`
	MissedSweepSchedule   string `env:"MISSED_SWEEP_SCHEDULE" envDefault:"*/5 * * * *"`
	MissedAfterMin        int    `env:"MISSED_AFTER_MIN" envDefault:"15"`
	CallWebhookURL        string `env:"CALL_WEBHOOK_URL"`
	SessionLockTTLMin     int    `env:"SESSION_LOCK_TTL_MIN" envDefault:"180"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                   raw.Env,
		HTTPAddr:              raw.HTTPAddr,
		DatabaseDriver:        raw.DatabaseDriver,
		DatabaseURL:           raw.DatabaseURL,
		RedisAddr:             raw.RedisAddr,
		DiscordToken:          raw.DiscordToken,
		DiscordGuildID:        raw.DiscordGuildID,
		DiscordRoomCategoryID: raw.DiscordRoomCategoryID,
		RingTimeoutSec:        raw.RingTimeoutSec,
		MaxRetries:            raw.MaxRetries,
		RetryBackoffMs:        raw.RetryBackoffMs,
		RemoteLeaveGraceSec:   raw.RemoteLeaveGraceSec,
		AnswerOnConnect:       raw.AnswerOnConnect,
		EventLogWriteTimeout:  raw.EventLogWriteTimeout,
		MissedSweepSchedule:   raw.MissedSweepSchedule,
		MissedAfterMin:        raw.MissedAfterMin,
		CallWebhookURL:        raw.CallWebhookURL,
		SessionLockTTLMin:     raw.SessionLockTTLMin,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

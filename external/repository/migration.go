package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The lessons table belongs to the administration app. It is created here
// only when missing so a fresh database can run the service on its own.
var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE lesson_status AS ENUM ('scheduled', 'in_progress', 'completed', 'no_answer', 'missed', 'cancelled'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS lessons (
		id TEXT PRIMARY KEY,
		tutor_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		status lesson_status NOT NULL DEFAULT 'scheduled',
		scheduled_date DATE NOT NULL,
		start_time TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		actual_start_time TIMESTAMPTZ,
		actual_end_time TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lessons_scheduled ON lessons (scheduled_date) WHERE status = 'scheduled'`,
	`DO $$ BEGIN CREATE TYPE call_event_kind AS ENUM ('initiated', 'ringing', 'accepted', 'rejected', 'failed', 'connected', 'disconnected', 'timeout'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS call_events (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		lesson_id TEXT NOT NULL,
		session_id UUID,
		kind call_event_kind NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_events_lesson ON call_events (lesson_id, occurred_at, seq)`,
	`CREATE OR REPLACE FUNCTION call_events_reject_mutation() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'call_events is append-only';
	END
	$$ LANGUAGE plpgsql`,
	`DO $$ BEGIN
		CREATE TRIGGER call_events_append_only BEFORE UPDATE OR DELETE ON call_events
		FOR EACH ROW EXECUTE FUNCTION call_events_reject_mutation();
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

const lessonColumns = `id, tutor_id, student_id, status, scheduled_date, start_time, duration_minutes, actual_start_time, actual_end_time`

func scanLesson(row pgx.Row) (*repository.Lesson, error) {
	var l repository.Lesson
	var status string
	err := row.Scan(&l.ID, &l.TutorID, &l.StudentID, &status, &l.ScheduledDate, &l.StartTime,
		&l.DurationMinutes, &l.ActualStartTime, &l.ActualEndTime)
	if err != nil {
		return nil, err
	}
	l.Status = repository.LessonStatus(status)
	return &l, nil
}

func (r *PostgresRepository) GetLesson(ctx context.Context, lessonID string) (*repository.Lesson, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, lessonID)
	l, err := scanLesson(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrLessonNotFound
		}
		return nil, err
	}
	return l, nil
}

// UpdateLessonStatus keeps the first recorded start time so a reconnect does
// not move it, while the end time always takes the latest value.
func (r *PostgresRepository) UpdateLessonStatus(ctx context.Context, input repository.UpdateLessonStatusInput) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE lessons SET
			status = $2,
			actual_start_time = COALESCE(actual_start_time, $3),
			actual_end_time = COALESCE($4, actual_end_time)
		 WHERE id = $1`,
		input.LessonID, string(input.Status), input.ActualStartTime, input.ActualEndTime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrLessonNotFound
	}
	return nil
}

func (r *PostgresRepository) ListOverdueLessons(ctx context.Context, endedBefore time.Time) ([]repository.Lesson, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+lessonColumns+` FROM lessons
		 WHERE status = 'scheduled' AND scheduled_date <= $1::date
		 ORDER BY scheduled_date ASC, start_time ASC`,
		endedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		if l.EndsAt().Before(endedBefore) {
			list = append(list, *l)
		}
	}
	return list, rows.Err()
}

func (r *PostgresRepository) AppendCallEvent(ctx context.Context, event repository.CallEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode call event metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO call_events (id, lesson_id, session_id, kind, occurred_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.LessonID, event.SessionID, string(event.Kind), event.OccurredAt, b)
	return err
}

func (r *PostgresRepository) ListCallEvents(ctx context.Context, lessonID string) ([]repository.CallEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, lesson_id, session_id::text, kind::text, occurred_at, metadata
		 FROM call_events WHERE lesson_id = $1 ORDER BY occurred_at ASC, seq ASC`,
		lessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.CallEvent
	for rows.Next() {
		var e repository.CallEvent
		var kind string
		var raw []byte
		if err := rows.Scan(&e.ID, &e.LessonID, &e.SessionID, &kind, &e.OccurredAt, &raw); err != nil {
			return nil, err
		}
		e.Kind = repository.CallEventKind(kind)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode call event metadata: %w", err)
			}
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

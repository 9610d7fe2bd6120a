package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/lessoncall/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type lessonRow struct {
	ID              string    `gorm:"primaryKey;size:64"`
	TutorID         string    `gorm:"size:64;not null"`
	StudentID       string    `gorm:"size:64;not null"`
	Status          string    `gorm:"size:16;default:scheduled;index"`
	ScheduledDate   time.Time `gorm:"not null;index"`
	StartTime       string    `gorm:"size:5;not null"`
	DurationMinutes int       `gorm:"not null"`
	ActualStartTime *time.Time
	ActualEndTime   *time.Time
}

func (lessonRow) TableName() string { return "lessons" }

func (r lessonRow) toModel() repository.Lesson {
	return repository.Lesson{
		ID:              r.ID,
		TutorID:         r.TutorID,
		StudentID:       r.StudentID,
		Status:          repository.LessonStatus(r.Status),
		ScheduledDate:   r.ScheduledDate,
		StartTime:       r.StartTime,
		DurationMinutes: r.DurationMinutes,
		ActualStartTime: r.ActualStartTime,
		ActualEndTime:   r.ActualEndTime,
	}
}

type callEventRow struct {
	Seq        uint      `gorm:"primaryKey;autoIncrement"`
	ID         string    `gorm:"size:36;uniqueIndex"`
	LessonID   string    `gorm:"size:64;index:idx_call_events_lesson"`
	SessionID  *string   `gorm:"size:36"`
	Kind       string    `gorm:"size:16;not null"`
	OccurredAt time.Time `gorm:"index:idx_call_events_lesson"`
	Metadata   string    `gorm:"type:text"`
}

func (callEventRow) TableName() string { return "call_events" }

// SQLiteRepository backs local development and single-node deployments.
type SQLiteRepository struct {
	db *gorm.DB
}

func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return db, nil
}

func RunSQLiteMigration(db *gorm.DB) error {
	return db.AutoMigrate(&lessonRow{}, &callEventRow{})
}

func NewSQLiteRepository(db *gorm.DB) repository.Repository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) GetLesson(ctx context.Context, lessonID string) (*repository.Lesson, error) {
	var row lessonRow
	err := r.db.WithContext(ctx).Where("id = ?", lessonID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrLessonNotFound
		}
		return nil, err
	}
	l := row.toModel()
	return &l, nil
}

func (r *SQLiteRepository) UpdateLessonStatus(ctx context.Context, input repository.UpdateLessonStatusInput) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row lessonRow
		if err := tx.Where("id = ?", input.LessonID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrLessonNotFound
			}
			return err
		}
		updates := map[string]any{"status": string(input.Status)}
		if input.ActualStartTime != nil && row.ActualStartTime == nil {
			updates["actual_start_time"] = *input.ActualStartTime
		}
		if input.ActualEndTime != nil {
			updates["actual_end_time"] = *input.ActualEndTime
		}
		return tx.Model(&lessonRow{}).Where("id = ?", input.LessonID).Updates(updates).Error
	})
}

func (r *SQLiteRepository) ListOverdueLessons(ctx context.Context, endedBefore time.Time) ([]repository.Lesson, error) {
	var rows []lessonRow
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_date <= ?", string(repository.LessonStatusScheduled), endedBefore).
		Order("scheduled_date ASC, start_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	var list []repository.Lesson
	for _, row := range rows {
		l := row.toModel()
		if l.EndsAt().Before(endedBefore) {
			list = append(list, l)
		}
	}
	return list, nil
}

func (r *SQLiteRepository) AppendCallEvent(ctx context.Context, event repository.CallEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode call event metadata: %w", err)
	}
	return r.db.WithContext(ctx).Create(&callEventRow{
		ID:         event.ID,
		LessonID:   event.LessonID,
		SessionID:  event.SessionID,
		Kind:       string(event.Kind),
		OccurredAt: event.OccurredAt,
		Metadata:   string(b),
	}).Error
}

func (r *SQLiteRepository) ListCallEvents(ctx context.Context, lessonID string) ([]repository.CallEvent, error) {
	var rows []callEventRow
	err := r.db.WithContext(ctx).
		Where("lesson_id = ?", lessonID).
		Order("occurred_at ASC, seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	list := make([]repository.CallEvent, 0, len(rows))
	for _, row := range rows {
		e := repository.CallEvent{
			ID:         row.ID,
			LessonID:   row.LessonID,
			SessionID:  row.SessionID,
			Kind:       repository.CallEventKind(row.Kind),
			OccurredAt: row.OccurredAt,
		}
		if row.Metadata != "" {
			if err := json.Unmarshal([]byte(row.Metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode call event metadata: %w", err)
			}
		}
		list = append(list, e)
	}
	return list, nil
}

package repository

import (
	"context"
	"errors"
	"time"
)

var ErrLessonNotFound = errors.New("lesson not found")

type UpdateLessonStatusInput struct {
	LessonID        string
	Status          LessonStatus
	ActualStartTime *time.Time
	ActualEndTime   *time.Time
}

type ScheduleRepository interface {
	GetLesson(ctx context.Context, lessonID string) (*Lesson, error)
	UpdateLessonStatus(ctx context.Context, input UpdateLessonStatusInput) error
	ListOverdueLessons(ctx context.Context, endedBefore time.Time) ([]Lesson, error)
}

// CallEventRepository is append-only: events are never updated or deleted.
type CallEventRepository interface {
	AppendCallEvent(ctx context.Context, event CallEvent) error
	ListCallEvents(ctx context.Context, lessonID string) ([]CallEvent, error)
}

type Repository interface {
	ScheduleRepository
	CallEventRepository
}

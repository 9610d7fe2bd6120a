package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/lessoncall/internal/repository"
)

// Reconciler keeps the lesson status in line with call outcomes. Every write
// is idempotent so a repeated transition is harmless.
type Reconciler struct {
	repo repository.ScheduleRepository
}

func NewReconciler(repo repository.ScheduleRepository) *Reconciler {
	return &Reconciler{repo: repo}
}

func (r *Reconciler) MarkInProgress(ctx context.Context, lessonID string, startedAt time.Time) error {
	return r.update(ctx, repository.UpdateLessonStatusInput{
		LessonID:        lessonID,
		Status:          repository.LessonStatusInProgress,
		ActualStartTime: &startedAt,
	})
}

func (r *Reconciler) MarkCompleted(ctx context.Context, lessonID string, endedAt time.Time) error {
	return r.update(ctx, repository.UpdateLessonStatusInput{
		LessonID:      lessonID,
		Status:        repository.LessonStatusCompleted,
		ActualEndTime: &endedAt,
	})
}

func (r *Reconciler) MarkNoAnswer(ctx context.Context, lessonID string) error {
	return r.update(ctx, repository.UpdateLessonStatusInput{
		LessonID: lessonID,
		Status:   repository.LessonStatusNoAnswer,
	})
}

func (r *Reconciler) MarkMissed(ctx context.Context, lessonID string) error {
	return r.update(ctx, repository.UpdateLessonStatusInput{
		LessonID: lessonID,
		Status:   repository.LessonStatusMissed,
	})
}

func (r *Reconciler) update(ctx context.Context, input repository.UpdateLessonStatusInput) error {
	if err := r.repo.UpdateLessonStatus(ctx, input); err != nil {
		slog.Error("failed to update lesson status",
			"error", err,
			"lesson_id", input.LessonID,
			"status", string(input.Status),
		)
		return fmt.Errorf("failed to update lesson %s to %s: %w", input.LessonID, input.Status, err)
	}
	slog.Info("lesson status updated", "lesson_id", input.LessonID, "status", string(input.Status))
	return nil
}

package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/lessoncall/internal/repository"
)

type mockScheduleRepo struct {
	mu      sync.Mutex
	updates []repository.UpdateLessonStatusInput
	overdue []repository.Lesson
	cutoff  time.Time
	failFor string
	listErr error
}

func (m *mockScheduleRepo) GetLesson(ctx context.Context, lessonID string) (*repository.Lesson, error) {
	return nil, repository.ErrLessonNotFound
}

func (m *mockScheduleRepo) UpdateLessonStatus(ctx context.Context, input repository.UpdateLessonStatusInput) error {
	if input.LessonID == m.failFor {
		return errors.New("write failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, input)
	return nil
}

func (m *mockScheduleRepo) ListOverdueLessons(ctx context.Context, endedBefore time.Time) ([]repository.Lesson, error) {
	m.cutoff = endedBefore
	return m.overdue, m.listErr
}

func TestReconciler_MarkInProgressSetsStart(t *testing.T) {
	repo := &mockScheduleRepo{}
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	if err := NewReconciler(repo).MarkInProgress(context.Background(), "lesson-1", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := repo.updates[0]
	if got.Status != repository.LessonStatusInProgress || got.ActualStartTime == nil || !got.ActualStartTime.Equal(at) {
		t.Fatalf("unexpected update: %+v", got)
	}
	if got.ActualEndTime != nil {
		t.Fatal("expected end time untouched")
	}
}

func TestReconciler_MarkCompletedSetsEnd(t *testing.T) {
	repo := &mockScheduleRepo{}
	at := time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)
	if err := NewReconciler(repo).MarkCompleted(context.Background(), "lesson-1", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := repo.updates[0]
	if got.Status != repository.LessonStatusCompleted || got.ActualEndTime == nil {
		t.Fatalf("unexpected update: %+v", got)
	}
}

func TestReconciler_WrapsError(t *testing.T) {
	repo := &mockScheduleRepo{failFor: "lesson-1"}
	if err := NewReconciler(repo).MarkNoAnswer(context.Background(), "lesson-1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSweeper_RunOnceMarksOverdueLessons(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	repo := &mockScheduleRepo{
		overdue: []repository.Lesson{
			{ID: "a", Status: repository.LessonStatusScheduled},
			{ID: "b", Status: repository.LessonStatusScheduled},
			{ID: "c", Status: repository.LessonStatusCompleted},
		},
		failFor: "b",
	}
	s := NewSweeper(repo, NewReconciler(repo), 15*time.Minute)
	s.now = func() time.Time { return now }

	n, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 lesson marked, got %d", n)
	}
	if !repo.cutoff.Equal(now.Add(-15 * time.Minute)) {
		t.Fatalf("unexpected cutoff: %v", repo.cutoff)
	}
	if repo.updates[0].LessonID != "a" || repo.updates[0].Status != repository.LessonStatusMissed {
		t.Fatalf("unexpected update: %+v", repo.updates[0])
	}
}

func TestSweeper_RunOnceListError(t *testing.T) {
	repo := &mockScheduleRepo{listErr: errors.New("db down")}
	s := NewSweeper(repo, NewReconciler(repo), time.Minute)
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSweeper_StartRejectsInvalidSchedule(t *testing.T) {
	repo := &mockScheduleRepo{}
	s := NewSweeper(repo, NewReconciler(repo), time.Minute)
	if err := s.Start("every five minutes"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSweeper_StartEmptyScheduleDisabled(t *testing.T) {
	repo := &mockScheduleRepo{}
	s := NewSweeper(repo, NewReconciler(repo), time.Minute)
	if err := s.Start(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Stop()
}

package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/robfig/cron/v3"
)

const sweepTimeout = time.Minute

// Sweeper marks lessons that were never called as missed once their end time
// is older than the grace period.
type Sweeper struct {
	repo        repository.ScheduleRepository
	reconciler  *Reconciler
	missedAfter time.Duration
	now         func() time.Time
	cron        *cron.Cron
}

func NewSweeper(repo repository.ScheduleRepository, reconciler *Reconciler, missedAfter time.Duration) *Sweeper {
	return &Sweeper{
		repo:        repo,
		reconciler:  reconciler,
		missedAfter: missedAfter,
		now:         time.Now,
	}
}

// RunOnce returns the number of lessons marked missed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.missedAfter)
	lessons, err := s.repo.ListOverdueLessons(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue lessons: %w", err)
	}
	marked := 0
	for _, l := range lessons {
		if l.Status != repository.LessonStatusScheduled {
			continue
		}
		if err := s.reconciler.MarkMissed(ctx, l.ID); err != nil {
			continue
		}
		marked++
	}
	if marked > 0 {
		slog.Info("missed lessons swept", "count", marked, "cutoff", cutoff)
	}
	return marked, nil
}

// Start schedules RunOnce with a standard 5-field cron expression. An empty
// schedule disables the sweep.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			slog.Error("missed lesson sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	slog.Info("missed lesson sweep scheduled", "schedule", schedule)
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/google/uuid"
)

const DefaultWriteTimeout = 5 * time.Second

// Logger appends call events on a best-effort basis. Record never fails or
// waits on storage: events are written in order by a background worker, and
// storage errors are logged and dropped.
type Logger struct {
	repo         repository.CallEventRepository
	now          func() time.Time
	writeTimeout time.Duration

	mu      sync.Mutex
	idle    *sync.Cond
	queue   []pendingEvent
	running bool
}

type pendingEvent struct {
	ctx   context.Context
	event repository.CallEvent
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.writeTimeout = d
		}
	}
}

func NewLogger(repo repository.CallEventRepository, opts ...Option) *Logger {
	l := &Logger{
		repo:         repo,
		now:          time.Now,
		writeTimeout: DefaultWriteTimeout,
	}
	l.idle = sync.NewCond(&l.mu)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) Record(ctx context.Context, lessonID string, kind repository.CallEventKind, sessionID string, metadata map[string]any) {
	if !kind.Valid() {
		slog.Warn("skip call event with unknown kind", "lesson_id", lessonID, "kind", string(kind))
		return
	}
	event := repository.CallEvent{
		ID:         uuid.NewString(),
		LessonID:   lessonID,
		Kind:       kind,
		OccurredAt: l.now().UTC(),
		Metadata:   metadata,
	}
	if sessionID != "" {
		event.SessionID = &sessionID
	}

	l.mu.Lock()
	l.queue = append(l.queue, pendingEvent{ctx: context.WithoutCancel(ctx), event: event})
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()
	go l.work()
}

func (l *Logger) work() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.idle.Broadcast()
			l.mu.Unlock()
			return
		}
		p := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.write(p.ctx, p.event)
	}
}

func (l *Logger) write(ctx context.Context, event repository.CallEvent) {
	sessionID := ""
	if event.SessionID != nil {
		sessionID = *event.SessionID
	}
	writeCtx, cancel := context.WithTimeout(ctx, l.writeTimeout)
	defer cancel()
	if err := l.repo.AppendCallEvent(writeCtx, event); err != nil {
		slog.Error("failed to record call event",
			"error", err,
			"lesson_id", event.LessonID,
			"session_id", sessionID,
			"kind", string(event.Kind),
		)
		return
	}
	slog.Debug("call event recorded", "lesson_id", event.LessonID, "session_id", sessionID, "kind", string(event.Kind))
}

// Flush blocks until every recorded event has been written or dropped.
func (l *Logger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.running {
		l.idle.Wait()
	}
}

func (l *Logger) Shutdown() error {
	l.Flush()
	return nil
}

func (l *Logger) List(ctx context.Context, lessonID string) ([]repository.CallEvent, error) {
	return l.repo.ListCallEvents(ctx, lessonID)
}

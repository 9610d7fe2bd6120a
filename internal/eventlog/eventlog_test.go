package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/lessoncall/internal/repository"
)

type mockCallEventRepo struct {
	mu     sync.Mutex
	events []repository.CallEvent
	err    error
	block  bool
	gate   chan struct{}
}

func (m *mockCallEventRepo) AppendCallEvent(ctx context.Context, event repository.CallEvent) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockCallEventRepo) stored() []repository.CallEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.CallEvent{}, m.events...)
}

func (m *mockCallEventRepo) ListCallEvents(ctx context.Context, lessonID string) ([]repository.CallEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.CallEvent
	for _, e := range m.events {
		if e.LessonID == lessonID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRecord_StampsIDAndTime(t *testing.T) {
	repo := &mockCallEventRepo{}
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.FixedZone("JST", 9*60*60))
	logger := NewLogger(repo, WithClock(func() time.Time { return at }))

	logger.Record(context.Background(), "lesson-1", repository.CallEventConnected, "session-1", map[string]any{"attempt": 1})
	logger.Flush()

	events := repo.stored()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Fatal("expected generated id")
	}
	if !e.OccurredAt.Equal(at) || e.OccurredAt.Location() != time.UTC {
		t.Fatalf("unexpected occurred_at: %v", e.OccurredAt)
	}
	if e.SessionID == nil || *e.SessionID != "session-1" {
		t.Fatalf("unexpected session id: %v", e.SessionID)
	}
}

func TestRecord_EmptySessionIDIsNull(t *testing.T) {
	repo := &mockCallEventRepo{}
	logger := NewLogger(repo)
	logger.Record(context.Background(), "lesson-1", repository.CallEventInitiated, "", nil)
	logger.Flush()
	if repo.stored()[0].SessionID != nil {
		t.Fatal("expected nil session id")
	}
}

func TestRecord_SwallowsStorageError(t *testing.T) {
	repo := &mockCallEventRepo{err: errors.New("db down")}
	logger := NewLogger(repo)
	logger.Record(context.Background(), "lesson-1", repository.CallEventFailed, "s", nil)
	logger.Flush()
	if len(repo.stored()) != 0 {
		t.Fatal("expected nothing stored")
	}
}

func TestRecord_SkipsUnknownKind(t *testing.T) {
	repo := &mockCallEventRepo{}
	logger := NewLogger(repo)
	logger.Record(context.Background(), "lesson-1", repository.CallEventKind("answered"), "", nil)
	logger.Flush()
	if len(repo.stored()) != 0 {
		t.Fatal("expected unknown kind to be skipped")
	}
}

func TestRecord_BoundedByWriteTimeout(t *testing.T) {
	repo := &mockCallEventRepo{block: true}
	logger := NewLogger(repo, WithWriteTimeout(20*time.Millisecond))

	logger.Record(context.Background(), "lesson-1", repository.CallEventTimeout, "", nil)
	done := make(chan struct{})
	go func() {
		logger.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write was not abandoned after its timeout")
	}
}

func TestRecord_DoesNotWaitForSlowStorage(t *testing.T) {
	repo := &mockCallEventRepo{gate: make(chan struct{})}
	logger := NewLogger(repo)

	start := time.Now()
	logger.Record(context.Background(), "lesson-1", repository.CallEventRinging, "", nil)
	logger.Record(context.Background(), "lesson-1", repository.CallEventTimeout, "", nil)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("record waited on storage for %v", elapsed)
	}
	if len(repo.stored()) != 0 {
		t.Fatal("expected writes to still be pending")
	}

	close(repo.gate)
	logger.Flush()
	events := repo.stored()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != repository.CallEventRinging || events[1].Kind != repository.CallEventTimeout {
		t.Fatalf("expected events in record order, got %s then %s", events[0].Kind, events[1].Kind)
	}
}

func TestShutdown_FlushesPendingEvents(t *testing.T) {
	repo := &mockCallEventRepo{}
	logger := NewLogger(repo)
	for i := 0; i < 10; i++ {
		logger.Record(context.Background(), "lesson-1", repository.CallEventRinging, "", map[string]any{"attempt": i})
	}
	if err := logger.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.stored()) != 10 {
		t.Fatalf("expected 10 events after shutdown, got %d", len(repo.stored()))
	}
}

func TestRecord_IgnoresCallerCancellation(t *testing.T) {
	repo := &mockCallEventRepo{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	logger := NewLogger(repo)
	logger.Record(ctx, "lesson-1", repository.CallEventDisconnected, "s", nil)
	logger.Flush()
	if len(repo.stored()) != 1 {
		t.Fatal("expected event to be stored after caller cancellation")
	}
}

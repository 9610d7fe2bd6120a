package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/foxseedlab/lessoncall/internal/media"
	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/foxseedlab/lessoncall/internal/webhook"
)

type fakeConn struct{}

func (fakeConn) SetLocalAudio(ctx context.Context, enabled bool) error { return nil }
func (fakeConn) SetLocalVideo(ctx context.Context, enabled bool) error { return nil }
func (fakeConn) Leave(ctx context.Context) error                       { return nil }

// fakeProvider hands out one room per provision and echoes joins to every
// handler already in that room, like a real media service.
type fakeProvider struct {
	mu         sync.Mutex
	provisions int
	rooms      map[string][]media.EventHandler
	destroyed  []media.RoomRef
	seq        uint64
	// exclusive refuses a second join of the same room.
	exclusive bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{rooms: make(map[string][]media.EventHandler)}
}

func (p *fakeProvider) Provision(ctx context.Context, req media.ProvisionRequest) (media.RoomRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisions++
	id := req.LessonID + "-room"
	return media.RoomRef{URL: "https://rooms.example/" + id, RoomID: id}, nil
}

func (p *fakeProvider) Join(ctx context.Context, room media.RoomRef, displayName string, onEvent media.EventHandler) (media.Conn, error) {
	p.mu.Lock()
	if p.exclusive && len(p.rooms[room.RoomID]) > 0 {
		p.mu.Unlock()
		return nil, errors.New("already joined room " + room.RoomID)
	}
	others := append([]media.EventHandler(nil), p.rooms[room.RoomID]...)
	p.rooms[room.RoomID] = append(p.rooms[room.RoomID], onEvent)
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	self := media.Participant{ID: displayName, DisplayName: displayName, Audio: true, Video: true}
	onEvent(media.Event{Type: media.EventJoined, Seq: seq, Participant: self})
	for _, h := range others {
		remote := self
		h(media.Event{Type: media.EventParticipantJoined, Seq: seq, Participant: remote})
	}
	return fakeConn{}, nil
}

func (p *fakeProvider) Destroy(ctx context.Context, room media.RoomRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = append(p.destroyed, room)
	delete(p.rooms, room.RoomID)
	return nil
}

func (p *fakeProvider) destroyedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.destroyed)
}

type fakeRecorder struct {
	mu    sync.Mutex
	kinds []repository.CallEventKind
}

func (r *fakeRecorder) Record(ctx context.Context, lessonID string, kind repository.CallEventKind, sessionID string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

type fakeLessons struct {
	mu       sync.Mutex
	lesson   repository.Lesson
	statuses []repository.LessonStatus
}

func newFakeLessons() *fakeLessons {
	return &fakeLessons{lesson: repository.Lesson{
		ID:              "lesson-1",
		TutorID:         "tutor-1",
		StudentID:       "student-1",
		Status:          repository.LessonStatusScheduled,
		ScheduledDate:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		StartTime:       "10:00",
		DurationMinutes: 60,
	}}
}

func (l *fakeLessons) GetLesson(ctx context.Context, lessonID string) (*repository.Lesson, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lessonID != l.lesson.ID {
		return nil, repository.ErrLessonNotFound
	}
	lesson := l.lesson
	return &lesson, nil
}

func (l *fakeLessons) UpdateLessonStatus(ctx context.Context, input repository.UpdateLessonStatusInput) error {
	return nil
}

func (l *fakeLessons) ListOverdueLessons(ctx context.Context, endedBefore time.Time) ([]repository.Lesson, error) {
	return nil, nil
}

func (l *fakeLessons) MarkInProgress(ctx context.Context, lessonID string, startedAt time.Time) error {
	return l.mark(repository.LessonStatusInProgress)
}

func (l *fakeLessons) MarkCompleted(ctx context.Context, lessonID string, endedAt time.Time) error {
	return l.mark(repository.LessonStatusCompleted)
}

func (l *fakeLessons) MarkNoAnswer(ctx context.Context, lessonID string) error {
	return l.mark(repository.LessonStatusNoAnswer)
}

func (l *fakeLessons) marked() []repository.LessonStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]repository.LessonStatus{}, l.statuses...)
}

func (l *fakeLessons) mark(s repository.LessonStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
	return nil
}

type fakeWebhook struct {
	sent chan webhook.CallNotification
}

func newFakeWebhook() *fakeWebhook {
	return &fakeWebhook{sent: make(chan webhook.CallNotification, 16)}
}

func (w *fakeWebhook) SendCallNotification(ctx context.Context, n webhook.CallNotification) error {
	w.sent <- n
	return nil
}

type fakeGauge struct {
	mu     sync.Mutex
	active int
}

func (g *fakeGauge) SetActiveCalls(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = n
}

func (g *fakeGauge) WebhookFailed() {}

func (g *fakeGauge) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

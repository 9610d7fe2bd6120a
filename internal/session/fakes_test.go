package session

import (
	"context"
	"sync"
	"time"

	"github.com/foxseedlab/lessoncall/internal/media"
	"github.com/foxseedlab/lessoncall/internal/repository"
)

type fakeConn struct {
	mu         sync.Mutex
	leaves     int
	leaveErr   error
	audioCalls []bool
	videoCalls []bool
	audioErr   error
	videoErr   error
	audioGate  chan struct{}
}

func (c *fakeConn) SetLocalAudio(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	c.audioCalls = append(c.audioCalls, enabled)
	gate := c.audioGate
	err := c.audioErr
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (c *fakeConn) SetLocalVideo(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoCalls = append(c.videoCalls, enabled)
	return c.videoErr
}

func (c *fakeConn) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves++
	return c.leaveErr
}

func (c *fakeConn) leaveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaves
}

func (c *fakeConn) audioCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audioCalls)
}

type fakeProvider struct {
	mu            sync.Mutex
	room          media.RoomRef
	provisionErr  error
	provisionGate chan struct{}
	joinErr       error
	// onJoin runs inside Join before it returns, with the session's handler.
	onJoin      func(emit media.EventHandler)
	provisioned int
	joined      []media.RoomRef
	destroyed   []media.RoomRef
	handlers    []media.EventHandler
	conn        *fakeConn
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		room: media.RoomRef{URL: "https://rooms.example/lesson-1", RoomID: "room-1"},
		conn: &fakeConn{},
	}
}

func (p *fakeProvider) Provision(ctx context.Context, req media.ProvisionRequest) (media.RoomRef, error) {
	p.mu.Lock()
	gate := p.provisionGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisioned++
	if p.provisionErr != nil {
		return media.RoomRef{}, p.provisionErr
	}
	return p.room, nil
}

func (p *fakeProvider) Join(ctx context.Context, room media.RoomRef, displayName string, onEvent media.EventHandler) (media.Conn, error) {
	p.mu.Lock()
	p.joined = append(p.joined, room)
	p.handlers = append(p.handlers, onEvent)
	onJoin := p.onJoin
	joinErr := p.joinErr
	conn := p.conn
	p.mu.Unlock()

	onEvent(media.Event{
		Type:        media.EventJoined,
		Seq:         1,
		Participant: media.Participant{ID: displayName, DisplayName: displayName, Audio: true, Video: true},
	})
	if onJoin != nil {
		onJoin(onEvent)
	}
	if joinErr != nil {
		return nil, joinErr
	}
	return conn, nil
}

func (p *fakeProvider) Destroy(ctx context.Context, room media.RoomRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = append(p.destroyed, room)
	return nil
}

func (p *fakeProvider) emit(ev media.Event) {
	p.mu.Lock()
	h := p.handlers[len(p.handlers)-1]
	p.mu.Unlock()
	h(ev)
}

func (p *fakeProvider) handler(i int) media.EventHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handlers[i]
}

func (p *fakeProvider) destroyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.destroyed)
}

type recordedEvent struct {
	kind      repository.CallEventKind
	sessionID string
	metadata  map[string]any
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) Record(ctx context.Context, lessonID string, kind repository.CallEventKind, sessionID string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: kind, sessionID: sessionID, metadata: metadata})
}

func (r *fakeRecorder) kinds() []repository.CallEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.CallEventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.kind)
	}
	return out
}

func (r *fakeRecorder) count(kind repository.CallEventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *fakeRecorder) find(kind repository.CallEventKind) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.kind == kind {
			return e, true
		}
	}
	return recordedEvent{}, false
}

type fakeLessons struct {
	mu         sync.Mutex
	inProgress []time.Time
	completed  []time.Time
}

func (l *fakeLessons) MarkInProgress(ctx context.Context, lessonID string, startedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inProgress = append(l.inProgress, startedAt)
	return nil
}

func (l *fakeLessons) MarkCompleted(ctx context.Context, lessonID string, endedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, endedAt)
	return nil
}

func (l *fakeLessons) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inProgress), len(l.completed)
}

type manualTimers struct {
	mu  sync.Mutex
	fns []func()
}

func (m *manualTimers) after(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.fns)
	m.fns = append(m.fns, f)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.fns[idx] == nil {
			return false
		}
		m.fns[idx] = nil
		return true
	}
}

func (m *manualTimers) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.fns {
		if f != nil {
			n++
		}
	}
	return n
}

func (m *manualTimers) fireAll() {
	m.mu.Lock()
	var due []func()
	for i, f := range m.fns {
		if f != nil {
			due = append(due, f)
			m.fns[i] = nil
		}
	}
	m.mu.Unlock()
	for _, f := range due {
		f()
	}
}

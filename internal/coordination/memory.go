package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/foxseedlab/lessoncall/internal/media"
)

type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) Acquire(ctx context.Context, lessonID, partyID string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := GuardKey(lessonID, partyID)
	now := g.now()
	if expires, ok := g.held[key]; ok && now.Before(expires) {
		return false, nil
	}
	g.held[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, lessonID, partyID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, GuardKey(lessonID, partyID))
	return nil
}

type publishedRoom struct {
	room    media.RoomRef
	expires time.Time
}

type MemoryRoomDirectory struct {
	mu    sync.Mutex
	rooms map[string]publishedRoom
	now   func() time.Time
}

func NewMemoryRoomDirectory() *MemoryRoomDirectory {
	return &MemoryRoomDirectory{rooms: make(map[string]publishedRoom), now: time.Now}
}

func (d *MemoryRoomDirectory) Publish(ctx context.Context, lessonID string, room media.RoomRef, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[lessonID] = publishedRoom{room: room, expires: d.now().Add(ttl)}
	return nil
}

func (d *MemoryRoomDirectory) Lookup(ctx context.Context, lessonID string) (media.RoomRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.rooms[lessonID]
	if !ok || !d.now().Before(p.expires) {
		return media.RoomRef{}, ErrRoomNotPublished
	}
	return p.room, nil
}

func (d *MemoryRoomDirectory) Remove(ctx context.Context, lessonID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, lessonID)
	return nil
}

type MemorySignaler struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(Signal)
}

func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{subs: make(map[string]map[int]func(Signal))}
}

func (s *MemorySignaler) Send(ctx context.Context, sig Signal) error {
	s.mu.Lock()
	var fns []func(Signal)
	for _, fn := range s.subs[sig.LessonID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(sig)
	}
	return nil
}

func (s *MemorySignaler) Subscribe(ctx context.Context, lessonID string, fn func(Signal)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	if s.subs[lessonID] == nil {
		s.subs[lessonID] = make(map[int]func(Signal))
	}
	s.subs[lessonID][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[lessonID], id)
	}, nil
}

func GuardKey(lessonID, partyID string) string {
	return "lessoncall:guard:" + lessonID + ":" + partyID
}

func RoomKey(lessonID string) string {
	return "lessoncall:room:" + lessonID
}

func SignalChannel(lessonID string) string {
	return "lessoncall:signal:" + lessonID
}

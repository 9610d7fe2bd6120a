package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/lessoncall/internal/coordination"
	"github.com/foxseedlab/lessoncall/internal/dialer"
	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/foxseedlab/lessoncall/internal/session"
	"github.com/foxseedlab/lessoncall/internal/webhook"
)

var (
	ErrCallNotFound   = errors.New("no call for this lesson and party")
	ErrCallActive     = errors.New("a call is already active for this lesson and party")
	ErrNotParticipant = errors.New("party is not a participant of this lesson")
	ErrLessonClosed   = errors.New("lesson can no longer be called")
	ErrNotInitiator   = errors.New("operation is only available to the calling party")
)

const webhookTimeout = 15 * time.Second

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleCallee    Role = "callee"
)

type Gauge interface {
	SetActiveCalls(n int)
	WebhookFailed()
}

type nopGauge struct{}

func (nopGauge) SetActiveCalls(int) {}
func (nopGauge) WebhookFailed()     {}

// View is the observable state of one party's call.
type View struct {
	Role    Role                `json:"role"`
	Session session.CallSession `json:"session"`
	Dialer  *dialer.State       `json:"dialer,omitempty"`
}

type Deps struct {
	Lessons  repository.ScheduleRepository
	Sessions *session.Factory
	Dialers  *dialer.Factory
	Guard    coordination.Guard
	Rooms    coordination.RoomDirectory
	Signals  coordination.Signaler
	Webhook  webhook.Sender
	Gauge    Gauge
	// LockTTL bounds how long a crashed process can hold a lesson.
	LockTTL time.Duration
}

// Manager keeps one controller per lesson and party. A party is either the
// initiator, who provisions the room and rings, or the callee, who joins the
// room the initiator published.
type Manager struct {
	deps Deps

	mu    sync.Mutex
	calls map[string]*controller
}

type controller struct {
	key       string
	lessonID  string
	partyID   string
	otherID   string
	role      Role
	orch      *session.Orchestrator
	dial      *dialer.Initiator
	cancel    context.CancelFunc
	unsub     func()
	published uint64
	accepted  bool
}

func NewManager(deps Deps) *Manager {
	if deps.Gauge == nil {
		deps.Gauge = nopGauge{}
	}
	return &Manager{
		deps:  deps,
		calls: make(map[string]*controller),
	}
}

func callKey(lessonID, partyID string) string {
	return lessonID + ":" + partyID
}

// Dial starts ringing the other participant of the lesson on behalf of
// initiatorID.
func (m *Manager) Dial(ctx context.Context, lessonID, initiatorID string) (View, error) {
	calleeID, err := m.counterpart(ctx, lessonID, initiatorID)
	if err != nil {
		return View{}, err
	}
	c, err := m.register(ctx, lessonID, initiatorID, calleeID, RoleInitiator)
	if err != nil {
		return View{}, err
	}

	c.dial = m.deps.Dialers.New(lessonID, c.orch)
	c.orch.Subscribe(func(snap session.CallSession) { m.publishRoom(c, snap) })
	c.orch.OnEnded(func(snap session.CallSession) {
		m.notify(webhook.EventCallEnded, c, snap, 0)
		m.close(c)
	})
	c.dial.OnConnected(func() {
		m.notify(webhook.EventCallConnected, c, c.orch.Snapshot(), 0)
	})
	c.dial.OnNoAnswer(func() {
		m.notify(webhook.EventCallNoAnswer, c, c.orch.Snapshot(), c.dial.State().AttemptsUsed)
		m.close(c)
	})

	unsub, err := m.deps.Signals.Subscribe(ctx, lessonID, func(sig coordination.Signal) {
		if sig.PartyID != "" && sig.PartyID != calleeID {
			return
		}
		switch sig.Kind {
		case coordination.SignalAccept:
			c.dial.Answer(context.Background())
		case coordination.SignalReject:
			c.dial.Reject(context.Background())
		}
	})
	if err != nil {
		m.close(c)
		return View{}, fmt.Errorf("failed to subscribe to callee signals: %w", err)
	}
	m.mu.Lock()
	c.unsub = unsub
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	c.cancel = cancel
	m.mu.Unlock()
	go c.dial.Run(runCtx)

	if err := c.dial.Start(ctx); err != nil {
		m.close(c)
		return View{}, err
	}
	slog.InfoContext(ctx, "call dialed", "lesson_id", lessonID, "initiator_id", initiatorID, "callee_id", calleeID)
	return c.view(), nil
}

// Join accepts a ringing call: it joins the room the initiator published and
// signals the acceptance once the callee is connected. A join that fails
// never reaches the initiator as an answer.
func (m *Manager) Join(ctx context.Context, lessonID, partyID string) (View, error) {
	otherID, err := m.counterpart(ctx, lessonID, partyID)
	if err != nil {
		return View{}, err
	}
	room, err := m.deps.Rooms.Lookup(ctx, lessonID)
	if err != nil {
		return View{}, err
	}
	c, err := m.register(ctx, lessonID, partyID, otherID, RoleCallee)
	if err != nil {
		return View{}, err
	}
	c.orch.OnEnded(func(session.CallSession) { m.close(c) })
	c.orch.Subscribe(func(snap session.CallSession) {
		switch snap.State {
		case session.StateConnected:
			m.accept(c)
		case session.StateFailed:
			m.close(c)
		}
	})

	if err := c.orch.Start(ctx, &room); err != nil {
		m.close(c)
		return View{}, err
	}
	slog.InfoContext(ctx, "call joined", "lesson_id", lessonID, "party_id", partyID, "room_id", room.RoomID)
	return c.view(), nil
}

// Decline tells the initiator that the callee will not pick up.
func (m *Manager) Decline(ctx context.Context, lessonID, partyID string) error {
	if _, err := m.counterpart(ctx, lessonID, partyID); err != nil {
		return err
	}
	return m.deps.Signals.Send(ctx, coordination.Signal{LessonID: lessonID, Kind: coordination.SignalReject, PartyID: partyID})
}

func (m *Manager) Get(lessonID, partyID string) (View, error) {
	c, err := m.lookup(lessonID, partyID)
	if err != nil {
		return View{}, err
	}
	return c.view(), nil
}

func (m *Manager) Retry(ctx context.Context, lessonID, partyID string) (View, error) {
	c, err := m.initiatorCall(lessonID, partyID)
	if err != nil {
		return View{}, err
	}
	if err := c.dial.Retry(ctx); err != nil {
		return View{}, err
	}
	return c.view(), nil
}

func (m *Manager) NoAnswer(ctx context.Context, lessonID, partyID string) error {
	c, err := m.initiatorCall(lessonID, partyID)
	if err != nil {
		return err
	}
	return c.dial.MarkNoAnswer(ctx)
}

// Cancel stops ringing without using up the attempt and drops the call.
func (m *Manager) Cancel(ctx context.Context, lessonID, partyID string) error {
	c, err := m.initiatorCall(lessonID, partyID)
	if err != nil {
		return err
	}
	c.dial.Cancel(ctx)
	m.close(c)
	return nil
}

// End hangs up from any state and drops the call.
func (m *Manager) End(ctx context.Context, lessonID, partyID string) error {
	c, err := m.lookup(lessonID, partyID)
	if err != nil {
		return err
	}
	if c.dial != nil {
		c.dial.Cancel(ctx)
	}
	c.orch.End(ctx)
	m.close(c)
	return nil
}

func (m *Manager) ToggleMic(ctx context.Context, lessonID, partyID string) (View, error) {
	c, err := m.lookup(lessonID, partyID)
	if err != nil {
		return View{}, err
	}
	c.orch.ToggleMic(ctx)
	return c.view(), nil
}

func (m *Manager) ToggleCamera(ctx context.Context, lessonID, partyID string) (View, error) {
	c, err := m.lookup(lessonID, partyID)
	if err != nil {
		return View{}, err
	}
	c.orch.ToggleCamera(ctx)
	return c.view(), nil
}

// Close ends every call. It is used on shutdown.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	all := make([]*controller, 0, len(m.calls))
	for _, c := range m.calls {
		all = append(all, c)
	}
	m.mu.Unlock()
	for _, c := range all {
		if c.dial != nil {
			c.dial.Cancel(ctx)
		}
		c.orch.End(ctx)
		m.close(c)
		c.orch.Drain()
	}
	slog.InfoContext(ctx, "all calls closed", "count", len(all))
}

func (m *Manager) counterpart(ctx context.Context, lessonID, partyID string) (string, error) {
	lesson, err := m.deps.Lessons.GetLesson(ctx, lessonID)
	if err != nil {
		return "", err
	}
	switch lesson.Status {
	case repository.LessonStatusCompleted, repository.LessonStatusCancelled:
		return "", ErrLessonClosed
	}
	switch partyID {
	case lesson.TutorID:
		return lesson.StudentID, nil
	case lesson.StudentID:
		return lesson.TutorID, nil
	default:
		return "", ErrNotParticipant
	}
}

func (m *Manager) register(ctx context.Context, lessonID, partyID, otherID string, role Role) (*controller, error) {
	key := callKey(lessonID, partyID)
	m.mu.Lock()
	_, exists := m.calls[key]
	m.mu.Unlock()
	if exists {
		return nil, ErrCallActive
	}

	ok, err := m.deps.Guard.Acquire(ctx, lessonID, partyID, m.deps.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCallActive
	}

	params := session.Params{
		LessonID:    lessonID,
		InitiatorID: partyID,
		CalleeID:    otherID,
		DisplayName: partyID,
		AwaitAnswer: role == RoleInitiator,
	}
	c := &controller{
		key:      key,
		lessonID: lessonID,
		partyID:  partyID,
		otherID:  otherID,
		role:     role,
		orch:     m.deps.Sessions.New(params),
	}

	m.mu.Lock()
	if _, exists := m.calls[key]; exists {
		m.mu.Unlock()
		_ = m.deps.Guard.Release(ctx, lessonID, partyID)
		return nil, ErrCallActive
	}
	m.calls[key] = c
	n := len(m.calls)
	m.mu.Unlock()
	m.deps.Gauge.SetActiveCalls(n)
	return c, nil
}

func (m *Manager) lookup(lessonID, partyID string) (*controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callKey(lessonID, partyID)]
	if !ok {
		return nil, ErrCallNotFound
	}
	return c, nil
}

func (m *Manager) initiatorCall(lessonID, partyID string) (*controller, error) {
	c, err := m.lookup(lessonID, partyID)
	if err != nil {
		return nil, err
	}
	if c.dial == nil {
		return nil, ErrNotInitiator
	}
	return c, nil
}

// close drops c from the manager and frees everything it holds. Only the
// first call for a controller has an effect.
func (m *Manager) close(c *controller) {
	m.mu.Lock()
	if m.calls[c.key] != c {
		m.mu.Unlock()
		return
	}
	delete(m.calls, c.key)
	n := len(m.calls)
	cancel, unsub := c.cancel, c.unsub
	m.mu.Unlock()

	ctx := context.Background()
	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	c.orch.Teardown(ctx)
	if c.role == RoleInitiator {
		if err := m.deps.Rooms.Remove(ctx, c.lessonID); err != nil {
			slog.Warn("failed to remove published room", "error", err, "lesson_id", c.lessonID)
		}
	}
	if err := m.deps.Guard.Release(ctx, c.lessonID, c.partyID); err != nil {
		slog.Warn("failed to release session guard", "error", err, "lesson_id", c.lessonID, "party_id", c.partyID)
	}
	m.deps.Gauge.SetActiveCalls(n)
	slog.Info("call closed", "lesson_id", c.lessonID, "party_id", c.partyID, "role", string(c.role))
}

func (m *Manager) accept(c *controller) {
	m.mu.Lock()
	if c.accepted {
		m.mu.Unlock()
		return
	}
	c.accepted = true
	m.mu.Unlock()

	sig := coordination.Signal{LessonID: c.lessonID, Kind: coordination.SignalAccept, PartyID: c.partyID}
	if err := m.deps.Signals.Send(context.Background(), sig); err != nil {
		slog.Warn("failed to signal call acceptance", "error", err, "lesson_id", c.lessonID, "party_id", c.partyID)
	}
}

// publishRoom makes the initiator's room visible to the callee once per
// session, and withdraws it when the session fails.
func (m *Manager) publishRoom(c *controller, snap session.CallSession) {
	ctx := context.Background()
	if snap.State == session.StateFailed {
		if err := m.deps.Rooms.Remove(ctx, c.lessonID); err != nil {
			slog.Warn("failed to remove published room", "error", err, "lesson_id", c.lessonID)
		}
		return
	}
	if snap.Room == nil || !snap.State.Active() {
		return
	}
	m.mu.Lock()
	if c.published == snap.Generation {
		m.mu.Unlock()
		return
	}
	c.published = snap.Generation
	m.mu.Unlock()

	if err := m.deps.Rooms.Publish(ctx, c.lessonID, *snap.Room, m.deps.LockTTL); err != nil {
		slog.Error("failed to publish room", "error", err, "lesson_id", c.lessonID, "room_id", snap.Room.RoomID)
		return
	}
	slog.Info("room published", "lesson_id", c.lessonID, "session_id", snap.SessionID, "room_id", snap.Room.RoomID)
}

func (m *Manager) notify(typ webhook.EventType, c *controller, snap session.CallSession, attempts int) {
	n := webhook.CallNotification{
		Type:        typ,
		LessonID:    c.lessonID,
		SessionID:   snap.SessionID,
		InitiatorID: c.partyID,
		CalleeID:    c.otherID,
		OccurredAt:  time.Now().UTC(),
		ConnectedAt: snap.ConnectedAt,
		EndedAt:     snap.EndedAt,
		Attempts:    attempts,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := m.deps.Webhook.SendCallNotification(ctx, n); err != nil {
			m.deps.Gauge.WebhookFailed()
			slog.Error("failed to send call webhook", "error", err, "lesson_id", n.LessonID, "type", string(n.Type))
		}
	}()
}

func (c *controller) view() View {
	v := View{Role: c.role, Session: c.orch.Snapshot()}
	if c.dial != nil {
		st := c.dial.State()
		v.Dialer = &st
	}
	return v
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/lessoncall/internal/media"
	"github.com/foxseedlab/lessoncall/internal/presence"
	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/google/uuid"
)

const (
	providerCallTimeout = 30 * time.Second
	lessonWriteTimeout  = 10 * time.Second
)

var ErrSessionActive = errors.New("call session is already active")

type EventRecorder interface {
	Record(ctx context.Context, lessonID string, kind repository.CallEventKind, sessionID string, metadata map[string]any)
}

type LessonReconciler interface {
	MarkInProgress(ctx context.Context, lessonID string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, lessonID string, endedAt time.Time) error
}

type Observer interface {
	SessionTransition(from, to, trigger string)
	ConnectLatency(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) SessionTransition(string, string, string) {}
func (nopObserver) ConnectLatency(time.Duration)             {}

type Params struct {
	LessonID    string
	InitiatorID string
	CalleeID    string
	DisplayName string
	// RemoteLeaveGrace is how long a connected call survives the remote
	// party leaving. Zero keeps the call open until it is ended locally.
	RemoteLeaveGrace time.Duration
	// AwaitAnswer holds the lesson status writes until MarkAnswered. The
	// calling side sets it, since its own join connects before anyone picks up.
	AwaitAnswer bool
}

type CallSession struct {
	// Generation increases with every Start on the same orchestrator.
	Generation      uint64             `json:"-"`
	SessionID       string             `json:"session_id,omitempty"`
	LessonID        string             `json:"lesson_id"`
	InitiatorID     string             `json:"initiator_id"`
	CalleeID        string             `json:"callee_id"`
	Room            *media.RoomRef     `json:"room,omitempty"`
	State           State              `json:"state"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	ConnectedAt     *time.Time         `json:"connected_at,omitempty"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
	Local           media.Participant  `json:"local_media_state"`
	Remote          *media.Participant `json:"remote_participant"`
	LastError       string             `json:"last_error,omitempty"`
	Warning         string             `json:"warning,omitempty"`
	Troubleshooting []string           `json:"troubleshooting,omitempty"`
}

// resources belong to one session generation. The room is destroyed at most
// once, and only when this side provisioned it.
type resources struct {
	gen       uint64
	room      *media.RoomRef
	ownsRoom  bool
	conn      media.Conn
	destroyed bool
}

type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithAfterFunc(f AfterFunc) Option {
	return func(o *Orchestrator) { o.afterFunc = f }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

type Orchestrator struct {
	params    Params
	provider  media.Provider
	events    EventRecorder
	lessons   LessonReconciler
	observer  Observer
	now       func() time.Time
	afterFunc AfterFunc
	tracker   *presence.Tracker
	runner    *effectRunner

	audioMu sync.Mutex
	videoMu sync.Mutex

	mu             sync.Mutex
	state          State
	gen            uint64
	cur            *resources
	sessionID      string
	startedAt      *time.Time
	connectedAt    *time.Time
	endedAt        *time.Time
	lastError      string
	warning        string
	answered       bool
	stopGrace      func() bool
	subscribers    []func(CallSession)
	connectedHooks []func(CallSession)
	endedHooks     []func(CallSession)
}

func NewOrchestrator(params Params, provider media.Provider, events EventRecorder, lessons LessonReconciler, opts ...Option) *Orchestrator {
	if params.DisplayName == "" {
		params.DisplayName = params.InitiatorID
	}
	o := &Orchestrator{
		params:    params,
		provider:  provider,
		events:    events,
		lessons:   lessons,
		observer:  nopObserver{},
		now:       time.Now,
		afterFunc: timeAfterFunc,
		tracker:   presence.NewTracker(),
		runner:    newEffectRunner(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins a new session. A non-nil room skips provisioning and joins a
// room created by the other party.
func (o *Orchestrator) Start(ctx context.Context, room *media.RoomRef) error {
	tr := Trigger{Kind: TriggerStart, HasRoom: room != nil}
	if room != nil {
		tr.Room = *room
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.transitionLocked(tr); err != nil {
		return ErrSessionActive
	}
	slog.InfoContext(ctx, "call session started",
		"lesson_id", o.params.LessonID,
		"session_id", o.sessionID,
		"state", string(o.state),
		"pre_provisioned", room != nil,
	)
	return nil
}

// End hangs up. It is safe from every state and only the first call after
// connecting records the disconnect and completes the lesson.
func (o *Orchestrator) End(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.transitionLocked(Trigger{Kind: TriggerEnd}); err == nil {
		slog.InfoContext(ctx, "call session ended", "lesson_id", o.params.LessonID, "session_id", o.sessionID)
	}
}

// MarkAnswered records that the other party picked up. With AwaitAnswer a
// connected session marks the lesson in progress here; a session that is
// still joining does so when it connects.
func (o *Orchestrator) MarkAnswered(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.answered || !o.state.Active() {
		return
	}
	o.answered = true
	if !o.params.AwaitAnswer || o.state != StateConnected {
		return
	}
	o.runner.side.submit(job{
		name: string(EffectMarkInProgress),
		run:  o.markInProgress(o.params.LessonID, o.now()),
	})
	slog.InfoContext(ctx, "call answered", "lesson_id", o.params.LessonID, "session_id", o.sessionID)
}

// Abort drops an unanswered session without writing events or lesson status.
func (o *Orchestrator) Abort(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.transitionLocked(Trigger{Kind: TriggerAbort}); err == nil {
		slog.InfoContext(ctx, "call session aborted", "lesson_id", o.params.LessonID, "session_id", o.sessionID)
	}
}

func (o *Orchestrator) Teardown(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.transitionLocked(Trigger{Kind: TriggerTeardown}); err == nil {
		slog.DebugContext(ctx, "call session torn down", "lesson_id", o.params.LessonID, "session_id", o.sessionID)
	}
}

func (o *Orchestrator) ToggleMic(ctx context.Context) bool {
	return o.toggle(ctx, &o.audioMu, false)
}

func (o *Orchestrator) ToggleCamera(ctx context.Context) bool {
	return o.toggle(ctx, &o.videoMu, true)
}

// toggle flips one local device. Calls for the same device wait for the
// previous acknowledgment and flip from the acknowledged state. A provider
// rejection leaves the state unchanged and sets a warning.
func (o *Orchestrator) toggle(ctx context.Context, device *sync.Mutex, video bool) bool {
	device.Lock()
	defer device.Unlock()

	o.mu.Lock()
	current := localFlag(o.tracker.Snapshot().Local, video)
	var conn media.Conn
	if o.state == StateConnected && o.cur != nil {
		conn = o.cur.conn
	}
	gen := o.gen
	o.mu.Unlock()
	if conn == nil {
		return current
	}

	want := !current
	var err error
	if video {
		err = conn.SetLocalVideo(ctx, want)
	} else {
		err = conn.SetLocalAudio(ctx, want)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return current
	}
	if err != nil {
		o.warning = deviceWarning(video, err)
		slog.WarnContext(ctx, "local device change rejected",
			"error", err,
			"lesson_id", o.params.LessonID,
			"session_id", o.sessionID,
			"video", video,
		)
		o.publishLocked()
		return current
	}
	if video {
		o.tracker.SetLocalVideo(want)
	} else {
		o.tracker.SetLocalAudio(want)
	}
	o.warning = ""
	o.publishLocked()
	return want
}

func localFlag(p media.Participant, video bool) bool {
	if video {
		return p.Video
	}
	return p.Audio
}

func (o *Orchestrator) Snapshot() CallSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe registers fn for every snapshot change. Callbacks run in commit
// order on the side-effect lane and may call back into the orchestrator.
func (o *Orchestrator) Subscribe(fn func(CallSession)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

func (o *Orchestrator) OnConnected(fn func(CallSession)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connectedHooks = append(o.connectedHooks, fn)
}

func (o *Orchestrator) OnEnded(fn func(CallSession)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endedHooks = append(o.endedHooks, fn)
}

// Drain waits until every queued effect and notification has run.
func (o *Orchestrator) Drain() {
	o.runner.drain()
}

func (o *Orchestrator) snapshotLocked() CallSession {
	p := o.tracker.Snapshot()
	s := CallSession{
		Generation:  o.gen,
		SessionID:   o.sessionID,
		LessonID:    o.params.LessonID,
		InitiatorID: o.params.InitiatorID,
		CalleeID:    o.params.CalleeID,
		State:       o.state,
		StartedAt:   o.startedAt,
		ConnectedAt: o.connectedAt,
		EndedAt:     o.endedAt,
		Local:       p.Local,
		Remote:      p.Remote,
		LastError:   o.lastError,
		Warning:     o.warning,
	}
	if o.cur != nil && o.cur.room != nil {
		r := *o.cur.room
		s.Room = &r
	}
	if o.state == StateFailed {
		s.Troubleshooting = TroubleshootingChecklist
	}
	return s
}

// fire applies a trigger produced by an effect or a provider callback. It
// reports false when gen belongs to a replaced session.
func (o *Orchestrator) fire(gen uint64, tr Trigger) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		slog.Debug("drop trigger from previous session", "lesson_id", o.params.LessonID, "trigger", string(tr.Kind))
		return false
	}
	_ = o.transitionLocked(tr)
	return true
}

func (o *Orchestrator) transitionLocked(tr Trigger) error {
	from := o.state
	next, effects, err := Transition(from, tr)
	if err != nil {
		slog.Debug("session trigger ignored", "lesson_id", o.params.LessonID, "state", string(from), "trigger", string(tr.Kind))
		return err
	}
	o.applyLocked(from, next, tr)
	o.state = next
	o.observer.SessionTransition(string(from), string(next), string(tr.Kind))
	o.dispatchLocked(effects)
	o.publishLocked()
	return nil
}

func (o *Orchestrator) applyLocked(from, next State, tr Trigger) {
	now := o.now()
	switch tr.Kind {
	case TriggerStart:
		o.gen++
		o.cur = &resources{gen: o.gen, ownsRoom: !tr.HasRoom}
		o.tracker.Reset()
		o.sessionID = ""
		o.startedAt = &now
		o.connectedAt = nil
		o.endedAt = nil
		o.lastError = ""
		o.warning = ""
		o.answered = false
		if tr.HasRoom {
			r := tr.Room
			o.cur.room = &r
			o.sessionID = uuid.NewString()
		}
	case TriggerRoomReady:
		r := tr.Room
		o.cur.room = &r
		if next == StateJoining {
			o.sessionID = uuid.NewString()
		}
	case TriggerJoined:
		o.connectedAt = &now
		if o.startedAt != nil {
			o.observer.ConnectLatency(now.Sub(*o.startedAt))
		}
	}
	if next == StateFailed && from != StateFailed {
		o.lastError = failureMessage(tr.Kind, tr.Err)
		slog.Error("call session failed",
			"error", tr.Err,
			"lesson_id", o.params.LessonID,
			"session_id", o.sessionID,
			"stage", string(from),
		)
	}
	if next.Terminal() && !from.Terminal() {
		o.endedAt = &now
		o.stopGraceLocked()
	}
}

func (o *Orchestrator) dispatchLocked(effects []Effect) {
	res := o.cur
	gen := o.gen
	snap := o.snapshotLocked()
	for _, e := range effects {
		if o.heldForAnswerLocked(e) {
			continue
		}
		j := job{name: string(e.Kind), run: o.effectFunc(e, gen, res, snap)}
		if e.providerLane() {
			o.runner.provider.submit(j)
		} else {
			o.runner.side.submit(j)
		}
	}
}

// heldForAnswerLocked reports lesson writes skipped because nobody answered.
func (o *Orchestrator) heldForAnswerLocked(e Effect) bool {
	if !o.params.AwaitAnswer || o.answered {
		return false
	}
	return e.Kind == EffectMarkInProgress || e.Kind == EffectMarkCompleted
}

func (o *Orchestrator) publishLocked() {
	if len(o.subscribers) == 0 {
		return
	}
	subs := append([]func(CallSession){}, o.subscribers...)
	snap := o.snapshotLocked()
	o.runner.side.submit(job{name: "publish", run: func() error {
		for _, fn := range subs {
			fn(snap)
		}
		return nil
	}})
}

func (o *Orchestrator) effectFunc(e Effect, gen uint64, res *resources, snap CallSession) func() error {
	lessonID := o.params.LessonID
	switch e.Kind {
	case EffectRecord:
		metadata := e.Metadata
		if e.Event == repository.CallEventInitiated {
			metadata = map[string]any{
				"initiator_id":    o.params.InitiatorID,
				"callee_id":       o.params.CalleeID,
				"pre_provisioned": !res.ownsRoom,
			}
		}
		return func() error {
			o.events.Record(context.Background(), lessonID, e.Event, snap.SessionID, metadata)
			return nil
		}
	case EffectProvision:
		return func() error { return o.provision(gen, res) }
	case EffectJoin:
		return func() error { return o.join(gen, res) }
	case EffectLeave:
		return func() error { return o.leave(res) }
	case EffectRelease:
		return func() error { return o.release(res) }
	case EffectMarkInProgress:
		at := o.now()
		if snap.ConnectedAt != nil {
			at = *snap.ConnectedAt
		}
		return o.markInProgress(lessonID, at)
	case EffectMarkCompleted:
		at := o.now()
		if snap.EndedAt != nil {
			at = *snap.EndedAt
		}
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), lessonWriteTimeout)
			defer cancel()
			return o.lessons.MarkCompleted(ctx, lessonID, at)
		}
	case EffectNotifyConnected:
		hooks := append([]func(CallSession){}, o.connectedHooks...)
		return func() error {
			for _, fn := range hooks {
				fn(snap)
			}
			return nil
		}
	case EffectNotifyEnded:
		hooks := append([]func(CallSession){}, o.endedHooks...)
		return func() error {
			for _, fn := range hooks {
				fn(snap)
			}
			return nil
		}
	}
	return func() error { return fmt.Errorf("unknown effect %q", e.Kind) }
}

func (o *Orchestrator) markInProgress(lessonID string, at time.Time) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), lessonWriteTimeout)
		defer cancel()
		return o.lessons.MarkInProgress(ctx, lessonID, at)
	}
}

func (o *Orchestrator) provision(gen uint64, res *resources) error {
	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()
	room, err := o.provider.Provision(ctx, media.ProvisionRequest{
		LessonID:    o.params.LessonID,
		InitiatorID: o.params.InitiatorID,
		CalleeID:    o.params.CalleeID,
	})
	if err != nil {
		o.fire(gen, Trigger{Kind: TriggerProvisionFailed, Err: err})
		return fmt.Errorf("failed to provision room: %w", err)
	}
	slog.Info("room provisioned", "lesson_id", o.params.LessonID, "room_id", room.RoomID)
	if o.fire(gen, Trigger{Kind: TriggerRoomReady, Room: room}) {
		return nil
	}
	o.mu.Lock()
	if res.room == nil {
		res.room = &room
	}
	o.mu.Unlock()
	return o.release(res)
}

func (o *Orchestrator) join(gen uint64, res *resources) error {
	o.mu.Lock()
	room := res.room
	o.mu.Unlock()
	if room == nil {
		o.fire(gen, Trigger{Kind: TriggerJoinFailed, Err: errors.New("room is not known")})
		return errors.New("join requested without a room")
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()
	conn, err := o.provider.Join(ctx, *room, o.params.DisplayName, func(ev media.Event) {
		o.handleEvent(gen, ev)
	})
	if err != nil {
		o.fire(gen, Trigger{Kind: TriggerJoinFailed, Err: err})
		return fmt.Errorf("failed to join room: %w", err)
	}

	o.mu.Lock()
	if gen != o.gen || o.state != StateJoining {
		o.mu.Unlock()
		slog.Info("joined after session moved on; leaving", "lesson_id", o.params.LessonID, "room_id", room.RoomID)
		return conn.Leave(ctx)
	}
	res.conn = conn
	o.mu.Unlock()
	o.fire(gen, Trigger{Kind: TriggerJoined})
	return nil
}

func (o *Orchestrator) leave(res *resources) error {
	o.mu.Lock()
	conn := res.conn
	res.conn = nil
	o.mu.Unlock()
	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()
	if err := conn.Leave(ctx); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	return nil
}

func (o *Orchestrator) release(res *resources) error {
	leaveErr := o.leave(res)

	o.mu.Lock()
	room := res.room
	destroy := res.ownsRoom && room != nil && !res.destroyed
	if destroy {
		res.destroyed = true
	}
	o.mu.Unlock()
	if !destroy {
		return leaveErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()
	if err := o.provider.Destroy(ctx, *room); err != nil {
		return errors.Join(leaveErr, fmt.Errorf("failed to destroy room %s: %w", room.RoomID, err))
	}
	slog.Info("room destroyed", "lesson_id", o.params.LessonID, "room_id", room.RoomID)
	return leaveErr
}

func (o *Orchestrator) handleEvent(gen uint64, ev media.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		slog.Debug("drop provider event from previous session", "lesson_id", o.params.LessonID, "type", string(ev.Type))
		return
	}

	switch ev.Type {
	case media.EventJoined, media.EventParticipantUpdated:
		if o.tracker.Apply(ev) {
			o.publishLocked()
		}
	case media.EventParticipantJoined:
		if o.tracker.Apply(ev) {
			o.stopGraceLocked()
			o.publishLocked()
		}
	case media.EventParticipantLeft:
		if o.tracker.Apply(ev) {
			o.startGraceLocked(gen)
			o.publishLocked()
		}
	case media.EventFatalError:
		_ = o.transitionLocked(Trigger{Kind: TriggerFatal, Err: ev.Err})
	case media.EventCameraError:
		o.tracker.SetLocalVideo(false)
		o.warning = messageCameraFailed
		slog.Warn("camera error", "error", ev.Err, "lesson_id", o.params.LessonID, "session_id", o.sessionID)
		o.publishLocked()
	case media.EventLeft:
		_ = o.transitionLocked(Trigger{Kind: TriggerLeft})
	}
}

func (o *Orchestrator) startGraceLocked(gen uint64) {
	if o.state != StateConnected || o.params.RemoteLeaveGrace <= 0 {
		return
	}
	o.stopGraceLocked()
	slog.Info("remote party left; waiting for rejoin",
		"lesson_id", o.params.LessonID,
		"session_id", o.sessionID,
		"grace", o.params.RemoteLeaveGrace.String(),
	)
	o.stopGrace = o.afterFunc(o.params.RemoteLeaveGrace, func() {
		o.remoteGone(gen)
	})
}

func (o *Orchestrator) stopGraceLocked() {
	if o.stopGrace != nil {
		o.stopGrace()
		o.stopGrace = nil
	}
}

func (o *Orchestrator) remoteGone(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.tracker.RemotePresent() {
		return
	}
	o.stopGrace = nil
	_ = o.transitionLocked(Trigger{Kind: TriggerRemoteGone})
}

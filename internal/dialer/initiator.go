package dialer

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/foxseedlab/lessoncall/internal/media"
	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/foxseedlab/lessoncall/internal/session"
	"github.com/looplab/fsm"
)

var (
	ErrAttemptPending       = errors.New("a ringing attempt is already pending")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrNoDecisionPending    = errors.New("no unanswered attempt is waiting for a decision")
	ErrCallFinished         = errors.New("call already connected or given up")
)

type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseRinging          Phase = "ringing"
	PhaseAwaitingDecision Phase = "awaiting_decision"
	PhaseConnected        Phase = "connected"
	PhaseGaveUp           Phase = "gave_up"
	PhaseFailed           Phase = "failed"
)

const (
	eventRing    = "ring"
	eventAnswer  = "answer"
	eventTimeout = "timeout"
	eventReject  = "reject"
	eventCancel  = "cancel"
	eventGiveUp  = "give_up"
	eventFail    = "fail"
)

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeAnswered  Outcome = "answered"
	OutcomeNoAnswer  Outcome = "no_answer"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

type Attempt struct {
	Number    int       `json:"number"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
	Outcome   Outcome   `json:"outcome"`
}

type State struct {
	Phase                     Phase    `json:"phase"`
	Attempt                   *Attempt `json:"attempt,omitempty"`
	AttemptsUsed              int      `json:"attempts_used"`
	RetriesRemaining          int      `json:"retries_remaining"`
	CountdownSecondsRemaining int      `json:"countdown_seconds_remaining"`
	CanRetry                  bool     `json:"can_retry"`
	Exhausted                 bool     `json:"exhausted"`
}

type Config struct {
	RingTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// AnswerOnConnect treats a connected session as answered even before the
	// callee's media has been seen. When false, connected alone does not win
	// over the ring timer; the callee must be present or accept.
	AnswerOnConnect bool
}

// Session is the part of the orchestrator the initiator drives.
type Session interface {
	Start(ctx context.Context, room *media.RoomRef) error
	Abort(ctx context.Context)
	MarkAnswered(ctx context.Context)
	Snapshot() session.CallSession
	Subscribe(fn func(session.CallSession))
}

type NoAnswerMarker interface {
	MarkNoAnswer(ctx context.Context, lessonID string) error
}

type Observer interface {
	AttemptOutcome(outcome string)
}

type nopObserver struct{}

func (nopObserver) AttemptOutcome(string) {}

type Option func(*Initiator)

func WithClock(now func() time.Time) Option {
	return func(i *Initiator) { i.now = now }
}

func WithAfterFunc(f session.AfterFunc) Option {
	return func(i *Initiator) { i.afterFunc = f }
}

func WithObserver(obs Observer) Option {
	return func(i *Initiator) { i.observer = obs }
}

func newPhaseMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: eventRing, Src: []string{string(PhaseIdle), string(PhaseAwaitingDecision), string(PhaseFailed)}, Dst: string(PhaseRinging)},
			{Name: eventAnswer, Src: []string{string(PhaseRinging), string(PhaseAwaitingDecision)}, Dst: string(PhaseConnected)},
			{Name: eventTimeout, Src: []string{string(PhaseRinging)}, Dst: string(PhaseAwaitingDecision)},
			{Name: eventReject, Src: []string{string(PhaseRinging)}, Dst: string(PhaseAwaitingDecision)},
			{Name: eventCancel, Src: []string{string(PhaseRinging)}, Dst: string(PhaseIdle)},
			{Name: eventGiveUp, Src: []string{string(PhaseAwaitingDecision)}, Dst: string(PhaseGaveUp)},
			{Name: eventFail, Src: []string{string(PhaseRinging)}, Dst: string(PhaseFailed)},
		},
		fsm.Callbacks{},
	)
}

// Initiator rings the callee with a bounded number of attempts. It never
// calls the session while holding its own lock.
type Initiator struct {
	cfg       Config
	lessonID  string
	session   Session
	events    session.EventRecorder
	lessons   NoAnswerMarker
	observer  Observer
	now       func() time.Time
	afterFunc session.AfterFunc

	mu             sync.Mutex
	machine        *fsm.FSM
	attempt        *Attempt
	attemptsUsed   int
	minGeneration  uint64
	retryScheduled bool
	stopRetry      func() bool
	connectedHooks []func()
	noAnswerHooks  []func()
}

func NewInitiator(cfg Config, lessonID string, sess Session, events session.EventRecorder, lessons NoAnswerMarker, opts ...Option) *Initiator {
	i := &Initiator{
		cfg:      cfg,
		lessonID: lessonID,
		session:  sess,
		events:   events,
		lessons:  lessons,
		observer: nopObserver{},
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		machine: newPhaseMachine(),
	}
	for _, opt := range opts {
		opt(i)
	}
	sess.Subscribe(i.onSession)
	return i
}

func (i *Initiator) OnConnected(fn func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.connectedHooks = append(i.connectedHooks, fn)
}

func (i *Initiator) OnNoAnswer(fn func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.noAnswerHooks = append(i.noAnswerHooks, fn)
}

func (i *Initiator) phase() Phase {
	return Phase(i.machine.Current())
}

// Start opens a new ringing attempt and starts the session in parallel.
func (i *Initiator) Start(ctx context.Context) error {
	nextGeneration := i.session.Snapshot().Generation + 1

	i.mu.Lock()
	i.retryScheduled = false
	if i.attempt != nil && i.attempt.Outcome == OutcomePending {
		i.mu.Unlock()
		return ErrAttemptPending
	}
	if i.attemptsUsed >= i.cfg.MaxRetries {
		i.mu.Unlock()
		return ErrRetryBudgetExhausted
	}
	if !i.machine.Can(eventRing) {
		i.mu.Unlock()
		return ErrCallFinished
	}
	i.attemptsUsed++
	now := i.now()
	attempt := &Attempt{
		Number:    i.attemptsUsed,
		StartedAt: now,
		Deadline:  now.Add(i.cfg.RingTimeout),
		Outcome:   OutcomePending,
	}
	i.attempt = attempt
	_ = i.machine.Event(ctx, eventRing)
	i.minGeneration = nextGeneration
	i.mu.Unlock()

	if err := i.session.Start(ctx, nil); err != nil {
		i.mu.Lock()
		if i.attempt == attempt && attempt.Outcome == OutcomePending {
			attempt.Outcome = OutcomeCancelled
			i.attemptsUsed--
			i.machine.SetState(string(PhaseIdle))
		}
		i.mu.Unlock()
		return err
	}

	slog.InfoContext(ctx, "ringing callee",
		"lesson_id", i.lessonID,
		"attempt", attempt.Number,
		"max_retries", i.cfg.MaxRetries,
		"deadline", attempt.Deadline,
	)
	i.events.Record(ctx, i.lessonID, repository.CallEventRinging, "", map[string]any{
		"attempt":     attempt.Number,
		"max_retries": i.cfg.MaxRetries,
	})
	return nil
}

// Answer handles an explicit accept from the callee.
func (i *Initiator) Answer(ctx context.Context) {
	i.answer(ctx, "signal", i.session.Snapshot().SessionID)
}

// Reject handles an explicit decline from the callee and skips straight to
// the retry decision.
func (i *Initiator) Reject(ctx context.Context) {
	i.mu.Lock()
	if i.phase() != PhaseRinging || i.attempt == nil {
		i.mu.Unlock()
		return
	}
	i.attempt.Outcome = OutcomeNoAnswer
	_ = i.machine.Event(ctx, eventReject)
	n := i.attempt.Number
	i.mu.Unlock()

	slog.InfoContext(ctx, "callee rejected the call", "lesson_id", i.lessonID, "attempt", n)
	i.observer.AttemptOutcome("rejected")
	i.events.Record(ctx, i.lessonID, repository.CallEventRejected, i.session.Snapshot().SessionID, map[string]any{"attempt": n})
}

// Tick advances the ring countdown. Before declaring no answer it re-checks
// the session, so an answer that is already visible wins over the timer.
func (i *Initiator) Tick(ctx context.Context, now time.Time) {
	i.mu.Lock()
	attempt := i.attempt
	due := i.phase() == PhaseRinging && attempt != nil && !now.Before(attempt.Deadline)
	minGen := i.minGeneration
	i.mu.Unlock()
	if !due {
		return
	}

	snap := i.session.Snapshot()
	if snap.Generation >= minGen && i.isAnswered(snap) {
		i.answer(ctx, "presence", snap.SessionID)
		return
	}

	i.mu.Lock()
	if i.phase() != PhaseRinging || i.attempt != attempt {
		i.mu.Unlock()
		return
	}
	attempt.Outcome = OutcomeNoAnswer
	_ = i.machine.Event(ctx, eventTimeout)
	exhausted := i.attemptsUsed >= i.cfg.MaxRetries
	i.mu.Unlock()

	slog.InfoContext(ctx, "callee did not answer",
		"lesson_id", i.lessonID,
		"attempt", attempt.Number,
		"exhausted", exhausted,
	)
	i.observer.AttemptOutcome(string(OutcomeNoAnswer))
	i.events.Record(ctx, i.lessonID, repository.CallEventTimeout, snap.SessionID, map[string]any{
		"attempt":   attempt.Number,
		"exhausted": exhausted,
	})
}

// Run feeds Tick once per second until ctx is done.
func (i *Initiator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			i.Tick(ctx, now)
		}
	}
}

// Retry drops the unanswered session and rings again after the backoff.
func (i *Initiator) Retry(ctx context.Context) error {
	i.mu.Lock()
	p := i.phase()
	if p != PhaseAwaitingDecision && p != PhaseFailed {
		i.mu.Unlock()
		return ErrNoDecisionPending
	}
	if i.attemptsUsed >= i.cfg.MaxRetries {
		i.mu.Unlock()
		return ErrRetryBudgetExhausted
	}
	if i.retryScheduled {
		i.mu.Unlock()
		return nil
	}
	i.retryScheduled = true
	i.stopRetry = i.afterFunc(i.cfg.RetryBackoff, i.runScheduledRetry)
	i.mu.Unlock()

	slog.InfoContext(ctx, "retry scheduled", "lesson_id", i.lessonID, "backoff", i.cfg.RetryBackoff.String())
	i.session.Abort(ctx)
	return nil
}

func (i *Initiator) runScheduledRetry() {
	i.mu.Lock()
	scheduled := i.retryScheduled
	i.mu.Unlock()
	if !scheduled {
		return
	}
	if err := i.Start(context.Background()); err != nil {
		slog.Error("failed to start retry attempt", "error", err, "lesson_id", i.lessonID)
	}
}

// MarkNoAnswer gives up on the call and marks the lesson no_answer.
func (i *Initiator) MarkNoAnswer(ctx context.Context) error {
	i.mu.Lock()
	if !i.machine.Can(eventGiveUp) {
		i.mu.Unlock()
		return ErrNoDecisionPending
	}
	_ = i.machine.Event(ctx, eventGiveUp)
	i.cancelRetryLocked()
	used := i.attemptsUsed
	hooks := append([]func(){}, i.noAnswerHooks...)
	i.mu.Unlock()

	sessionID := i.session.Snapshot().SessionID
	i.session.Abort(ctx)
	if err := i.lessons.MarkNoAnswer(ctx, i.lessonID); err != nil {
		slog.ErrorContext(ctx, "failed to mark lesson as no answer", "error", err, "lesson_id", i.lessonID)
	}
	i.events.Record(ctx, i.lessonID, repository.CallEventDisconnected, sessionID, map[string]any{
		"reason":   "no_answer",
		"attempts": used,
	})
	slog.InfoContext(ctx, "call given up without answer", "lesson_id", i.lessonID, "attempts", used)
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Cancel aborts a pending attempt without consuming it. It is a no-op when
// nothing is ringing, apart from dropping a scheduled retry.
func (i *Initiator) Cancel(ctx context.Context) {
	i.mu.Lock()
	i.cancelRetryLocked()
	if i.phase() != PhaseRinging || i.attempt == nil {
		i.mu.Unlock()
		return
	}
	i.attempt.Outcome = OutcomeCancelled
	i.attemptsUsed--
	_ = i.machine.Event(ctx, eventCancel)
	n := i.attempt.Number
	i.mu.Unlock()

	sessionID := i.session.Snapshot().SessionID
	i.session.Abort(ctx)
	i.observer.AttemptOutcome(string(OutcomeCancelled))
	i.events.Record(ctx, i.lessonID, repository.CallEventDisconnected, sessionID, map[string]any{
		"reason":  "cancelled",
		"attempt": n,
	})
	slog.InfoContext(ctx, "ringing cancelled", "lesson_id", i.lessonID, "attempt", n)
}

func (i *Initiator) cancelRetryLocked() {
	i.retryScheduled = false
	if i.stopRetry != nil {
		i.stopRetry()
		i.stopRetry = nil
	}
}

func (i *Initiator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	p := i.phase()
	s := State{
		Phase:            p,
		AttemptsUsed:     i.attemptsUsed,
		RetriesRemaining: max(i.cfg.MaxRetries-i.attemptsUsed, 0),
	}
	if i.attempt != nil {
		a := *i.attempt
		s.Attempt = &a
	}
	if p == PhaseRinging && i.attempt != nil {
		left := i.attempt.Deadline.Sub(i.now())
		s.CountdownSecondsRemaining = max(int(math.Ceil(left.Seconds())), 0)
	}
	decision := p == PhaseAwaitingDecision || p == PhaseFailed
	s.CanRetry = decision && i.attemptsUsed < i.cfg.MaxRetries
	s.Exhausted = i.attemptsUsed >= i.cfg.MaxRetries && (p == PhaseAwaitingDecision || p == PhaseGaveUp)
	return s
}

func (i *Initiator) isAnswered(snap session.CallSession) bool {
	if snap.State != session.StateConnected {
		return false
	}
	return i.cfg.AnswerOnConnect || snap.Remote != nil
}

func (i *Initiator) onSession(snap session.CallSession) {
	i.mu.Lock()
	current := snap.Generation >= i.minGeneration
	i.mu.Unlock()
	if !current {
		return
	}
	switch {
	case i.isAnswered(snap):
		i.answer(context.Background(), "presence", snap.SessionID)
	case snap.State == session.StateFailed:
		i.sessionFailed(snap)
	}
}

func (i *Initiator) answer(ctx context.Context, via, sessionID string) {
	i.mu.Lock()
	if !i.machine.Can(eventAnswer) {
		i.mu.Unlock()
		return
	}
	_ = i.machine.Event(ctx, eventAnswer)
	i.cancelRetryLocked()
	n := 0
	if i.attempt != nil {
		i.attempt.Outcome = OutcomeAnswered
		n = i.attempt.Number
	}
	hooks := append([]func(){}, i.connectedHooks...)
	i.mu.Unlock()

	slog.InfoContext(ctx, "callee answered", "lesson_id", i.lessonID, "attempt", n, "via", via)
	i.session.MarkAnswered(ctx)
	i.observer.AttemptOutcome(string(OutcomeAnswered))
	i.events.Record(ctx, i.lessonID, repository.CallEventAccepted, sessionID, map[string]any{
		"attempt": n,
		"via":     via,
	})
	for _, fn := range hooks {
		fn()
	}
}

// sessionFailed refunds the ringing attempt; the failure itself is recorded
// by the session.
func (i *Initiator) sessionFailed(snap session.CallSession) {
	i.mu.Lock()
	if i.phase() != PhaseRinging || i.attempt == nil || i.attempt.Outcome != OutcomePending {
		i.mu.Unlock()
		return
	}
	i.attempt.Outcome = OutcomeFailed
	i.attemptsUsed--
	_ = i.machine.Event(context.Background(), eventFail)
	i.mu.Unlock()

	slog.Warn("session failed while ringing", "lesson_id", i.lessonID, "error", snap.LastError)
	i.observer.AttemptOutcome(string(OutcomeFailed))
}

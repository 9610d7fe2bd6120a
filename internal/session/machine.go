package session

import (
	"errors"

	"github.com/foxseedlab/lessoncall/internal/media"
	"github.com/foxseedlab/lessoncall/internal/repository"
)

var ErrIgnored = errors.New("trigger does not apply in current state")

type State string

const (
	StateIdle         State = "idle"
	StateProvisioning State = "provisioning"
	StateJoining      State = "joining"
	StateConnected    State = "connected"
	StateEnded        State = "ended"
	StateFailed       State = "failed"
)

func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

func (s State) Active() bool {
	return s == StateProvisioning || s == StateJoining || s == StateConnected
}

type TriggerKind string

const (
	TriggerStart           TriggerKind = "start"
	TriggerRoomReady       TriggerKind = "room_ready"
	TriggerProvisionFailed TriggerKind = "provision_failed"
	TriggerJoined          TriggerKind = "joined"
	TriggerJoinFailed      TriggerKind = "join_failed"
	TriggerFatal           TriggerKind = "fatal"
	TriggerEnd             TriggerKind = "end"
	TriggerRemoteGone      TriggerKind = "remote_gone"
	TriggerLeft            TriggerKind = "left"
	TriggerAbort           TriggerKind = "abort"
	TriggerTeardown        TriggerKind = "teardown"
)

type Trigger struct {
	Kind TriggerKind
	// HasRoom is set on Start when the room was provisioned elsewhere.
	HasRoom bool
	Room    media.RoomRef
	Err     error
}

type EffectKind string

const (
	EffectRecord          EffectKind = "record"
	EffectProvision       EffectKind = "provision"
	EffectJoin            EffectKind = "join"
	EffectLeave           EffectKind = "leave"
	EffectRelease         EffectKind = "release"
	EffectMarkInProgress  EffectKind = "mark_in_progress"
	EffectMarkCompleted   EffectKind = "mark_completed"
	EffectNotifyConnected EffectKind = "notify_connected"
	EffectNotifyEnded     EffectKind = "notify_ended"
)

type Effect struct {
	Kind     EffectKind
	Event    repository.CallEventKind
	Metadata map[string]any
}

func (e Effect) providerLane() bool {
	switch e.Kind {
	case EffectProvision, EffectJoin, EffectLeave, EffectRelease:
		return true
	default:
		return false
	}
}

func record(kind repository.CallEventKind, metadata map[string]any) Effect {
	return Effect{Kind: EffectRecord, Event: kind, Metadata: metadata}
}

func failureMetadata(from State, err error) map[string]any {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return map[string]any{"error": msg, "stage": string(from)}
}

func endEffects(reason TriggerKind) []Effect {
	return []Effect{
		record(repository.CallEventDisconnected, map[string]any{"reason": string(reason)}),
		{Kind: EffectLeave},
		{Kind: EffectMarkCompleted},
		{Kind: EffectRelease},
		{Kind: EffectNotifyEnded},
	}
}

func abortEffects(from State) []Effect {
	if from == StateProvisioning {
		return []Effect{{Kind: EffectRelease}}
	}
	return []Effect{{Kind: EffectLeave}, {Kind: EffectRelease}}
}

// Transition is the call session state machine. It has no side effects: the
// returned effects are executed by the orchestrator after the new state is
// committed.
func Transition(from State, tr Trigger) (State, []Effect, error) {
	switch tr.Kind {
	case TriggerStart:
		if from != StateIdle && !from.Terminal() {
			return from, nil, ErrIgnored
		}
		if tr.HasRoom {
			return StateJoining, []Effect{record(repository.CallEventInitiated, nil), {Kind: EffectJoin}}, nil
		}
		return StateProvisioning, []Effect{record(repository.CallEventInitiated, nil), {Kind: EffectProvision}}, nil

	case TriggerRoomReady:
		switch {
		case from == StateProvisioning:
			return StateJoining, []Effect{{Kind: EffectJoin}}, nil
		case from.Terminal():
			return from, []Effect{{Kind: EffectRelease}}, nil
		}

	case TriggerProvisionFailed:
		if from == StateProvisioning {
			return StateFailed, []Effect{record(repository.CallEventFailed, failureMetadata(from, tr.Err))}, nil
		}

	case TriggerJoined:
		if from == StateJoining {
			return StateConnected, []Effect{
				record(repository.CallEventConnected, nil),
				{Kind: EffectMarkInProgress},
				{Kind: EffectNotifyConnected},
			}, nil
		}

	case TriggerJoinFailed, TriggerFatal:
		if from == StateJoining || from == StateConnected {
			return StateFailed, []Effect{
				record(repository.CallEventFailed, failureMetadata(from, tr.Err)),
				{Kind: EffectRelease},
			}, nil
		}

	case TriggerEnd:
		switch from {
		case StateJoining, StateConnected:
			return StateEnded, endEffects(tr.Kind), nil
		case StateProvisioning:
			return StateEnded, abortEffects(from), nil
		}

	case TriggerRemoteGone, TriggerLeft:
		if from == StateConnected {
			return StateEnded, endEffects(tr.Kind), nil
		}

	case TriggerAbort:
		if from.Active() {
			return StateEnded, abortEffects(from), nil
		}

	case TriggerTeardown:
		switch {
		case from == StateConnected:
			return StateEnded, endEffects(tr.Kind), nil
		case from.Active():
			return StateEnded, abortEffects(from), nil
		case from.Terminal():
			return from, []Effect{{Kind: EffectRelease}}, nil
		}
	}
	return from, nil, ErrIgnored
}

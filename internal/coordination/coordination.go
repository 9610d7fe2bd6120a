package coordination

import (
	"context"
	"errors"
	"time"

	"github.com/foxseedlab/lessoncall/internal/media"
)

var ErrRoomNotPublished = errors.New("no room has been published for this lesson")

// Guard allows one active call per lesson and party across processes. A
// held slot expires after ttl in case its holder dies.
type Guard interface {
	Acquire(ctx context.Context, lessonID, partyID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lessonID, partyID string) error
}

// RoomDirectory hands the room provisioned by the initiating side to the
// callee side.
type RoomDirectory interface {
	Publish(ctx context.Context, lessonID string, room media.RoomRef, ttl time.Duration) error
	Lookup(ctx context.Context, lessonID string) (media.RoomRef, error)
	Remove(ctx context.Context, lessonID string) error
}

type SignalKind string

const (
	SignalAccept SignalKind = "accept"
	SignalReject SignalKind = "reject"
)

func (k SignalKind) Valid() bool {
	return k == SignalAccept || k == SignalReject
}

type Signal struct {
	LessonID string     `json:"lesson_id"`
	Kind     SignalKind `json:"kind"`
	PartyID  string     `json:"party_id"`
}

// Signaler carries the callee's accept or reject to the initiating side.
type Signaler interface {
	Send(ctx context.Context, sig Signal) error
	Subscribe(ctx context.Context, lessonID string, fn func(Signal)) (func(), error)
}

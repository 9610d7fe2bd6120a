package media

import (
	"context"
	"errors"
)

var ErrDeviceUnsupported = errors.New("media device is not supported by the provider")

// RoomRef is the external handle of a provider room.
type RoomRef struct {
	URL    string `json:"url"`
	RoomID string `json:"room_id"`
}

type ProvisionRequest struct {
	LessonID    string
	InitiatorID string
	CalleeID    string
}

type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Local       bool   `json:"local"`
	Audio       bool   `json:"audio"`
	Video       bool   `json:"video"`
}

type EventType string

const (
	EventJoined             EventType = "joined"
	EventParticipantJoined  EventType = "participant-joined"
	EventParticipantLeft    EventType = "participant-left"
	EventParticipantUpdated EventType = "participant-updated"
	EventFatalError         EventType = "fatal-error"
	EventCameraError        EventType = "camera-error"
	EventLeft               EventType = "left"
)

// Event is delivered by a Conn in provider order. Seq increases
// monotonically per connection.
type Event struct {
	Type        EventType
	Seq         uint64
	Participant Participant
	Err         error
}

type EventHandler func(Event)

// Provider is the external real-time media service. Destroy removes a room
// created by Provision; only the party that provisioned a room destroys it.
type Provider interface {
	Provision(ctx context.Context, req ProvisionRequest) (RoomRef, error)
	Join(ctx context.Context, room RoomRef, displayName string, onEvent EventHandler) (Conn, error)
	Destroy(ctx context.Context, room RoomRef) error
}

// Conn is the local party's membership in a joined room.
type Conn interface {
	SetLocalAudio(ctx context.Context, enabled bool) error
	SetLocalVideo(ctx context.Context, enabled bool) error
	Leave(ctx context.Context) error
}

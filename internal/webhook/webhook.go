package webhook

import (
	"context"
	"time"
)

type EventType string

const (
	EventCallConnected EventType = "call.connected"
	EventCallEnded     EventType = "call.ended"
	EventCallNoAnswer  EventType = "call.no_answer"
)

// CallNotification tells the administration backend that a lesson call
// reached a milestone.
type CallNotification struct {
	Type        EventType  `json:"type"`
	LessonID    string     `json:"lesson_id"`
	SessionID   string     `json:"session_id,omitempty"`
	InitiatorID string     `json:"initiator_id"`
	CalleeID    string     `json:"callee_id"`
	OccurredAt  time.Time  `json:"occurred_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
}

type Sender interface {
	SendCallNotification(ctx context.Context, n CallNotification) error
}

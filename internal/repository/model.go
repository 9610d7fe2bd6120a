package repository

import "time"

type LessonStatus string

const (
	LessonStatusScheduled  LessonStatus = "scheduled"
	LessonStatusInProgress LessonStatus = "in_progress"
	LessonStatusCompleted  LessonStatus = "completed"
	LessonStatusNoAnswer   LessonStatus = "no_answer"
	LessonStatusMissed     LessonStatus = "missed"
	LessonStatusCancelled  LessonStatus = "cancelled"
)

// Lesson is the scheduling record a call belongs to. It is owned by the
// surrounding administration app; this service only reads it and writes
// status and actual times.
type Lesson struct {
	ID              string
	TutorID         string
	StudentID       string
	Status          LessonStatus
	ScheduledDate   time.Time
	StartTime       string
	DurationMinutes int
	ActualStartTime *time.Time
	ActualEndTime   *time.Time
}

// StartsAt combines the scheduled date with the HH:MM start time.
func (l Lesson) StartsAt() time.Time {
	t, err := time.Parse("15:04", l.StartTime)
	if err != nil {
		return l.ScheduledDate
	}
	d := l.ScheduledDate
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, d.Location())
}

func (l Lesson) EndsAt() time.Time {
	return l.StartsAt().Add(time.Duration(l.DurationMinutes) * time.Minute)
}

type CallEventKind string

const (
	CallEventInitiated    CallEventKind = "initiated"
	CallEventRinging      CallEventKind = "ringing"
	CallEventAccepted     CallEventKind = "accepted"
	CallEventRejected     CallEventKind = "rejected"
	CallEventFailed       CallEventKind = "failed"
	CallEventConnected    CallEventKind = "connected"
	CallEventDisconnected CallEventKind = "disconnected"
	CallEventTimeout      CallEventKind = "timeout"
)

func (k CallEventKind) Valid() bool {
	switch k {
	case CallEventInitiated, CallEventRinging, CallEventAccepted, CallEventRejected,
		CallEventFailed, CallEventConnected, CallEventDisconnected, CallEventTimeout:
		return true
	default:
		return false
	}
}

// CallEvent is an immutable entry of the call audit trail. SessionID is nil
// for events that precede room provisioning.
type CallEvent struct {
	ID         string
	LessonID   string
	SessionID  *string
	Kind       CallEventKind
	OccurredAt time.Time
	Metadata   map[string]any
}

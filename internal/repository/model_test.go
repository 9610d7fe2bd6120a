package repository

import (
	"testing"
	"time"
)

func TestLessonStartsAtCombinesDateAndTime(t *testing.T) {
	l := Lesson{
		ScheduledDate:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		StartTime:       "16:30",
		DurationMinutes: 45,
	}
	want := time.Date(2026, 10, 19, 16, 30, 0, 0, time.UTC)
	if got := l.StartsAt(); !got.Equal(want) {
		t.Fatalf("unexpected start: %v", got)
	}
	if got := l.EndsAt(); !got.Equal(want.Add(45 * time.Minute)) {
		t.Fatalf("unexpected end: %v", got)
	}
}

func TestLessonStartsAtFallsBackToDateOnBadTime(t *testing.T) {
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	l := Lesson{ScheduledDate: day, StartTime: "half past four"}
	if got := l.StartsAt(); !got.Equal(day) {
		t.Fatalf("expected scheduled date fallback, got %v", got)
	}
}

func TestCallEventKindValid(t *testing.T) {
	kinds := []CallEventKind{
		CallEventInitiated,
		CallEventRinging,
		CallEventAccepted,
		CallEventRejected,
		CallEventFailed,
		CallEventConnected,
		CallEventDisconnected,
		CallEventTimeout,
	}
	for _, k := range kinds {
		if !k.Valid() {
			t.Fatalf("expected %q to be valid", k)
		}
	}
	if CallEventKind("answered").Valid() {
		t.Fatal("expected unknown kind to be invalid")
	}
}

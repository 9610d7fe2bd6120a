package presence

import (
	"math/rand"
	"testing"

	"github.com/foxseedlab/lessoncall/internal/media"
)

func remote(audio, video bool) media.Participant {
	return media.Participant{ID: "student", DisplayName: "Student", Audio: audio, Video: video}
}

func TestApply_JoinLeaveRejoin(t *testing.T) {
	tr := NewTracker()
	tr.Apply(media.Event{Type: media.EventParticipantJoined, Seq: 1, Participant: remote(true, false)})
	if !tr.RemotePresent() {
		t.Fatal("expected remote present after join")
	}
	tr.Apply(media.Event{Type: media.EventParticipantLeft, Seq: 2, Participant: remote(false, false)})
	if tr.RemotePresent() {
		t.Fatal("expected remote absent after leave")
	}
	tr.Apply(media.Event{Type: media.EventParticipantJoined, Seq: 3, Participant: remote(true, true)})
	s := tr.Snapshot()
	if s.Remote == nil || !s.Remote.Video {
		t.Fatalf("unexpected remote after rejoin: %+v", s.Remote)
	}
}

func TestApply_UpdateOverwritesWithoutMerge(t *testing.T) {
	tr := NewTracker()
	tr.Apply(media.Event{Type: media.EventParticipantJoined, Seq: 1, Participant: remote(true, true)})
	tr.Apply(media.Event{Type: media.EventParticipantUpdated, Seq: 2, Participant: media.Participant{ID: "student", Audio: false}})

	s := tr.Snapshot()
	if s.Remote.Audio || s.Remote.Video || s.Remote.DisplayName != "" {
		t.Fatalf("expected full overwrite, got %+v", s.Remote)
	}
}

func TestApply_UpdateBeforeJoinIsIgnored(t *testing.T) {
	tr := NewTracker()
	if tr.Apply(media.Event{Type: media.EventParticipantUpdated, Seq: 1, Participant: remote(true, true)}) {
		t.Fatal("expected update without join to be ignored")
	}
	if tr.RemotePresent() {
		t.Fatal("update must not announce presence")
	}
}

func TestApply_DropsOutOfOrderEvents(t *testing.T) {
	tr := NewTracker()
	tr.Apply(media.Event{Type: media.EventParticipantJoined, Seq: 1, Participant: remote(true, true)})
	tr.Apply(media.Event{Type: media.EventParticipantUpdated, Seq: 3, Participant: remote(false, false)})
	if tr.Apply(media.Event{Type: media.EventParticipantUpdated, Seq: 2, Participant: remote(true, true)}) {
		t.Fatal("expected stale update to be dropped")
	}
	if s := tr.Snapshot(); s.Remote.Audio {
		t.Fatalf("stale flags resurrected: %+v", s.Remote)
	}
}

func TestApply_LocalSlot(t *testing.T) {
	tr := NewTracker()
	tr.Apply(media.Event{Type: media.EventJoined, Seq: 1, Participant: media.Participant{ID: "tutor", Audio: true}})
	tr.Apply(media.Event{Type: media.EventParticipantUpdated, Seq: 2, Participant: media.Participant{ID: "tutor", Local: true, Video: true}})

	s := tr.Snapshot()
	if !s.Local.Local || s.Local.Audio || !s.Local.Video {
		t.Fatalf("unexpected local: %+v", s.Local)
	}
	if s.Remote != nil {
		t.Fatal("local events must not touch remote")
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker()
	tr.Apply(media.Event{Type: media.EventParticipantJoined, Seq: 7, Participant: remote(true, true)})
	tr.Reset()
	if tr.RemotePresent() {
		t.Fatal("expected remote cleared")
	}
	if !tr.Apply(media.Event{Type: media.EventParticipantJoined, Seq: 1, Participant: remote(true, true)}) {
		t.Fatal("expected sequence to restart after reset")
	}
}

func TestRemotePresenceFollowsLastJoinOrLeave(t *testing.T) {
	types := []media.EventType{
		media.EventParticipantJoined,
		media.EventParticipantLeft,
		media.EventParticipantUpdated,
	}
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		tr := NewTracker()
		want := false
		for seq := uint64(1); seq <= 30; seq++ {
			typ := types[rng.Intn(len(types))]
			tr.Apply(media.Event{Type: typ, Seq: seq, Participant: remote(rng.Intn(2) == 0, rng.Intn(2) == 0)})
			switch typ {
			case media.EventParticipantJoined:
				want = true
			case media.EventParticipantLeft:
				want = false
			}
			if got := tr.RemotePresent(); got != want {
				t.Fatalf("run %d seq %d after %s: remote present = %v, want %v", run, seq, typ, got, want)
			}
		}
	}
}

func TestSetLocalDevicesAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Apply(media.Event{Type: media.EventJoined, Seq: 1, Participant: media.Participant{ID: "tutor", Audio: true, Video: true}})
	tr.SetLocalAudio(false)
	s := tr.Snapshot()
	if s.Local.Audio || !s.Local.Video {
		t.Fatalf("unexpected local after mic change: %+v", s.Local)
	}
	tr.SetLocalVideo(false)
	if s := tr.Snapshot(); s.Local.Video {
		t.Fatalf("unexpected local after camera change: %+v", s.Local)
	}
}

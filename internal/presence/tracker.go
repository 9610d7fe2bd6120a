package presence

import (
	"log/slog"
	"sync"

	"github.com/foxseedlab/lessoncall/internal/media"
)

type Snapshot struct {
	Local  media.Participant
	Remote *media.Participant
}

// Tracker projects provider events into the current local and remote
// participant state. Events with a sequence number at or below the last
// applied one are dropped; Seq 0 is treated as unsequenced.
type Tracker struct {
	mu      sync.Mutex
	local   media.Participant
	remote  *media.Participant
	lastSeq uint64
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Apply reports whether the event changed the snapshot.
func (t *Tracker) Apply(ev media.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Seq != 0 {
		if ev.Seq <= t.lastSeq {
			slog.Debug("drop stale presence event", "type", string(ev.Type), "seq", ev.Seq, "last_seq", t.lastSeq)
			return false
		}
		t.lastSeq = ev.Seq
	}

	p := ev.Participant
	switch ev.Type {
	case media.EventJoined:
		p.Local = true
		t.local = p
		return true
	case media.EventParticipantJoined:
		if p.Local {
			return false
		}
		t.remote = &p
		return true
	case media.EventParticipantLeft:
		if p.Local || t.remote == nil {
			return false
		}
		if p.ID != "" && t.remote.ID != "" && p.ID != t.remote.ID {
			return false
		}
		t.remote = nil
		return true
	case media.EventParticipantUpdated:
		if p.Local {
			t.local = p
			return true
		}
		if t.remote == nil {
			return false
		}
		t.remote = &p
		return true
	}
	return false
}

// SetLocalAudio records an acknowledged local microphone change.
func (t *Tracker) SetLocalAudio(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local.Audio = enabled
}

func (t *Tracker) SetLocalVideo(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local.Video = enabled
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{Local: t.local}
	if t.remote != nil {
		r := *t.remote
		s.Remote = &r
	}
	return s
}

func (t *Tracker) RemotePresent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote != nil
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local = media.Participant{}
	t.remote = nil
	t.lastSeq = 0
}

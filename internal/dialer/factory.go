package dialer

import "github.com/foxseedlab/lessoncall/internal/session"

type Factory struct {
	cfg      Config
	events   session.EventRecorder
	lessons  NoAnswerMarker
	observer Observer
}

func NewFactory(cfg Config, events session.EventRecorder, lessons NoAnswerMarker, observer Observer) *Factory {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Factory{cfg: cfg, events: events, lessons: lessons, observer: observer}
}

func (f *Factory) New(lessonID string, sess Session) *Initiator {
	return NewInitiator(f.cfg, lessonID, sess, f.events, f.lessons, WithObserver(f.observer))
}

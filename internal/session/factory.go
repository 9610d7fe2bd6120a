package session

import (
	"time"

	"github.com/foxseedlab/lessoncall/internal/media"
)

// Factory builds orchestrators that share the provider and the durable
// side-effect targets.
type Factory struct {
	provider         media.Provider
	events           EventRecorder
	lessons          LessonReconciler
	observer         Observer
	remoteLeaveGrace time.Duration
}

func NewFactory(provider media.Provider, events EventRecorder, lessons LessonReconciler, observer Observer, remoteLeaveGrace time.Duration) *Factory {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Factory{
		provider:         provider,
		events:           events,
		lessons:          lessons,
		observer:         observer,
		remoteLeaveGrace: remoteLeaveGrace,
	}
}

func (f *Factory) New(params Params) *Orchestrator {
	if params.RemoteLeaveGrace == 0 {
		params.RemoteLeaveGrace = f.remoteLeaveGrace
	}
	return NewOrchestrator(params, f.provider, f.events, f.lessons, WithObserver(f.observer))
}

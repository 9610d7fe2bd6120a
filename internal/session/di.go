package session

import (
	"github.com/foxseedlab/lessoncall/internal/config"
	"github.com/foxseedlab/lessoncall/internal/eventlog"
	"github.com/foxseedlab/lessoncall/internal/media"
	"github.com/foxseedlab/lessoncall/internal/metrics"
	"github.com/foxseedlab/lessoncall/internal/schedule"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Factory, error) {
		cfg := do.MustInvoke[*config.Config](i)
		provider := do.MustInvoke[media.Provider](i)
		events := do.MustInvoke[*eventlog.Logger](i)
		lessons := do.MustInvoke[*schedule.Reconciler](i)
		collector := do.MustInvoke[*metrics.Collector](i)
		return NewFactory(provider, events, lessons, collector, cfg.RemoteLeaveGrace()), nil
	})
}

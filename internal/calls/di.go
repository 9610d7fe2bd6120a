package calls

import (
	"github.com/foxseedlab/lessoncall/internal/config"
	"github.com/foxseedlab/lessoncall/internal/coordination"
	"github.com/foxseedlab/lessoncall/internal/dialer"
	"github.com/foxseedlab/lessoncall/internal/metrics"
	"github.com/foxseedlab/lessoncall/internal/repository"
	"github.com/foxseedlab/lessoncall/internal/session"
	"github.com/foxseedlab/lessoncall/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewManager(Deps{
			Lessons:  do.MustInvoke[repository.Repository](i),
			Sessions: do.MustInvoke[*session.Factory](i),
			Dialers:  do.MustInvoke[*dialer.Factory](i),
			Guard:    do.MustInvoke[coordination.Guard](i),
			Rooms:    do.MustInvoke[coordination.RoomDirectory](i),
			Signals:  do.MustInvoke[coordination.Signaler](i),
			Webhook:  do.MustInvoke[webhook.Sender](i),
			Gauge:    do.MustInvoke[*metrics.Collector](i),
			LockTTL:  cfg.SessionLockTTL(),
		}), nil
	})
}

package httpapi

import (
	"github.com/foxseedlab/lessoncall/internal/calls"
	"github.com/foxseedlab/lessoncall/internal/config"
	"github.com/foxseedlab/lessoncall/internal/eventlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*gin.Engine, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.IsDevelopment() {
			gin.SetMode(gin.ReleaseMode)
		}
		return NewRouter(Handlers{
			Calls:  do.MustInvoke[*calls.Manager](i),
			Events: do.MustInvoke[*eventlog.Logger](i),
		}, prometheus.DefaultGatherer), nil
	})
}

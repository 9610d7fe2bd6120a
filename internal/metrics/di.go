package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Collector, error) {
		return NewCollector(prometheus.DefaultRegisterer), nil
	})
}

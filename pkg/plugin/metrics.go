package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stderr_plugin_resolutions_total",
			Help: "Total number of plugin resolutions by capability and result code",
		},
		[]string{"capability", "result"},
	)

	unitLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stderr_plugin_unit_loads_total",
			Help: "Total number of plugin source units read from disk",
		},
		[]string{"result"},
	)

	resolutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stderr_plugin_resolution_duration_seconds",
			Help:    "Time spent resolving a plugin declaration",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"capability"},
	)
)

// Collectors returns the resolver metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{resolutionsTotal, unitLoadsTotal, resolutionDuration}
}

// RegisterMetrics registers the resolver metrics with reg. Already-registered
// collectors are ignored.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

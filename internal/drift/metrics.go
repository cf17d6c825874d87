package drift

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type sensorMetrics struct {
	psi    *prometheus.GaugeVec
	events *prometheus.CounterVec
}

var (
	globalMetrics *sensorMetrics
	metricsOnce   sync.Once
)

func initMetrics() *sensorMetrics {
	metricsOnce.Do(func() {
		globalMetrics = &sensorMetrics{
			psi: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mt5crs_drift_psi",
					Help: "Latest Population Stability Index reading between reference and current signal windows",
				},
				[]string{"label"},
			),
			events: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mt5crs_drift_events_total",
					Help: "Total PSI-threshold breach events",
				},
				[]string{"label"},
			),
		}
	})
	return globalMetrics
}

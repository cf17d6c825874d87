package latency

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type sensorMetrics struct {
	p99    *prometheus.GaugeVec
	spikes *prometheus.CounterVec
}

var (
	globalMetrics *sensorMetrics
	metricsOnce   sync.Once
)

func initMetrics() *sensorMetrics {
	metricsOnce.Do(func() {
		globalMetrics = &sensorMetrics{
			p99: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mt5crs_latency_p99_ms",
					Help: "Rolling-window P99 gateway round-trip latency in milliseconds",
				},
				[]string{"symbol"},
			),
			spikes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mt5crs_latency_critical_spikes_total",
					Help: "Total observations at or above the critical latency threshold",
				},
				[]string{"symbol"},
			),
		}
	})
	return globalMetrics
}

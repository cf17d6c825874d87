// Package latency tracks gateway round-trip latency in a rolling window and
// engages the circuit breaker after repeated critical-threshold spikes
// (spec §4.6).
package latency

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/alerts"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

// Config configures the Sensor's window and thresholds (spec §4.6).
type Config struct {
	WindowSize       int
	WarningMS        float64
	CriticalMS       float64
	SpikeEngageCount int
}

// Sample is a single latency percentile reading.
type Sample struct {
	P95       time.Duration
	P99       time.Duration
	Timestamp time.Time
}

// Sensor maintains a fixed-size rolling window of round-trip observations
// and derives exact P95/P99 by sorting the window on each read.
type Sensor struct {
	mu      sync.Mutex
	cfg     Config
	label   string
	window  []time.Duration
	durable *breaker.Manager
	log     zerolog.Logger
	metrics *sensorMetrics
}

// NewSensor constructs a Sensor. label identifies this sensor's series in the
// exported Prometheus metrics (e.g. a symbol name or "gateway").
func NewSensor(label string, cfg Config, durable *breaker.Manager, log zerolog.Logger) *Sensor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	return &Sensor{
		cfg:     cfg,
		label:   label,
		window:  make([]time.Duration, 0, cfg.WindowSize),
		durable: durable,
		log:     log.With().Str("component", "latency_sensor").Str("label", label).Logger(),
		metrics: initMetrics(),
	}
}

// Observe records one round-trip latency. When the observation crosses the
// critical threshold SpikeEngageCount times, the breaker is engaged
// (spec §4.6).
func (s *Sensor) Observe(ctx context.Context, d time.Duration) Sample {
	s.mu.Lock()

	if len(s.window) == s.cfg.WindowSize {
		s.window = s.window[1:]
	}
	s.window = append(s.window, d)

	if float64(d.Microseconds())/1000.0 >= s.cfg.CriticalMS {
		s.metrics.spikes.WithLabelValues(s.label).Inc()
	}

	sample := s.percentilesLocked()
	spikes := s.spikeCountLocked()
	s.mu.Unlock()

	s.metrics.p99.WithLabelValues(s.label).Set(float64(sample.P99.Microseconds()) / 1000.0)

	if spikes >= s.cfg.SpikeEngageCount {
		_ = s.durable.Engage("LATENCY_SPIKE", map[string]string{
			"p99_ms":      sample.P99.String(),
			"spike_count": strconv.Itoa(spikes),
		})
		alerts.RiskBreach(ctx, "latency_p99", float64(sample.P99.Milliseconds()), s.cfg.CriticalMS)
	}

	return sample
}

// spikeCountLocked counts samples at or above the critical threshold
// currently present in the window, not required to be consecutive
// (spec §4.6: spike_count >= 3 within the window).
func (s *Sensor) spikeCountLocked() int {
	count := 0
	for _, d := range s.window {
		if float64(d.Microseconds())/1000.0 >= s.cfg.CriticalMS {
			count++
		}
	}
	return count
}

// percentilesLocked computes exact P95/P99 by sorting a copy of the window.
func (s *Sensor) percentilesLocked() Sample {
	if len(s.window) == 0 {
		return Sample{Timestamp: time.Now().UTC()}
	}

	sorted := make([]time.Duration, len(s.window))
	copy(sorted, s.window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return Sample{
		P95:       percentile(sorted, 0.95),
		P99:       percentile(sorted, 0.99),
		Timestamp: time.Now().UTC(),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// Percentiles returns the current window's P95/P99 without recording a new sample.
func (s *Sensor) Percentiles() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percentilesLocked()
}

// SpikeCount returns the number of critical-threshold samples currently
// present in the rolling window.
func (s *Sensor) SpikeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spikeCountLocked()
}


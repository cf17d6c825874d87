// Package drift measures distributional drift between a signal model's
// reference output window and its current output window using Population
// Stability Index (PSI), engaging the circuit breaker when drift events
// recur too often within a rolling day (spec §4.7).
package drift

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cinar/indicator/v2/trend"
	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/alerts"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

// Config configures the Sensor's windows, buckets and thresholds (spec §4.7).
type Config struct {
	ReferenceWindow int
	CurrentWindow   int
	Buckets         int
	Smoothing       float64
	PSIThreshold    float64
	EventsPerDayMax int
}

// historyDepth bounds how many past evaluations feed the per-bucket EMA
// smoothing pass; it damps single-window sampling noise before PSI compares
// the smoothed proportions (spec §4.7 "current distribution" reading).
const historyDepth = 5

// Reading is one PSI evaluation result.
type Reading struct {
	PSI       float64
	Breach    bool
	Timestamp time.Time
}

// Sensor tracks a reference window of signal scores, locked once it fills,
// and a sliding current window evaluated against it on every new score.
type Sensor struct {
	mu    sync.Mutex
	cfg   Config
	label string

	reference       []float64
	referenceLocked bool
	edges           []float64
	refProps        []float64

	current []float64

	bucketHistory [][]float64
	events        []time.Time

	durable *breaker.Manager
	log     zerolog.Logger
	metrics *sensorMetrics
}

// NewSensor constructs a Sensor. label identifies this sensor's series in the
// exported Prometheus metrics (e.g. a model name or symbol).
func NewSensor(label string, cfg Config, durable *breaker.Manager, log zerolog.Logger) *Sensor {
	if cfg.Buckets <= 0 {
		cfg.Buckets = 3
	}
	if cfg.Smoothing <= 0 {
		cfg.Smoothing = 0.0001
	}
	return &Sensor{
		cfg:           cfg,
		label:         label,
		bucketHistory: make([][]float64, cfg.Buckets),
		durable:       durable,
		log:           log.With().Str("component", "drift_sensor").Str("label", label).Logger(),
		metrics:       initMetrics(),
	}
}

// Observe feeds one signal score into the sensor. Until the reference window
// fills, scores only accumulate the reference. Once locked, every further
// score slides the current window and triggers a PSI evaluation.
func (s *Sensor) Observe(ctx context.Context, score float64) (Reading, bool) {
	s.mu.Lock()

	if !s.referenceLocked {
		s.reference = append(s.reference, score)
		if len(s.reference) < s.cfg.ReferenceWindow {
			s.mu.Unlock()
			return Reading{}, false
		}
		s.lockReferenceLocked()
	}

	s.current = append(s.current, score)
	if len(s.current) > s.cfg.CurrentWindow {
		s.current = s.current[len(s.current)-s.cfg.CurrentWindow:]
	}
	if len(s.current) < s.cfg.CurrentWindow {
		s.mu.Unlock()
		return Reading{}, false
	}

	reading := s.evaluateLocked()
	s.mu.Unlock()

	s.metrics.psi.WithLabelValues(s.label).Set(reading.PSI)

	if reading.Breach {
		s.metrics.events.WithLabelValues(s.label).Inc()
		s.recordEventAndMaybeEngage(ctx, reading)
	}

	return reading, true
}

// lockReferenceLocked computes equal-frequency bucket edges from the filled
// reference window and freezes the reference proportions. Caller holds s.mu.
func (s *Sensor) lockReferenceLocked() {
	sorted := make([]float64, len(s.reference))
	copy(sorted, s.reference)
	sort.Float64s(sorted)

	s.edges = make([]float64, s.cfg.Buckets-1)
	for i := 1; i < s.cfg.Buckets; i++ {
		idx := (len(sorted) * i) / s.cfg.Buckets
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		s.edges[i-1] = sorted[idx]
	}

	s.refProps = proportions(s.reference, s.edges, s.cfg.Buckets)
	s.referenceLocked = true
}

// evaluateLocked buckets the current window, smooths each bucket's
// proportion against its recent history via an exponential moving average,
// and returns the PSI between the smoothed current distribution and the
// frozen reference distribution. Caller holds s.mu.
func (s *Sensor) evaluateLocked() Reading {
	rawCurrent := proportions(s.current, s.edges, s.cfg.Buckets)
	smoothed := make([]float64, s.cfg.Buckets)

	for b := 0; b < s.cfg.Buckets; b++ {
		s.bucketHistory[b] = append(s.bucketHistory[b], rawCurrent[b])
		if len(s.bucketHistory[b]) > historyDepth {
			s.bucketHistory[b] = s.bucketHistory[b][len(s.bucketHistory[b])-historyDepth:]
		}
		smoothed[b] = smoothedValue(s.bucketHistory[b])
	}

	psi := populationStabilityIndex(s.refProps, smoothed, s.cfg.Smoothing)

	return Reading{
		PSI:       psi,
		Breach:    psi >= s.cfg.PSIThreshold,
		Timestamp: time.Now().UTC(),
	}
}

// smoothedValue runs a bucket's recent raw-proportion history through an
// exponential moving average and returns its last value.
func smoothedValue(history []float64) float64 {
	if len(history) == 1 {
		return history[0]
	}

	in := make(chan float64, len(history))
	for _, v := range history {
		in <- v
	}
	close(in)

	ema := trend.NewEmaWithPeriod[float64](len(history))
	out := ema.Compute(in)

	var last float64
	for v := range out {
		last = v
	}
	return last
}

// proportions buckets values using the given equal-frequency edges and
// returns each bucket's fraction of the total.
func proportions(values, edges []float64, buckets int) []float64 {
	counts := make([]float64, buckets)
	for _, v := range values {
		counts[bucketOf(v, edges)]++
	}
	total := float64(len(values))
	props := make([]float64, buckets)
	for i, c := range counts {
		if total > 0 {
			props[i] = c / total
		}
	}
	return props
}

func bucketOf(v float64, edges []float64) int {
	for i, edge := range edges {
		if v <= edge {
			return i
		}
	}
	return len(edges)
}

// populationStabilityIndex computes PSI with additive (Laplace-style)
// smoothing on both distributions to avoid log(0) on empty buckets.
func populationStabilityIndex(reference, current []float64, smoothing float64) float64 {
	var psi float64
	for i := range reference {
		ref := reference[i] + smoothing
		cur := current[i] + smoothing
		psi += (cur - ref) * math.Log(cur/ref)
	}
	return psi
}

// recordEventAndMaybeEngage tracks PSI-breach events in a rolling 24h window
// and engages the durable breaker once the count within that window exceeds
// EventsPerDayMax (spec §4.7).
func (s *Sensor) recordEventAndMaybeEngage(ctx context.Context, reading Reading) {
	s.mu.Lock()
	cutoff := reading.Timestamp.Add(-24 * time.Hour)
	kept := s.events[:0]
	for _, t := range s.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, reading.Timestamp)
	s.events = kept
	count := len(s.events)
	s.mu.Unlock()

	if count > s.cfg.EventsPerDayMax {
		_ = s.durable.Engage("DRIFT_DETECTED", map[string]string{
			"psi":              formatFloat(reading.PSI),
			"events_24h":       formatInt(count),
			"events_24h_limit": formatInt(s.cfg.EventsPerDayMax),
		})
		alerts.RiskBreach(ctx, "drift_psi", reading.PSI, s.cfg.PSIThreshold)
	}
}

// EventsToday returns the number of PSI-breach events recorded in the
// trailing 24h window.
func (s *Sensor) EventsToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

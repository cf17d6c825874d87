package latency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

func testLogger() zerolog.Logger { return zerolog.New(os.Stderr) }

func testSensor(t *testing.T, cfg Config) (*Sensor, *breaker.Manager) {
	t.Helper()
	m, err := breaker.NewManager(t.TempDir()+"/breaker.json", testLogger())
	require.NoError(t, err)
	return NewSensor("test", cfg, m, testLogger()), m
}

func TestSensor_ComputesExactPercentiles(t *testing.T) {
	sensor, _ := testSensor(t, Config{WindowSize: 10, WarningMS: 50, CriticalMS: 1000, SpikeEngageCount: 100})

	for i := 1; i <= 10; i++ {
		sensor.Observe(context.Background(), time.Duration(i)*10*time.Millisecond)
	}

	sample := sensor.Percentiles()
	assert.Equal(t, 90*time.Millisecond, sample.P95)
	assert.Equal(t, 90*time.Millisecond, sample.P99)
}

func TestSensor_WindowEvictsOldestOnOverflow(t *testing.T) {
	sensor, _ := testSensor(t, Config{WindowSize: 3, WarningMS: 50, CriticalMS: 1000, SpikeEngageCount: 100})

	sensor.Observe(context.Background(), 500*time.Millisecond)
	sensor.Observe(context.Background(), 10*time.Millisecond)
	sensor.Observe(context.Background(), 20*time.Millisecond)
	sensor.Observe(context.Background(), 30*time.Millisecond)

	sample := sensor.Percentiles()
	assert.Equal(t, 20*time.Millisecond, sample.P99)
}

func TestSensor_EngagesBreakerAfterConsecutiveCriticalSpikes(t *testing.T) {
	sensor, durable := testSensor(t, Config{WindowSize: 20, WarningMS: 50, CriticalMS: 100, SpikeEngageCount: 3})

	sensor.Observe(context.Background(), 150*time.Millisecond)
	assert.False(t, durable.ShouldHalt())
	sensor.Observe(context.Background(), 200*time.Millisecond)
	assert.False(t, durable.ShouldHalt())
	sensor.Observe(context.Background(), 250*time.Millisecond)

	assert.True(t, durable.ShouldHalt())
	assert.Equal(t, "LATENCY_SPIKE", durable.Reason())
}

func TestSensor_CountsSpikesWithinWindowNotJustConsecutive(t *testing.T) {
	sensor, durable := testSensor(t, Config{WindowSize: 20, WarningMS: 50, CriticalMS: 100, SpikeEngageCount: 3})

	sensor.Observe(context.Background(), 150*time.Millisecond)
	sensor.Observe(context.Background(), 200*time.Millisecond)
	sensor.Observe(context.Background(), 10*time.Millisecond)
	assert.Equal(t, 2, sensor.SpikeCount())
	assert.False(t, durable.ShouldHalt())

	sensor.Observe(context.Background(), 150*time.Millisecond)

	assert.True(t, durable.ShouldHalt())
	assert.Equal(t, "LATENCY_SPIKE", durable.Reason())
}

func TestSensor_SpikeCountDropsAsCriticalSamplesLeaveWindow(t *testing.T) {
	sensor, _ := testSensor(t, Config{WindowSize: 3, WarningMS: 50, CriticalMS: 100, SpikeEngageCount: 100})

	sensor.Observe(context.Background(), 150*time.Millisecond)
	sensor.Observe(context.Background(), 200*time.Millisecond)
	assert.Equal(t, 2, sensor.SpikeCount())

	sensor.Observe(context.Background(), 10*time.Millisecond)
	sensor.Observe(context.Background(), 10*time.Millisecond)
	sensor.Observe(context.Background(), 10*time.Millisecond)
	assert.Equal(t, 0, sensor.SpikeCount())
}

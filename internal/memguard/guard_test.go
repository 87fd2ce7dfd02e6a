package memguard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GifariKemal/iiot-gateway-core/internal/alloc"
	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
)

type fakeStrategy struct{ free uint64 }

func (f fakeStrategy) FreeBytes(p alloc.Pool) uint64 { return f.free }

func TestClassifyBands(t *testing.T) {
	th := defaultThresholds()
	assert.Equal(t, LevelHealthy, classify(100*1024, th))
	assert.Equal(t, LevelWarning, classify(40*1024, th))
	assert.Equal(t, LevelCritical, classify(20*1024, th))
	assert.Equal(t, LevelEmergency, classify(5*1024, th))
}

func TestCheckOnceFlushesQueueUnderWarning(t *testing.T) {
	q := queue.New[model.MeasurementPoint](100)
	for i := 0; i < 30; i++ {
		q.Push(model.MeasurementPoint{DeviceID: "d1", RegisterID: "r1"})
	}
	g := New(fakeStrategy{free: 40 * 1024}, q, nil, nil)

	level := g.checkOnce(context.Background())
	assert.Equal(t, LevelWarning, level)
	assert.Equal(t, 10, q.Len()) // 30 - 20 flushed
}

func TestCheckOnceTriggersRestartAfterSustainedEmergency(t *testing.T) {
	q := queue.New[model.MeasurementPoint](100)
	restarted := 0
	g := New(fakeStrategy{free: 1024}, q, nil, func() { restarted++ }).
		WithThresholds(Thresholds{
			HealthyBytes: 80 * 1024, WarningBytes: 40 * 1024, CriticalBytes: 20 * 1024,
			EmergencyBytes: 10 * 1024, RestartAfterN: 3,
		})

	for i := 0; i < 2; i++ {
		g.checkOnce(context.Background())
	}
	assert.Equal(t, 0, restarted)

	g.checkOnce(context.Background())
	assert.Equal(t, 1, restarted)
}

func TestEmergencyStreakResetsOnRecovery(t *testing.T) {
	q := queue.New[model.MeasurementPoint](100)
	restarted := 0
	strat := &mutableStrategy{free: 1024}
	g := New(strat, q, nil, func() { restarted++ }).
		WithThresholds(Thresholds{
			HealthyBytes: 80 * 1024, WarningBytes: 40 * 1024, CriticalBytes: 20 * 1024,
			EmergencyBytes: 10 * 1024, RestartAfterN: 2,
		})

	g.checkOnce(context.Background())
	strat.free = 100 * 1024 // recovers to HEALTHY, streak should reset
	g.checkOnce(context.Background())
	strat.free = 1024
	g.checkOnce(context.Background())

	require.Equal(t, 0, restarted)
}

type mutableStrategy struct{ free uint64 }

func (m *mutableStrategy) FreeBytes(p alloc.Pool) uint64 { return m.free }

package modbus

import (
	"testing"
	"time"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBackoffLadder is spec.md §8's "Backoff ladder" scenario: base=100ms,
// max_retries=5, deltas 100/200/400/800/1600ms, 6th failure disables.
func TestBackoffLadder(t *testing.T) {
	state := model.NewDeviceRuntimeState("d1")
	now := time.Now()
	base := 100 * time.Millisecond
	wantDeltas := []time.Duration{100, 200, 400, 800, 1600}

	for i, want := range wantDeltas {
		delay := recordFailure(state, base, 5, now)
		assert.Equal(t, want*time.Millisecond, delay, "failure %d", i+1)
		assert.False(t, state.IsDisabled(), "should not disable before max_retries")
	}

	// 6th failure: retry_count (6) exceeds max_retries (5), auto-disable fires.
	recordFailure(state, base, 5, now)
	assert.True(t, state.IsDisabled())
	assert.Equal(t, model.DisableAutoRetry, state.DisableReason)
}

func TestBackoffMonotonicity(t *testing.T) {
	var prev time.Duration
	for i := 1; i <= 6; i++ {
		d := backoffDelay(100*time.Millisecond, i)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestRecordTimeoutDisablesAtThreshold(t *testing.T) {
	state := model.NewDeviceRuntimeState("d1")
	now := time.Now()
	recordTimeout(state, 100*time.Millisecond, 3, now)
	recordTimeout(state, 100*time.Millisecond, 3, now)
	assert.False(t, state.IsDisabled())
	recordTimeout(state, 100*time.Millisecond, 3, now)
	assert.True(t, state.IsDisabled())
	assert.Equal(t, model.DisableAutoTimeout, state.DisableReason)
}

func TestRecordSuccessResetsCounters(t *testing.T) {
	state := model.NewDeviceRuntimeState("d1")
	now := time.Now()
	recordFailure(state, 100*time.Millisecond, 5, now)
	recordSuccess(state, 42, now.Add(time.Second))
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.Equal(t, 0, state.RetryCount)
	assert.False(t, state.LastSuccessfulRead.IsZero())
}

func TestSweepAutoRecoveryRespectsStaleWindow(t *testing.T) {
	now := time.Now()
	states := map[string]*model.DeviceRuntimeState{
		"fresh": {DeviceID: "fresh", DisableReason: model.DisableAutoRetry, DisabledAt: now.Add(-1 * time.Minute)},
		"stale": {DeviceID: "stale", DisableReason: model.DisableAutoTimeout, DisabledAt: now.Add(-6 * time.Minute)},
		"manual": {DeviceID: "manual", DisableReason: model.DisableManual, DisabledAt: now.Add(-10 * time.Minute)},
	}

	recovered := sweepAutoRecovery(states, now)
	require.Equal(t, []string{"stale"}, recovered)
	assert.False(t, states["stale"].IsDisabled())
	assert.True(t, states["fresh"].IsDisabled())
	assert.True(t, states["manual"].IsDisabled())
}

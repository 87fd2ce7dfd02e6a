package modbus

import (
	"time"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
)

// defaultMaxConsecutiveTimeouts is spec.md §4.2's "default 3" for
// consecutive_timeouts ≥ max_consecutive_timeouts, applied uniformly since
// the device document carries no per-device override for it.
const defaultMaxConsecutiveTimeouts = 3

// autoRecoveryStaleAfter is the 5-minute window of §4.2 "Auto-recovery".
const autoRecoveryStaleAfter = 5 * time.Minute

// backoffDelay computes next_retry_time's delay for the retryCount-th
// failure: base_backoff * 2^min(retryCount-1, 5), per §4.2's failure model
// and §8 property 4 (backoff monotonicity). retryCount is 1-based (the
// count after the failure currently being recorded), so the 1st failure
// yields base_backoff unshifted.
func backoffDelay(base time.Duration, retryCount int) time.Duration {
	shift := retryCount - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 5 {
		shift = 5
	}
	return base << uint(shift)
}

// recordFailure applies one read failure to a device's runtime state and
// returns the delay until its next retry. maxRetries <= 0 means "never
// auto-disable on failure count" (a misconfigured device document).
func recordFailure(state *model.DeviceRuntimeState, baseBackoff time.Duration, maxRetries int, now time.Time) time.Duration {
	state.ConsecutiveFailures++
	state.RetryCount++
	state.Health.RecordRead(false, 0)

	delay := backoffDelay(baseBackoff, state.RetryCount)
	state.NextRetryTime = now.Add(delay)

	if maxRetries > 0 && state.RetryCount > maxRetries {
		state.Disable(model.DisableAutoRetry, "max_retries exceeded", now)
	}
	return delay
}

// recordTimeout applies one read timeout, auto-disabling once
// consecutive_timeouts reaches the configured ceiling.
func recordTimeout(state *model.DeviceRuntimeState, baseBackoff time.Duration, maxConsecutiveTimeouts int, now time.Time) {
	state.ConsecutiveTimeouts++
	state.Health.RecordRead(false, 0)
	state.NextRetryTime = now.Add(backoffDelay(baseBackoff, state.ConsecutiveTimeouts))

	if maxConsecutiveTimeouts <= 0 {
		maxConsecutiveTimeouts = defaultMaxConsecutiveTimeouts
	}
	if state.ConsecutiveTimeouts >= maxConsecutiveTimeouts {
		state.Disable(model.DisableAutoTimeout, "max_consecutive_timeouts exceeded", now)
	}
}

// recordSuccess clears the failure ladder and records the read's latency.
func recordSuccess(state *model.DeviceRuntimeState, elapsedMS int64, now time.Time) {
	state.ResetOnSuccess(now)
	state.Health.RecordRead(true, elapsedMS)
}

// sweepAutoRecovery re-enables every device in states whose DisableReason
// is an AUTO_* reason stale by at least autoRecoveryStaleAfter, per the §4.2
// "Auto-recovery" background pass. It returns the device IDs re-enabled so
// the caller can re-admit them into the scheduler.
func sweepAutoRecovery(states map[string]*model.DeviceRuntimeState, now time.Time) []string {
	var recovered []string
	for id, state := range states {
		if state.EligibleForAutoRecovery(now, autoRecoveryStaleAfter) {
			state.Enable()
			recovered = append(recovered, id)
		}
	}
	return recovered
}

package model

import "time"

// DisableReason explains why a device was taken out of the polling
// rotation.
type DisableReason string

const (
	DisableNone       DisableReason = "NONE"
	DisableManual     DisableReason = "MANUAL"
	DisableAutoRetry  DisableReason = "AUTO_RETRY"
	DisableAutoTimeout DisableReason = "AUTO_TIMEOUT"
)

// HealthMetrics are the per-device counters used to derive success rate and
// average response time (spec.md §3).
type HealthMetrics struct {
	TotalReads          int64
	SuccessfulReads     int64
	FailedReads         int64
	TotalResponseTimeMS int64
	MinMS               int64
	MaxMS               int64
	LastMS              int64
}

// RecordRead folds one register read's outcome and latency into the
// rolling counters.
func (h *HealthMetrics) RecordRead(success bool, elapsedMS int64) {
	h.TotalReads++
	if success {
		h.SuccessfulReads++
		h.TotalResponseTimeMS += elapsedMS
		if h.MinMS == 0 || elapsedMS < h.MinMS {
			h.MinMS = elapsedMS
		}
		if elapsedMS > h.MaxMS {
			h.MaxMS = elapsedMS
		}
		h.LastMS = elapsedMS
	} else {
		h.FailedReads++
	}
}

// SuccessRate returns successful/total*100, defaulting to 100 when no reads
// have been attempted yet (spec.md §3).
func (h HealthMetrics) SuccessRate() float64 {
	if h.TotalReads == 0 {
		return 100.0
	}
	return float64(h.SuccessfulReads) / float64(h.TotalReads) * 100.0
}

// AverageMS returns the mean response time of successful reads, 0 if none
// have succeeded.
func (h HealthMetrics) AverageMS() float64 {
	if h.SuccessfulReads == 0 {
		return 0
	}
	return float64(h.TotalResponseTimeMS) / float64(h.SuccessfulReads)
}

// DeviceRuntimeState is the in-memory, non-persisted scheduling/failure
// state for one device (spec.md §3).
type DeviceRuntimeState struct {
	DeviceID      string
	LastPollTime  time.Time
	NextRetryTime time.Time

	ConsecutiveFailures int
	ConsecutiveTimeouts int
	RetryCount          int

	DisableReason DisableReason
	DisableDetail string
	DisabledAt    time.Time

	LastSuccessfulRead time.Time

	Health HealthMetrics
}

// NewDeviceRuntimeState returns a freshly-initialized runtime state for a
// device entering the scheduler, per the "Device created" lifecycle clause
// of spec.md §3.
func NewDeviceRuntimeState(deviceID string) *DeviceRuntimeState {
	return &DeviceRuntimeState{DeviceID: deviceID, DisableReason: DisableNone}
}

// IsDisabled reports whether the device should currently be skipped by the
// polling scheduler (enabled flag is handled separately by the caller).
func (s *DeviceRuntimeState) IsDisabled() bool {
	return s.DisableReason != DisableNone
}

// ResetOnSuccess clears the failure counters on a successful read
// (spec.md §4.2 "On successful read").
func (s *DeviceRuntimeState) ResetOnSuccess(now time.Time) {
	s.ConsecutiveFailures = 0
	s.ConsecutiveTimeouts = 0
	s.RetryCount = 0
	s.LastSuccessfulRead = now
}

// Disable transitions the device into a disabled state with the given
// reason and detail, recording when it happened.
func (s *DeviceRuntimeState) Disable(reason DisableReason, detail string, now time.Time) {
	s.DisableReason = reason
	s.DisableDetail = detail
	s.DisabledAt = now
}

// Enable clears a disabled state and resets failure counters, as done by
// auto-recovery (spec.md §4.2) or a manual re-enable command.
func (s *DeviceRuntimeState) Enable() {
	s.DisableReason = DisableNone
	s.DisableDetail = ""
	s.DisabledAt = time.Time{}
	s.ConsecutiveFailures = 0
	s.ConsecutiveTimeouts = 0
	s.RetryCount = 0
}

// EligibleForAutoRecovery reports whether this device was disabled by an
// AUTO_* reason at least staleAfter ago (spec.md §4.2's 5-minute rule).
func (s *DeviceRuntimeState) EligibleForAutoRecovery(now time.Time, staleAfter time.Duration) bool {
	switch s.DisableReason {
	case DisableAutoRetry, DisableAutoTimeout:
		return !s.DisabledAt.IsZero() && now.Sub(s.DisabledAt) >= staleAfter
	default:
		return false
	}
}

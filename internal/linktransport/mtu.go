package linktransport

import (
	"sync"
	"time"
)

// MTUState is the state machine of spec.md §4.4 "MTU negotiation".
type MTUState string

const (
	MTUIdle       MTUState = "IDLE"
	MTUInitiating MTUState = "INITIATING"
	MTUInProgress MTUState = "IN_PROGRESS"
	MTUCompleted  MTUState = "COMPLETED"
	MTUTimeout    MTUState = "TIMEOUT"
	MTUFailed     MTUState = "FAILED"
)

// mtuNegotiator runs the MTU negotiation state machine for one session.
// On client connect it requests up to defaultMaxMTU, accepts up to
// acceptedMaxMTU, retries up to negotiationMaxRetries times on a 5 s
// timeout, then falls back to safeFallbackMTU with UsesFallback set.
type mtuNegotiator struct {
	mu           sync.Mutex
	state        MTUState
	negotiatedMTU int
	usesFallback bool
	attempts     int
}

func newMTUNegotiator() *mtuNegotiator {
	return &mtuNegotiator{state: MTUIdle, negotiatedMTU: safeFallbackMTU}
}

// Start transitions IDLE -> INITIATING and returns the MTU to request.
func (m *mtuNegotiator) Start() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = MTUInitiating
	m.attempts = 0
	return defaultMaxMTU
}

// Requested marks that the request has gone out; the caller now awaits
// the peer's response within negotiationTimeoutSeconds.
func (m *mtuNegotiator) Requested() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = MTUInProgress
}

// Accept completes negotiation with the peer's granted MTU, clamped to
// acceptedMaxMTU.
func (m *mtuNegotiator) Accept(granted int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if granted > acceptedMaxMTU {
		granted = acceptedMaxMTU
	}
	if granted <= 0 {
		granted = safeFallbackMTU
	}
	m.negotiatedMTU = granted
	m.usesFallback = false
	m.state = MTUCompleted
	return granted
}

// Timeout handles a negotiation round timing out. It returns true if the
// negotiator should retry (another Start), false once retries are
// exhausted and it has fallen back to the safe MTU.
func (m *mtuNegotiator) Timeout() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.attempts <= negotiationMaxRetries {
		m.state = MTUTimeout
		return true
	}
	m.state = MTUFailed
	m.negotiatedMTU = safeFallbackMTU
	m.usesFallback = true
	return false
}

// State, MTU and UsesFallback report the negotiator's current snapshot.
func (m *mtuNegotiator) State() MTUState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mtuNegotiator) MTU() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.negotiatedMTU
}

func (m *mtuNegotiator) UsesFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usesFallback
}

// NegotiationTimeout is the duration a caller should wait for a response
// before calling Timeout().
const NegotiationTimeout = negotiationTimeoutSeconds * time.Second

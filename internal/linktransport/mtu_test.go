package linktransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMTUNegotiatorAcceptsPeerOffer(t *testing.T) {
	m := newMTUNegotiator()
	requested := m.Start()
	assert.Equal(t, defaultMaxMTU, requested)
	m.Requested()

	granted := m.Accept(400)
	assert.Equal(t, 400, granted)
	assert.Equal(t, MTUCompleted, m.State())
	assert.False(t, m.UsesFallback())
}

func TestMTUNegotiatorClampsOversizedOffer(t *testing.T) {
	m := newMTUNegotiator()
	m.Start()
	m.Requested()
	granted := m.Accept(defaultMaxMTU)
	assert.Equal(t, acceptedMaxMTU, granted)
}

func TestMTUNegotiatorFallsBackAfterRetriesExhausted(t *testing.T) {
	m := newMTUNegotiator()
	m.Start()
	m.Requested()

	retry := m.Timeout()
	require.True(t, retry)
	assert.Equal(t, MTUTimeout, m.State())

	retry = m.Timeout()
	require.True(t, retry)

	retry = m.Timeout()
	require.False(t, retry)
	assert.Equal(t, MTUFailed, m.State())
	assert.Equal(t, safeFallbackMTU, m.MTU())
	assert.True(t, m.UsesFallback())
}

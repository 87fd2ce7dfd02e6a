package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackQueueConfigDefaults(t *testing.T) {
	cfg := FallbackQueueConfig{}
	assert.Equal(t, "", cfg.Addr)
	assert.Equal(t, int64(0), cfg.Capacity)
	assert.Equal(t, "", cfg.KeyName)
}

func TestNewFallbackQueueFailsOnUnreachableRedis(t *testing.T) {
	// NewFallbackQueue dials Redis during construction, so without a broker
	// available in the test environment we only assert it fails closed
	// rather than panicking on an unreachable address.
	_, err := NewFallbackQueue(FallbackQueueConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

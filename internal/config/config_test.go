package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Admin.Port)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Bus1Device)
	assert.Equal(t, ":8091", cfg.Link.ListenAddr)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadRejectsExplicitMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

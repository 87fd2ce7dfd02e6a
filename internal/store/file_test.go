package store

import (
	"testing"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileStoreForTest(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStorePutGetDevice(t *testing.T) {
	s := newFileStoreForTest(t)
	doc := &DeviceDocument{
		Device: model.Device{DeviceID: "A3F2C1", Name: "M1", Protocol: model.ProtocolRTU},
	}

	require.NoError(t, s.PutDevice(doc))

	got, err := s.GetDevice("A3F2C1")
	require.NoError(t, err)
	assert.Equal(t, "M1", got.Device.Name)
}

func TestFileStoreGetDeviceNotFound(t *testing.T) {
	s := newFileStoreForTest(t)
	_, err := s.GetDevice("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreDeleteDevice(t *testing.T) {
	s := newFileStoreForTest(t)
	doc := &DeviceDocument{Device: model.Device{DeviceID: "D1", Protocol: model.ProtocolTCP}}
	require.NoError(t, s.PutDevice(doc))

	require.NoError(t, s.DeleteDevice("D1"))

	_, err := s.GetDevice("D1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreListDevices(t *testing.T) {
	s := newFileStoreForTest(t)
	require.NoError(t, s.PutDevice(&DeviceDocument{Device: model.Device{DeviceID: "D1"}}))
	require.NoError(t, s.PutDevice(&DeviceDocument{Device: model.Device{DeviceID: "D2"}}))

	docs, err := s.ListDevices()
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestFileStoreServerConfigRoundTrip(t *testing.T) {
	s := newFileStoreForTest(t)
	cfg := &ServerConfig{Protocol: "mqtt"}
	cfg.MQTT.Host = "broker.local"

	require.NoError(t, s.PutServerConfig(cfg))

	got, err := s.GetServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "mqtt", got.Protocol)
	assert.Equal(t, "broker.local", got.MQTT.Host)
}

func TestFileStoreScalarNotFoundBeforeFirstPut(t *testing.T) {
	s := newFileStoreForTest(t)
	_, err := s.GetLoggingConfig()
	assert.ErrorIs(t, err, ErrNotFound)
}

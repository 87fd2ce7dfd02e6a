package store

import (
	"os"
	"testing"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStoreForTest(t *testing.T) *SQLiteStore {
	t.Helper()
	tmp, err := os.CreateTemp("", "store-*.db")
	require.NoError(t, err)
	tmp.Close()
	t.Cleanup(func() { os.Remove(tmp.Name()) })

	s, err := NewSQLiteStore(tmp.Name())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorePutGetDevice(t *testing.T) {
	s := newSQLiteStoreForTest(t)
	doc := &DeviceDocument{Device: model.Device{DeviceID: "A3F2C1", Name: "M1", Protocol: model.ProtocolRTU}}

	require.NoError(t, s.PutDevice(doc))

	got, err := s.GetDevice("A3F2C1")
	require.NoError(t, err)
	assert.Equal(t, "M1", got.Device.Name)
}

func TestSQLiteStoreUpsertOverwrites(t *testing.T) {
	s := newSQLiteStoreForTest(t)
	require.NoError(t, s.PutDevice(&DeviceDocument{Device: model.Device{DeviceID: "D1", Name: "first"}}))
	require.NoError(t, s.PutDevice(&DeviceDocument{Device: model.Device{DeviceID: "D1", Name: "second"}}))

	got, err := s.GetDevice("D1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Device.Name)
}

func TestSQLiteStoreDeleteNotFound(t *testing.T) {
	s := newSQLiteStoreForTest(t)
	err := s.DeleteDevice("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreListDevices(t *testing.T) {
	s := newSQLiteStoreForTest(t)
	require.NoError(t, s.PutDevice(&DeviceDocument{Device: model.Device{DeviceID: "D1"}}))
	require.NoError(t, s.PutDevice(&DeviceDocument{Device: model.Device{DeviceID: "D2"}}))

	docs, err := s.ListDevices()
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestSQLiteStoreScalarRoundTrip(t *testing.T) {
	s := newSQLiteStoreForTest(t)
	cfg := &OTAConfig{Cadence: "daily", VerifySignature: true}
	require.NoError(t, s.PutOTAConfig(cfg))

	got, err := s.GetOTAConfig()
	require.NoError(t, err)
	assert.Equal(t, "daily", got.Cadence)
	assert.True(t, got.VerifySignature)
}

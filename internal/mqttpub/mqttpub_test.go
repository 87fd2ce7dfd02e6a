package mqttpub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/store"
)

// fakeStore is a minimal in-memory store.Store, mirroring the command
// package's test fake, scoped to what writeOne/lookupRegister needs.
type fakeStore struct {
	devices map[string]*store.DeviceDocument
}

func newFakeStore(docs ...*store.DeviceDocument) *fakeStore {
	s := &fakeStore{devices: make(map[string]*store.DeviceDocument)}
	for _, d := range docs {
		s.devices[d.Device.DeviceID] = d
	}
	return s
}

func (s *fakeStore) GetDevice(id string) (*store.DeviceDocument, error) {
	d, ok := s.devices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}
func (s *fakeStore) PutDevice(doc *store.DeviceDocument) error { s.devices[doc.Device.DeviceID] = doc; return nil }
func (s *fakeStore) DeleteDevice(id string) error              { delete(s.devices, id); return nil }
func (s *fakeStore) ListDevices() ([]*store.DeviceDocument, error) {
	out := make([]*store.DeviceDocument, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out, nil
}
func (s *fakeStore) GetServerConfig() (*store.ServerConfig, error)  { return nil, store.ErrNotFound }
func (s *fakeStore) PutServerConfig(cfg *store.ServerConfig) error  { return nil }
func (s *fakeStore) GetLoggingConfig() (*store.LoggingConfig, error) { return nil, store.ErrNotFound }
func (s *fakeStore) PutLoggingConfig(cfg *store.LoggingConfig) error { return nil }
func (s *fakeStore) GetOTAConfig() (*store.OTAConfig, error)        { return nil, store.ErrNotFound }
func (s *fakeStore) PutOTAConfig(cfg *store.OTAConfig) error        { return nil }
func (s *fakeStore) Close() error                                   { return nil }

// fakeWriter records every write issued against it instead of touching a bus.
type fakeWriter struct {
	writes []fakeWrite
	fail   map[string]error
}

type fakeWrite struct {
	deviceID, registerID string
	words                []uint16
}

func (w *fakeWriter) WriteDeviceRegister(deviceID, registerID string, words []uint16) error {
	if err := w.fail[registerID]; err != nil {
		return err
	}
	w.writes = append(w.writes, fakeWrite{deviceID, registerID, words})
	return nil
}

func tempDeviceDoc(deviceID, registerID string) *store.DeviceDocument {
	dev := model.Device{
		DeviceID: deviceID, Protocol: model.ProtocolRTU, Name: "pump-1", Enabled: true,
		SlaveID: 1, SerialPort: 1, BaudRate: 9600,
		Registers: []model.RegisterDefinition{
			{RegisterID: registerID, Name: "Temperature", Address: 100,
				FunctionCode: model.FuncReadHoldingRegs, DataType: model.TypeUint16, Scale: 1, Offset: 0},
		},
	}
	return &store.DeviceDocument{Device: dev, Registers: dev.Registers}
}

func TestDedupSetLastValueWins(t *testing.T) {
	now := int64(1000)
	points := []model.MeasurementPoint{
		{Timestamp: now, DeviceID: "d1", RegisterID: "r1", Value: 1},
		{Timestamp: now, DeviceID: "d1", RegisterID: "r2", Value: 2},
		{Timestamp: now, DeviceID: "d1", RegisterID: "r1", Value: 3},
	}
	set := newDedupSet(points)
	all := set.all()
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[0].RegisterID)
	assert.Equal(t, float64(3), all[0].Value)
	assert.Equal(t, "r2", all[1].RegisterID)
}

func TestCadenceDuration(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, cadenceDuration(500, "ms"))
	assert.Equal(t, 2*time.Second, cadenceDuration(2, "s"))
	assert.Equal(t, 3*time.Minute, cadenceDuration(3, "m"))
	assert.Equal(t, time.Second, cadenceDuration(0, "s")) // non-positive clamps to 1 unit
	assert.Equal(t, time.Second, cadenceDuration(1, "bogus"))
}

func TestOutboundBufferSize(t *testing.T) {
	assert.Equal(t, minBufferBytes, outboundBufferSize(0))
	assert.Equal(t, 10*120+bufferOverheadBytes, outboundBufferSize(10))
	assert.Equal(t, maxBufferBytes, outboundBufferSize(10000))
}

func TestEncodeBatchRoundTrips(t *testing.T) {
	batch := Batch{Type: "measurement_batch", Timestamp: 1000, Count: 1, Points: []model.MeasurementPoint{
		{DeviceID: "d1", RegisterID: "r1", Value: 42},
	}}
	data, err := encodeBatch(batch)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"register_id":"r1"`)
}

func TestParseWritePayloadShorthandRequiresSingleRegister(t *testing.T) {
	values, err := parseWritePayload([]byte(`{"value": 25.5}`), []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"r1": 25.5}, values)

	_, err = parseWritePayload([]byte(`{"value": 25.5}`), []string{"r1", "r2"})
	assert.Error(t, err)

	_, err = parseWritePayload([]byte(`{"value": 25.5}`), nil)
	assert.Error(t, err)
}

func TestParseWritePayloadKeyed(t *testing.T) {
	values, err := parseWritePayload([]byte(`{"r1": 1, "r2": 2}`), []string{"r1", "r2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"r1": 1, "r2": 2}, values)
}

func TestWriteOneEncodesAndDispatches(t *testing.T) {
	doc := tempDeviceDoc("dev1", "r1")
	st := newFakeStore(doc)
	w := &fakeWriter{}
	p := &Publisher{st: st, writer: w, log: zap.NewNop()}

	res := p.writeOne("r1", 25)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, "dev1", res.DeviceID)
	assert.Equal(t, float64(25), res.WrittenValue)
	require.Len(t, w.writes, 1)
	assert.Equal(t, "dev1", w.writes[0].deviceID)
	assert.Equal(t, "r1", w.writes[0].registerID)
}

func TestWriteOneUnknownRegister(t *testing.T) {
	st := newFakeStore()
	w := &fakeWriter{}
	p := &Publisher{st: st, writer: w, log: zap.NewNop()}

	res := p.writeOne("missing", 1)
	assert.Equal(t, "error", res.Status)
	assert.Empty(t, w.writes)
}

func TestFindCustomTopic(t *testing.T) {
	cfg := store.MQTTConfig{CustomizeMode: store.MQTTCustomizeMode{
		CustomTopics: []store.MQTTCustomTopic{
			{Topic: "t1", Registers: []string{"r1"}},
			{Topic: "t2", Registers: []string{"r2"}},
		},
	}}
	got := findCustomTopic(cfg, "t2")
	require.NotNil(t, got)
	assert.Equal(t, []string{"r2"}, got.Registers)
	assert.Nil(t, findCustomTopic(cfg, "missing"))
}

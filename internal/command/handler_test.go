package command

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/pubsub"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
	"github.com/GifariKemal/iiot-gateway-core/internal/store"
)

// fakeStore is a minimal in-memory store.Store for dispatch-table tests.
type fakeStore struct {
	mu      sync.Mutex
	devices map[string]*store.DeviceDocument
	server  *store.ServerConfig
	logging *store.LoggingConfig
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: make(map[string]*store.DeviceDocument)}
}

func (s *fakeStore) GetDevice(id string) (*store.DeviceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) PutDevice(doc *store.DeviceDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.devices[doc.Device.DeviceID] = &cp
	return nil
}

func (s *fakeStore) DeleteDevice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.devices, id)
	return nil
}

func (s *fakeStore) ListDevices() ([]*store.DeviceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.DeviceDocument, 0, len(s.devices))
	for _, d := range s.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) GetServerConfig() (*store.ServerConfig, error) {
	if s.server == nil {
		return nil, store.ErrNotFound
	}
	return s.server, nil
}

func (s *fakeStore) PutServerConfig(cfg *store.ServerConfig) error {
	s.server = cfg
	return nil
}

func (s *fakeStore) GetLoggingConfig() (*store.LoggingConfig, error) {
	if s.logging == nil {
		return nil, store.ErrNotFound
	}
	return s.logging, nil
}

func (s *fakeStore) PutLoggingConfig(cfg *store.LoggingConfig) error {
	s.logging = cfg
	return nil
}

func (s *fakeStore) GetOTAConfig() (*store.OTAConfig, error) { return nil, store.ErrNotFound }
func (s *fakeStore) PutOTAConfig(cfg *store.OTAConfig) error { return nil }
func (s *fakeStore) Close() error                            { return nil }

func newTestHandler() (*Handler, *fakeStore) {
	st := newFakeStore()
	bus := pubsub.New()
	dataQ := queue.New[model.MeasurementPoint](100)
	streamQ := queue.New[model.MeasurementPoint](50)
	return NewHandler(st, bus, dataQ, streamQ), st
}

func rtuDeviceDoc(id string) *store.DeviceDocument {
	dev := model.Device{
		DeviceID: id, Protocol: model.ProtocolRTU, Name: "pump-1", Enabled: true,
		RefreshRateMS: 1000, TimeoutMS: 500, MaxRetries: 3,
		SlaveID: 1, SerialPort: 1, BaudRate: 9600,
		Registers: []model.RegisterDefinition{
			{RegisterID: "temp", Name: "Temperature", Unit: "°C", Address: 100, FunctionCode: model.FuncReadHoldingRegs, DataType: model.TypeUint16, Scale: 1, Offset: 0},
		},
	}
	return &store.DeviceDocument{Device: dev, Registers: dev.Registers}
}

func toRawConfig(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestCreateThenReadDevice(t *testing.T) {
	h, _ := newTestHandler()
	doc := rtuDeviceDoc("abc123")

	resp := h.dispatchOne(context.Background(), Message{Op: OpCreate, Type: EntityDevice, Config: toRawConfig(t, doc)})
	require.Equal(t, StatusOK, resp.Status)

	resp = h.dispatchOne(context.Background(), Message{Op: OpRead, Type: EntityDevice, DeviceID: "abc123"})
	require.Equal(t, StatusOK, resp.Status)
}

func TestUpdateDeviceIsIdempotent(t *testing.T) {
	h, _ := newTestHandler()
	doc := rtuDeviceDoc("abc123")
	require.Equal(t, StatusOK, h.dispatchOne(context.Background(), Message{Op: OpCreate, Type: EntityDevice, Config: toRawConfig(t, doc)}).Status)

	for i := 0; i < 3; i++ {
		resp := h.dispatchOne(context.Background(), Message{Op: OpUpdate, Type: EntityDevice, DeviceID: "abc123", Config: toRawConfig(t, doc)})
		require.Equal(t, StatusOK, resp.Status)
	}
}

func TestDeleteDeviceFlushesQueue(t *testing.T) {
	h, _ := newTestHandler()
	doc := rtuDeviceDoc("abc123")
	require.Equal(t, StatusOK, h.dispatchOne(context.Background(), Message{Op: OpCreate, Type: EntityDevice, Config: toRawConfig(t, doc)}).Status)

	h.dataQueue.Push(model.MeasurementPoint{DeviceID: "abc123", RegisterID: "temp", Value: 1})
	h.dataQueue.Push(model.MeasurementPoint{DeviceID: "other", RegisterID: "temp", Value: 2})

	resp := h.dispatchOne(context.Background(), Message{Op: OpDelete, Type: EntityDevice, DeviceID: "abc123"})
	require.Equal(t, StatusOK, resp.Status)

	remaining := h.dataQueue.DrainAll()
	require.Len(t, remaining, 1)
	assert.Equal(t, "other", remaining[0].DeviceID)
}

func TestDuplicateRegisterIDRejected(t *testing.T) {
	h, _ := newTestHandler()
	doc := rtuDeviceDoc("abc123")
	require.Equal(t, StatusOK, h.dispatchOne(context.Background(), Message{Op: OpCreate, Type: EntityDevice, Config: toRawConfig(t, doc)}).Status)

	dup := model.RegisterDefinition{RegisterID: "temp", Address: 200, FunctionCode: model.FuncReadHoldingRegs, DataType: model.TypeUint16}
	resp := h.dispatchOne(context.Background(), Message{Op: OpCreate, Type: EntityRegister, DeviceID: "abc123", Config: toRawConfig(t, dup)})
	assert.Equal(t, StatusError, resp.Status)
}

func TestAtomicBatchRollsBackOnFailure(t *testing.T) {
	h, st := newTestHandler()
	good := rtuDeviceDoc("dev001")
	bad := rtuDeviceDoc("dev002")
	bad.Device.BaudRate = 1234 // invalid baud -> create will fail validation

	resp := h.dispatchOne(context.Background(), Message{Op: OpBatch, Mode: BatchAtomic, Commands: []Message{
		{Op: OpCreate, Type: EntityDevice, Config: toRawConfig(t, good)},
		{Op: OpCreate, Type: EntityDevice, Config: toRawConfig(t, bad)},
	}})

	assert.Equal(t, StatusError, resp.Status)
	_, err := st.GetDevice("dev001")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSequentialBatchReportsPartialOnOneFailure(t *testing.T) {
	h, _ := newTestHandler()
	good := rtuDeviceDoc("dev001")

	resp := h.dispatchOne(context.Background(), Message{Op: OpBatch, Mode: BatchSequential, Commands: []Message{
		{Op: OpCreate, Type: EntityDevice, Config: toRawConfig(t, good)},
		{Op: OpRead, Type: EntityDevice, DeviceID: "missing"},
	}})

	require.Equal(t, StatusPartial, resp.Status)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, StatusOK, resp.Results[0].Status)
	assert.Equal(t, StatusError, resp.Results[1].Status)
}

func TestParallelBatchRunsAllSubCommands(t *testing.T) {
	h, _ := newTestHandler()
	cmds := make([]Message, 5)
	for i := range cmds {
		doc := rtuDeviceDoc(string(rune('a' + i)))
		data, err := json.Marshal(doc)
		require.NoError(t, err)
		cmds[i] = Message{Op: OpCreate, Type: EntityDevice, Config: data}
	}

	resp := h.dispatchOne(context.Background(), Message{Op: OpBatch, Mode: BatchParallel, Commands: cmds})
	require.Equal(t, StatusOK, resp.Status)
	require.Len(t, resp.Results, 5)
}

// TestPriorityHeapOrdersHighBeforeLow queues a LOW then a HIGH command
// before the worker starts, so the worker's pop order is decided by the
// heap (spec.md §4.5 "Commands enter a min-heap ordered by (priority,
// enqueue_time)").
func TestPriorityHeapOrdersHighBeforeLow(t *testing.T) {
	h, _ := newTestHandler()

	var order []string
	var mu sync.Mutex
	recv := func(name string) func([]byte) error {
		return func([]byte) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	low := PriorityLow
	high := PriorityHigh
	h.Enqueue(Message{Op: OpRead, Type: EntityServerConfig, Priority: &low}, recv("low"))
	h.Enqueue(Message{Op: OpRead, Type: EntityServerConfig, Priority: &high}, recv("high"))

	go h.Run(context.Background())
	defer h.Stop()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "high", order[0])
}

func TestStreamStartThenStopDrainsQueue(t *testing.T) {
	h, _ := newTestHandler()
	go h.Run(context.Background())
	defer h.Stop()

	h.streamQueue.Push(model.MeasurementPoint{DeviceID: "abc123", RegisterID: "temp", Value: 42})

	var notifications [][]byte
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	h.Enqueue(Message{Op: OpStreamStart, DeviceID: "abc123"}, func(data []byte) error {
		mu.Lock()
		notifications = append(notifications, data)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no response/notification received for stream_start")
	}

	time.Sleep(250 * time.Millisecond)
	h.Enqueue(Message{Op: OpStreamStop}, func([]byte) error { return nil })
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// The stream_start response plus at least one stream_data notification.
	assert.GreaterOrEqual(t, len(notifications), 2)
	assert.Equal(t, 0, h.streamQueue.Len())
}

package modbus

import (
	"testing"
	"time"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRTUDriver() (*RTUDriver, *queue.Queue[model.MeasurementPoint], *queue.Queue[model.MeasurementPoint]) {
	dataQ := queue.New[model.MeasurementPoint](100)
	streamQ := queue.New[model.MeasurementPoint](50)
	return NewRTUDriver("/dev/bus1", "/dev/bus2", dataQ, streamQ), dataQ, streamQ
}

// TestRTUHappyPath is spec.md §8's "RTU happy path" scenario: a device
// with one INT16 register at FC4 addr 0, raw word 500, scale 0.1 should
// produce exactly one Measurement Point with value 50.0.
func TestRTUHappyPath(t *testing.T) {
	d, dataQ, _ := newTestRTUDriver()
	client := newFakeClient()
	client.inputRegs[0] = 500
	withFakeRTUDial(d, 1, client)

	dev := &model.Device{
		DeviceID: "d1", Protocol: model.ProtocolRTU, Name: "Tank1", Enabled: true,
		RefreshRateMS: 1000, TimeoutMS: 500, MaxRetries: 5,
		SlaveID: 1, SerialPort: 1, BaudRate: 9600,
		Registers: []model.RegisterDefinition{
			{RegisterID: "T", Name: "Temp", Address: 0, FunctionCode: model.FuncReadInputRegs, DataType: model.TypeInt16, Scale: 0.1, Offset: 0, Unit: "°C"},
		},
	}
	d.AddDevice(dev)

	now := time.Now()
	d.tick(now)

	drained := dataQ.DrainAll()
	require.Len(t, drained, 1)
	assert.Equal(t, 50.0, drained[0].Value)
	assert.Equal(t, "°C", drained[0].Unit)
	assert.Equal(t, "d1", drained[0].DeviceID)
}

func TestRTURemoveDeviceFlushesQueue(t *testing.T) {
	d, dataQ, _ := newTestRTUDriver()
	client := newFakeClient()
	client.inputRegs[0] = 10
	withFakeRTUDial(d, 1, client)

	devA := &model.Device{DeviceID: "A", Enabled: true, RefreshRateMS: 1000, TimeoutMS: 500, MaxRetries: 5, SlaveID: 1, SerialPort: 1, BaudRate: 9600,
		Registers: []model.RegisterDefinition{{RegisterID: "r1", Address: 0, FunctionCode: model.FuncReadInputRegs, DataType: model.TypeUint16, Scale: 1}}}
	devB := &model.Device{DeviceID: "B", Enabled: true, RefreshRateMS: 1000, TimeoutMS: 500, MaxRetries: 5, SlaveID: 2, SerialPort: 1, BaudRate: 9600,
		Registers: []model.RegisterDefinition{{RegisterID: "r1", Address: 0, FunctionCode: model.FuncReadInputRegs, DataType: model.TypeUint16, Scale: 1}}}
	d.AddDevice(devA)
	d.AddDevice(devB)

	now := time.Now()
	d.tick(now)
	require.Equal(t, 2, dataQ.Len())

	d.RemoveDevice("A")
	require.Equal(t, 1, dataQ.Len())
	remaining := dataQ.DrainAll()
	assert.Equal(t, "B", remaining[0].DeviceID)
}

func TestRTUTimeoutDisablesAfterThreshold(t *testing.T) {
	d, _, _ := newTestRTUDriver()
	client := newFakeClient()
	client.readErr = errFakeTimeout
	withFakeRTUDial(d, 1, client)

	dev := &model.Device{DeviceID: "d1", Enabled: true, RefreshRateMS: 1000, TimeoutMS: 500, MaxRetries: 5, SlaveID: 1, SerialPort: 1, BaudRate: 9600,
		Registers: []model.RegisterDefinition{{RegisterID: "r1", Address: 0, FunctionCode: model.FuncReadInputRegs, DataType: model.TypeUint16, Scale: 1}}}
	d.AddDevice(dev)

	now := time.Now()
	for i := 0; i < 3; i++ {
		d.tick(now)
		// Each failed poll reschedules at a future backoff time, so
		// directly advance the scheduler entry back to "now" between
		// ticks to simulate elapsed time without a real sleep.
		d.mu.Lock()
		d.sched.Remove("d1")
		d.sched.Add("d1", now)
		d.mu.Unlock()
	}

	d.mu.Lock()
	disabled := d.states["d1"].IsDisabled()
	reason := d.states["d1"].DisableReason
	d.mu.Unlock()
	assert.True(t, disabled)
	assert.Equal(t, model.DisableAutoTimeout, reason)
}

package modbus

import (
	"testing"
	"time"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTCPDriver() (*TCPDriver, *queue.Queue[model.MeasurementPoint]) {
	dataQ := queue.New[model.MeasurementPoint](100)
	streamQ := queue.New[model.MeasurementPoint](50)
	return NewTCPDriver(dataQ, streamQ), dataQ
}

func TestTCPHappyPathUsesPooledConnection(t *testing.T) {
	d, dataQ := newTestTCPDriver()
	client := newFakeClient()
	client.holdingRegs[10] = 250
	withFakeTCPDial(d, client)

	dev := &model.Device{
		DeviceID: "t1", Protocol: model.ProtocolTCP, Name: "Meter1", Enabled: true,
		RefreshRateMS: 1000, TimeoutMS: 500, MaxRetries: 5,
		SlaveID: 1, IPAddress: "10.0.0.5", Port: 502,
		Registers: []model.RegisterDefinition{
			{RegisterID: "V", Address: 10, FunctionCode: model.FuncReadHoldingRegs, DataType: model.TypeUint16, Scale: 1},
		},
	}
	d.AddDevice(dev)
	d.tick(time.Now())

	drained := dataQ.DrainAll()
	require.Len(t, drained, 1)
	assert.Equal(t, 250.0, drained[0].Value)
	assert.Equal(t, 1, d.pool.Len())
}

func TestPoolSweepClosesIdleConnections(t *testing.T) {
	p := newConnPool()
	client := newFakeClient()
	p.dialFn = func(ip string, port int, timeout time.Duration) (Client, error) { return client, nil }

	now := time.Now()
	_, err := p.Get("10.0.0.5:502", "10.0.0.5", 502, time.Second, now)
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())

	p.Sweep(now.Add(2 * time.Minute))
	assert.Equal(t, 0, p.Len())
}

func TestPoolReusesHealthyConnection(t *testing.T) {
	p := newConnPool()
	dialCount := 0
	p.dialFn = func(ip string, port int, timeout time.Duration) (Client, error) {
		dialCount++
		return newFakeClient(), nil
	}

	now := time.Now()
	_, _ = p.Get("k", "10.0.0.5", 502, time.Second, now)
	_, _ = p.Get("k", "10.0.0.5", 502, time.Second, now)
	assert.Equal(t, 1, dialCount)
}

func TestPoolEvictsOldestAtCapacity(t *testing.T) {
	p := newConnPool()
	p.dialFn = func(ip string, port int, timeout time.Duration) (Client, error) { return newFakeClient(), nil }

	now := time.Now()
	for i := 0; i < tcpPoolMaxConns; i++ {
		key := string(rune('a' + i))
		_, err := p.Get(key, "10.0.0.5", 502, time.Second, now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
	}
	require.Equal(t, tcpPoolMaxConns, p.Len())

	_, err := p.Get("overflow", "10.0.0.5", 502, time.Second, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, tcpPoolMaxConns, p.Len())
}

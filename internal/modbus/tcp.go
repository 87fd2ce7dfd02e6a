package modbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/pubsub"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
)

// tcpBaseBackoff is spec.md §4.3's base_backoff for the TCP driver, slower
// than RTU's to account for network round-trips.
const tcpBaseBackoff = 2 * time.Second

// TCPDriver polls Modbus TCP devices over a pooled set of persistent
// sockets, per spec.md §4.3. It shares the decode/failure/scheduler
// building blocks with RTUDriver but owns its own connection pool and
// transaction counter instead of fixed serial buses.
type TCPDriver struct {
	mu sync.Mutex

	pool    *connPool
	devices map[string]*model.Device
	states  map[string]*model.DeviceRuntimeState
	sched   *scheduler

	dataQueue   *queue.Queue[model.MeasurementPoint]
	streamQueue *queue.Queue[model.MeasurementPoint]
	streaming   map[string]bool

	txCounter uint64 // atomic monotonic transaction ID, shared across devices (diagnostics only)

	log *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewTCPDriver wires a TCP driver against the queues it feeds.
func NewTCPDriver(dataQueue, streamQueue *queue.Queue[model.MeasurementPoint]) *TCPDriver {
	return &TCPDriver{
		pool:        newConnPool(),
		devices:     make(map[string]*model.Device),
		states:      make(map[string]*model.DeviceRuntimeState),
		sched:       newScheduler(),
		dataQueue:   dataQueue,
		streamQueue: streamQueue,
		streaming:   make(map[string]bool),
		log:         zap.NewNop(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// WithLogger attaches a scoped logger.
func (d *TCPDriver) WithLogger(log *zap.Logger) *TCPDriver {
	d.log = log
	return d
}

// NextTransactionID returns the next value of the shared atomic
// transaction counter, exposed for diagnostics (spec.md §4.3; the wire
// transaction ID itself is managed internally by the client library per
// connection).
func (d *TCPDriver) NextTransactionID() uint64 {
	return atomic.AddUint64(&d.txCounter, 1)
}

func poolKey(dev *model.Device) string {
	return fmt.Sprintf("%s:%d", dev.IPAddress, dev.Port)
}

// AddDevice, RemoveDevice, UpdateDevice and SetStreaming mirror
// RTUDriver's reload semantics (§4.2 "Reload", shared by §4.3).
func (d *TCPDriver) AddDevice(dev *model.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.DeviceID] = dev
	d.states[dev.DeviceID] = model.NewDeviceRuntimeState(dev.DeviceID)
	d.sched.Add(dev.DeviceID, time.Now())
}

func (d *TCPDriver) RemoveDevice(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.devices, deviceID)
	delete(d.states, deviceID)
	delete(d.streaming, deviceID)
	d.sched.Remove(deviceID)
	d.dataQueue.FlushDevice(deviceID)
	d.streamQueue.FlushDevice(deviceID)
}

func (d *TCPDriver) UpdateDevice(dev *model.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.DeviceID] = dev
	if _, ok := d.states[dev.DeviceID]; !ok {
		d.states[dev.DeviceID] = model.NewDeviceRuntimeState(dev.DeviceID)
		d.sched.Add(dev.DeviceID, time.Now())
	}
}

func (d *TCPDriver) SetStreaming(deviceID string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if active {
		d.streaming[deviceID] = true
	} else {
		delete(d.streaming, deviceID)
	}
}

// HandleReload subscribes this driver to device change notifications.
func (d *TCPDriver) HandleReload(bus *pubsub.Bus) func() {
	return bus.Subscribe(pubsub.TopicDeviceChanged, func(ev pubsub.Event) {
		dev, ok := ev.Payload.(*model.Device)
		switch ev.Kind {
		case pubsub.ChangeRemoved:
			d.RemoveDevice(ev.EntityID)
		case pubsub.ChangeAdded:
			if ok {
				d.AddDevice(dev)
			}
		case pubsub.ChangeUpdated:
			if ok {
				d.UpdateDevice(dev)
			}
		}
	})
}

// Run drives the scheduler tick, the 60 s auto-recovery pass and the pool
// idle-sweep loop until Stop is called. The recovery cadence is a
// robfig/cron `@every` entry, the same engine the teacher used to drive
// its own periodic jobs.
func (d *TCPDriver) Run(tick time.Duration) {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	sweepTicker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer sweepTicker.Stop()
	defer close(d.done)

	recoveryCh := make(chan time.Time, 1)
	recoveryCron := cron.New()
	if _, err := recoveryCron.AddFunc("@every 1m0s", func() {
		select {
		case recoveryCh <- time.Now():
		default:
		}
	}); err != nil {
		d.log.Error("tcp auto-recovery schedule rejected", zap.Error(err))
	}
	recoveryCron.Start()
	defer recoveryCron.Stop()

	for {
		select {
		case <-d.stop:
			return
		case now := <-ticker.C:
			d.tick(now)
		case now := <-recoveryCh:
			d.autoRecover(now)
		case now := <-sweepTicker.C:
			d.pool.Sweep(now)
		}
	}
}

// Stop signals Run to exit, blocks until it has, and tears down the pool.
func (d *TCPDriver) Stop() {
	close(d.stop)
	<-d.done
	d.pool.CloseAll()
}

func (d *TCPDriver) autoRecover(now time.Time) {
	d.mu.Lock()
	recovered := sweepAutoRecovery(d.states, now)
	for _, id := range recovered {
		d.sched.Add(id, now)
	}
	d.mu.Unlock()
}

func (d *TCPDriver) tick(now time.Time) {
	d.mu.Lock()
	due := d.sched.DueBefore(now)
	d.mu.Unlock()

	for _, id := range due {
		d.pollOne(id, now)
	}
}

func (d *TCPDriver) pollOne(deviceID string, now time.Time) {
	d.mu.Lock()
	dev, ok := d.devices[deviceID]
	state := d.states[deviceID]
	d.mu.Unlock()
	if !ok || state == nil {
		return
	}

	if !dev.Enabled || state.IsDisabled() {
		d.mu.Lock()
		d.sched.Reschedule(deviceID, now.Add(time.Duration(dev.RefreshRateMS)*time.Millisecond))
		d.mu.Unlock()
		return
	}

	key := poolKey(dev)
	timeout := time.Duration(dev.TimeoutMS) * time.Millisecond
	client, err := d.pool.Get(key, dev.IPAddress, dev.Port, timeout, now)
	if err != nil {
		d.pool.MarkUnhealthy(key)
		d.handlePollFailure(dev, state, now, false)
		return
	}
	client.SetUnitID(uint8(dev.SlaveID))

	anyFailure, anyTimeout := d.pollRegisters(client, dev, now)
	if anyFailure {
		d.pool.MarkUnhealthy(key)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case anyTimeout:
		recordTimeout(state, tcpBaseBackoff, defaultMaxConsecutiveTimeouts, now)
	case anyFailure:
		recordFailure(state, tcpBaseBackoff, dev.MaxRetries, now)
	default:
		recordSuccess(state, 0, now)
	}

	if state.IsDisabled() {
		return
	}
	next := now.Add(time.Duration(dev.RefreshRateMS) * time.Millisecond)
	if anyFailure || anyTimeout {
		next = state.NextRetryTime
		if next.IsZero() || next.Before(now) {
			next = now.Add(tcpBaseBackoff)
		}
	}
	d.sched.Reschedule(deviceID, next)
}

func (d *TCPDriver) pollRegisters(client Client, dev *model.Device, now time.Time) (anyFailure, anyTimeout bool) {
	d.mu.Lock()
	streamActive := d.streaming[dev.DeviceID]
	state := d.states[dev.DeviceID]
	d.mu.Unlock()

	for _, reg := range dev.Registers {
		d.NextTransactionID()
		start := time.Now()
		words, err := readRegisterSpan(client, reg)
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			if isTimeoutErr(err) {
				anyTimeout = true
			} else {
				anyFailure = true
			}
			d.log.Warn("tcp: register read failed",
				zap.String("device_id", dev.DeviceID),
				zap.String("register_id", reg.RegisterID),
				zap.Error(err))
			continue
		}

		raw, err := Decode(reg.DataType, words)
		if err != nil {
			anyFailure = true
			d.log.Warn("tcp: decode failed", zap.String("register_id", reg.RegisterID), zap.Error(err))
			continue
		}

		point := model.MeasurementPoint{
			Timestamp:    now.Unix(),
			DeviceID:     dev.DeviceID,
			DeviceName:   dev.Name,
			RegisterID:   reg.RegisterID,
			RegisterName: reg.Name,
			Value:        reg.Calibrate(raw),
			Unit:         reg.Unit,
			Description:  reg.Description,
		}
		d.dataQueue.Push(point)
		if streamActive {
			d.streamQueue.Push(point)
		}

		if state != nil {
			d.mu.Lock()
			state.Health.RecordRead(true, elapsed)
			d.mu.Unlock()
		}
	}
	return anyFailure, anyTimeout
}

// WriteRegister issues a single write against the first device owning
// registerID, for the subscribe-to-write path (spec.md §4.6).
func (d *TCPDriver) WriteRegister(registerID string, words []uint16) error {
	return d.writeRegisterByDevice("", registerID, words)
}

// WriteDeviceRegister issues a write against a specific device's register.
func (d *TCPDriver) WriteDeviceRegister(deviceID, registerID string, words []uint16) error {
	return d.writeRegisterByDevice(deviceID, registerID, words)
}

func (d *TCPDriver) writeRegisterByDevice(deviceID, registerID string, words []uint16) error {
	d.mu.Lock()
	dev, reg, ok := findDeviceRegister(d.devices, deviceID, registerID)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("modbus: register %q not found", registerID)
	}

	key := poolKey(dev)
	timeout := time.Duration(dev.TimeoutMS) * time.Millisecond
	client, err := d.pool.Get(key, dev.IPAddress, dev.Port, timeout, time.Now())
	if err != nil {
		d.pool.MarkUnhealthy(key)
		return err
	}
	client.SetUnitID(uint8(dev.SlaveID))
	if err := writeRegisterSpan(client, reg, words); err != nil {
		d.pool.MarkUnhealthy(key)
		return err
	}
	return nil
}

func (d *TCPDriver) handlePollFailure(dev *model.Device, state *model.DeviceRuntimeState, now time.Time, timeout bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timeout {
		recordTimeout(state, tcpBaseBackoff, defaultMaxConsecutiveTimeouts, now)
	} else {
		recordFailure(state, tcpBaseBackoff, dev.MaxRetries, now)
	}
	if state.IsDisabled() {
		return
	}
	next := state.NextRetryTime
	if next.IsZero() || next.Before(now) {
		next = now.Add(tcpBaseBackoff)
	}
	d.sched.Reschedule(dev.DeviceID, next)
}

package modbus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	gomodbus "github.com/simonvetter/modbus"
	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/pubsub"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
)

// rtuBaseBackoff is spec.md §4.2's base_backoff for the RTU driver.
const rtuBaseBackoff = 100 * time.Millisecond

// bus is one of the gateway's two fixed RS-485 UARTs. The client handle is
// reopened only when the next device's baud differs from the bus's current
// setting, mirroring the teacher's connect-if-needed shape.
type bus struct {
	mu          sync.Mutex
	device      string
	client      Client
	currentBaud int

	// dialFn is overridden in tests to substitute a fake Client instead of
	// opening a real serial port.
	dialFn func(device string, baud int, timeout time.Duration) (Client, error)
}

// dial opens (or reopens, on a baud change) the bus's client for baud.
func (b *bus) dial(baud int, timeout time.Duration) (Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil && b.currentBaud == baud {
		return b.client, nil
	}
	if b.client != nil {
		_ = b.client.Close()
		b.client = nil
	}
	dialFn := b.dialFn
	if dialFn == nil {
		dialFn = dialRTU
	}
	c, err := dialFn(b.device, baud, timeout)
	if err != nil {
		return nil, err
	}
	if err := c.Open(); err != nil {
		return nil, err
	}
	b.client = c
	b.currentBaud = baud
	return c, nil
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		_ = b.client.Close()
		b.client = nil
	}
}

// RTUDriver polls Modbus RTU devices over the gateway's two serial buses,
// per spec.md §4.2.
type RTUDriver struct {
	mu sync.Mutex

	buses    map[int]*bus
	devices  map[string]*model.Device
	states   map[string]*model.DeviceRuntimeState
	sched    *scheduler

	dataQueue   *queue.Queue[model.MeasurementPoint]
	streamQueue *queue.Queue[model.MeasurementPoint]
	streaming   map[string]bool

	log *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewRTUDriver wires a driver against its two serial device paths and the
// queues it feeds.
func NewRTUDriver(bus1Device, bus2Device string, dataQueue, streamQueue *queue.Queue[model.MeasurementPoint]) *RTUDriver {
	return &RTUDriver{
		buses: map[int]*bus{
			1: {device: bus1Device},
			2: {device: bus2Device},
		},
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

// WithLogger attaches a scoped logger (see internal/logging.WithComponent).
func (d *RTUDriver) WithLogger(log *zap.Logger) *RTUDriver {
	d.log = log
	return d
}

// AddDevice admits a new device into the driver, scheduling it due
// immediately (§4.2 "Device created").
func (d *RTUDriver) AddDevice(dev *model.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.DeviceID] = dev
	d.states[dev.DeviceID] = model.NewDeviceRuntimeState(dev.DeviceID)
	d.sched.Add(dev.DeviceID, time.Now())
}

// RemoveDevice takes a device out of the schedule and flushes its queued
// Measurement Points (§4.2 "Reload", deleted devices).
func (d *RTUDriver) RemoveDevice(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.devices, deviceID)
	delete(d.states, deviceID)
	delete(d.streaming, deviceID)
	d.sched.Remove(deviceID)
	d.dataQueue.FlushDevice(deviceID)
	d.streamQueue.FlushDevice(deviceID)
}

// UpdateDevice replaces a device's cached config, leaving health metrics
// intact (§4.2 "Reload", modified devices).
func (d *RTUDriver) UpdateDevice(dev *model.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.DeviceID] = dev
	if _, ok := d.states[dev.DeviceID]; !ok {
		d.states[dev.DeviceID] = model.NewDeviceRuntimeState(dev.DeviceID)
		d.sched.Add(dev.DeviceID, time.Now())
	}
}

// SetStreaming toggles whether a device's successful reads are also
// pushed into the stream queue (§4.5 "Streaming").
func (d *RTUDriver) SetStreaming(deviceID string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if active {
		d.streaming[deviceID] = true
	} else {
		delete(d.streaming, deviceID)
	}
}

// HandleReload subscribes this driver to device change notifications from
// the command handler, per §4.5 "Config-change notifications".
func (d *RTUDriver) HandleReload(bus *pubsub.Bus) func() {
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

// Run drives the Level-1 scheduler tick loop and the 60 s auto-recovery
// pass (§4.2) until Stop is called. The recovery cadence is a
// robfig/cron `@every` entry rather than a bare ticker, the same engine
// the teacher used to drive its own periodic jobs.
func (d *RTUDriver) Run(tick time.Duration) {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	defer close(d.done)

	recoveryCh := make(chan time.Time, 1)
	recoveryCron := cron.New()
	if _, err := recoveryCron.AddFunc("@every 1m0s", func() {
		select {
		case recoveryCh <- time.Now():
		default:
		}
	}); err != nil {
		d.log.Error("rtu auto-recovery schedule rejected", zap.Error(err))
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
		}
	}
}

// Stop signals Run to exit and blocks until it has.
func (d *RTUDriver) Stop() {
	close(d.stop)
	<-d.done
	for _, b := range d.buses {
		b.close()
	}
}

func (d *RTUDriver) autoRecover(now time.Time) {
	d.mu.Lock()
	recovered := sweepAutoRecovery(d.states, now)
	for _, id := range recovered {
		d.sched.Add(id, now)
	}
	d.mu.Unlock()
}

func (d *RTUDriver) tick(now time.Time) {
	d.mu.Lock()
	due := d.sched.DueBefore(now)
	d.mu.Unlock()

	for _, id := range due {
		d.pollOne(id, now)
	}
}

func (d *RTUDriver) pollOne(deviceID string, now time.Time) {
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

	b, ok := d.buses[dev.SerialPort]
	if !ok {
		d.log.Error("rtu: unknown serial_port", zap.String("device_id", deviceID), zap.Int("serial_port", dev.SerialPort))
		d.mu.Lock()
		d.sched.Reschedule(deviceID, now.Add(time.Duration(dev.RefreshRateMS)*time.Millisecond))
		d.mu.Unlock()
		return
	}

	timeout := time.Duration(dev.TimeoutMS) * time.Millisecond
	client, err := b.dial(dev.BaudRate, timeout)
	if err != nil {
		d.handlePollFailure(dev, state, now, false)
		return
	}
	client.SetUnitID(uint8(dev.SlaveID))

	anyFailure, anyTimeout := d.pollRegisters(client, dev, now)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case anyTimeout:
		recordTimeout(state, rtuBaseBackoff, defaultMaxConsecutiveTimeouts, now)
	case anyFailure:
		recordFailure(state, rtuBaseBackoff, dev.MaxRetries, now)
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
			next = now.Add(rtuBaseBackoff)
		}
	}
	d.sched.Reschedule(deviceID, next)
}

// pollRegisters performs one polling pass over dev's registers, in
// insertion order, enqueuing a Measurement Point for each successful read
// (§4.2 "Polling pass").
func (d *RTUDriver) pollRegisters(client Client, dev *model.Device, now time.Time) (anyFailure, anyTimeout bool) {
	d.mu.Lock()
	streamActive := d.streaming[dev.DeviceID]
	state := d.states[dev.DeviceID]
	d.mu.Unlock()

	for _, reg := range dev.Registers {
		start := time.Now()
		words, err := readRegisterSpan(client, reg)
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			if isTimeoutErr(err) {
				anyTimeout = true
			} else {
				anyFailure = true
			}
			d.log.Warn("rtu: register read failed",
				zap.String("device_id", dev.DeviceID),
				zap.String("register_id", reg.RegisterID),
				zap.Error(err))
			continue
		}

		raw, err := Decode(reg.DataType, words)
		if err != nil {
			anyFailure = true
			d.log.Warn("rtu: decode failed", zap.String("register_id", reg.RegisterID), zap.Error(err))
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

// WriteRegister issues a single write against registerID on the device that
// owns it, over that device's bus, for the subscribe-to-write path (spec.md §4.6).
func (d *RTUDriver) WriteRegister(registerID string, words []uint16) error {
	return d.writeRegisterByDevice("", registerID, words)
}

// WriteDeviceRegister issues a write against a specific device's register,
// used when the publisher already knows which device owns the topic.
func (d *RTUDriver) WriteDeviceRegister(deviceID, registerID string, words []uint16) error {
	return d.writeRegisterByDevice(deviceID, registerID, words)
}

func (d *RTUDriver) writeRegisterByDevice(deviceID, registerID string, words []uint16) error {
	d.mu.Lock()
	dev, reg, ok := findDeviceRegister(d.devices, deviceID, registerID)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("modbus: register %q not found", registerID)
	}

	b, ok := d.buses[dev.SerialPort]
	if !ok {
		return fmt.Errorf("modbus: unknown serial_port %d for device %q", dev.SerialPort, dev.DeviceID)
	}
	timeout := time.Duration(dev.TimeoutMS) * time.Millisecond
	client, err := b.dial(dev.BaudRate, timeout)
	if err != nil {
		return err
	}
	client.SetUnitID(uint8(dev.SlaveID))
	return writeRegisterSpan(client, reg, words)
}

func (d *RTUDriver) handlePollFailure(dev *model.Device, state *model.DeviceRuntimeState, now time.Time, timeout bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timeout {
		recordTimeout(state, rtuBaseBackoff, defaultMaxConsecutiveTimeouts, now)
	} else {
		recordFailure(state, rtuBaseBackoff, dev.MaxRetries, now)
	}
	if state.IsDisabled() {
		return
	}
	next := state.NextRetryTime
	if next.IsZero() || next.Before(now) {
		next = now.Add(rtuBaseBackoff)
	}
	d.sched.Reschedule(dev.DeviceID, next)
}

// isTimeoutErr reports whether err looks like a request-timeout outcome
// rather than a protocol/CRC error, so the two failure ladders of §4.2
// stay distinct.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gomodbus.ErrRequestTimedOut) || errors.Is(err, gomodbus.ErrGWTargetFailedToRespond) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
}

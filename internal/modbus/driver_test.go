package modbus

import (
	"errors"
	"sync"
	"time"

	gomodbus "github.com/simonvetter/modbus"
)

// fakeClient is an in-memory stand-in for a Modbus slave, used so driver
// tests never touch a real serial port or socket. holdingRegs/inputRegs
// are keyed by address; readErr, when set, is returned by every read.
type fakeClient struct {
	mu          sync.Mutex
	opened      bool
	unitID      uint8
	holdingRegs map[uint16]uint16
	inputRegs   map[uint16]uint16
	coils       map[uint16]bool

	readErr  error
	writeErr error
	reads    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		holdingRegs: make(map[uint16]uint16),
		inputRegs:   make(map[uint16]uint16),
		coils:       make(map[uint16]bool),
	}
}

func (f *fakeClient) Open() error  { f.opened = true; return nil }
func (f *fakeClient) Close() error { f.opened = false; return nil }
func (f *fakeClient) SetUnitID(id uint8) {
	f.unitID = id
}

func (f *fakeClient) ReadCoils(addr, qty uint16) ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]bool, qty)
	for i := range out {
		out[i] = f.coils[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeClient) ReadDiscreteInputs(addr, qty uint16) ([]bool, error) {
	return f.ReadCoils(addr, qty)
}

func (f *fakeClient) ReadRegisters(addr, qty uint16, regType gomodbus.RegType) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	src := f.holdingRegs
	if regType == gomodbus.InputRegister {
		src = f.inputRegs
	}
	out := make([]uint16, qty)
	for i := range out {
		out[i] = src[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeClient) WriteCoil(addr uint16, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.coils[addr] = value
	return nil
}

func (f *fakeClient) WriteRegister(addr uint16, value uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.holdingRegs[addr] = value
	return nil
}

var errFakeTimeout = errors.New("fake: request timed out")

// withFakeDial rigs an RTUDriver's single bus to hand back client for
// every dial call, regardless of requested baud.
func withFakeRTUDial(d *RTUDriver, busNum int, client Client) {
	d.buses[busNum].dialFn = func(device string, baud int, timeout time.Duration) (Client, error) {
		return client, nil
	}
}

func withFakeTCPDial(d *TCPDriver, client Client) {
	d.pool.dialFn = func(ip string, port int, timeout time.Duration) (Client, error) {
		return client, nil
	}
}

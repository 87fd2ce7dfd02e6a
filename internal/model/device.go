// Package model holds the data model shared by the Modbus drivers, the
// Config Store collaborator and the configuration link: devices, registers,
// measurement points and per-device runtime state.
package model

import (
	"encoding/json"
	"fmt"
)

// Protocol identifies the transport a device is reachable over.
type Protocol string

const (
	ProtocolRTU Protocol = "RTU"
	ProtocolTCP Protocol = "TCP"
)

// FunctionCode is a Modbus read function.
type FunctionCode int

const (
	FuncReadCoils          FunctionCode = 1
	FuncReadDiscreteInputs FunctionCode = 2
	FuncReadHoldingRegs    FunctionCode = 3
	FuncReadInputRegs      FunctionCode = 4
)

// DataType is the decoding tag for a register value.
type DataType string

const (
	TypeInt16    DataType = "INT16"
	TypeUint16   DataType = "UINT16"
	TypeBool     DataType = "BOOL"
	TypeBinary   DataType = "BINARY"
	TypeInt32BE  DataType = "INT32_BE"
	TypeInt32LE  DataType = "INT32_LE"
	TypeInt32BEBS DataType = "INT32_BE_BS"
	TypeInt32LEBS DataType = "INT32_LE_BS"
	TypeUint32BE  DataType = "UINT32_BE"
	TypeUint32LE  DataType = "UINT32_LE"
	TypeUint32BEBS DataType = "UINT32_BE_BS"
	TypeUint32LEBS DataType = "UINT32_LE_BS"
	TypeFloat32BE  DataType = "FLOAT32_BE"
	TypeFloat32LE  DataType = "FLOAT32_LE"
	TypeFloat32BEBS DataType = "FLOAT32_BE_BS"
	TypeFloat32LEBS DataType = "FLOAT32_LE_BS"
	TypeInt64BE    DataType = "INT64_BE"
	TypeInt64LE    DataType = "INT64_LE"
	TypeInt64BEBS  DataType = "INT64_BE_BS"
	TypeInt64LEBS  DataType = "INT64_LE_BS"
	TypeUint64BE   DataType = "UINT64_BE"
	TypeUint64LE   DataType = "UINT64_LE"
	TypeUint64BEBS DataType = "UINT64_BE_BS"
	TypeUint64LEBS DataType = "UINT64_LE_BS"
	TypeDouble64BE DataType = "DOUBLE64_BE"
	TypeDouble64LE DataType = "DOUBLE64_LE"
	TypeDouble64BEBS DataType = "DOUBLE64_BE_BS"
	TypeDouble64LEBS DataType = "DOUBLE64_LE_BS"
)

// Span returns the number of 16-bit words a data type occupies.
func (d DataType) Span() int {
	switch d {
	case TypeInt16, TypeUint16, TypeBool, TypeBinary:
		return 1
	case TypeInt32BE, TypeInt32LE, TypeInt32BEBS, TypeInt32LEBS,
		TypeUint32BE, TypeUint32LE, TypeUint32BEBS, TypeUint32LEBS,
		TypeFloat32BE, TypeFloat32LE, TypeFloat32BEBS, TypeFloat32LEBS:
		return 2
	case TypeInt64BE, TypeInt64LE, TypeInt64BEBS, TypeInt64LEBS,
		TypeUint64BE, TypeUint64LE, TypeUint64BEBS, TypeUint64LEBS,
		TypeDouble64BE, TypeDouble64LE, TypeDouble64BEBS, TypeDouble64LEBS:
		return 4
	default:
		return 0
	}
}

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool { return d.Span() != 0 }

// RegisterDefinition is one named data point within a device.
type RegisterDefinition struct {
	RegisterID  string       `json:"register_id"`
	Name        string       `json:"register_name"`
	Description string       `json:"description"`
	Unit        string       `json:"unit"`
	Address     uint16       `json:"address"`
	FunctionCode FunctionCode `json:"function_code"`
	DataType    DataType     `json:"data_type"`
	Scale       float64      `json:"scale"`
	Offset      float64      `json:"offset"`
}

// registerAlias accepts both the current and the legacy wire shapes for
// function_code (string or integer) per spec.md §9's open question.
type registerAlias struct {
	RegisterID   string          `json:"register_id"`
	Name         string          `json:"register_name"`
	Description  string          `json:"description"`
	Unit         string          `json:"unit"`
	Address      uint16          `json:"address"`
	FunctionCode json.RawMessage `json:"function_code"`
	DataType     DataType        `json:"data_type"`
	Scale        *float64        `json:"scale"`
	Offset       *float64        `json:"offset"`
}

// UnmarshalJSON accepts function_code as either a JSON number or a numeric
// string, always storing it as FunctionCode.
func (r *RegisterDefinition) UnmarshalJSON(data []byte) error {
	var a registerAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.RegisterID = a.RegisterID
	r.Name = a.Name
	r.Description = a.Description
	r.Unit = a.Unit
	r.Address = a.Address
	r.DataType = a.DataType
	r.Scale = 1.0
	if a.Scale != nil {
		r.Scale = *a.Scale
	}
	if a.Offset != nil {
		r.Offset = *a.Offset
	}

	if len(a.FunctionCode) > 0 {
		var asInt int
		if err := json.Unmarshal(a.FunctionCode, &asInt); err == nil {
			r.FunctionCode = FunctionCode(asInt)
		} else {
			var asStr string
			if err := json.Unmarshal(a.FunctionCode, &asStr); err != nil {
				return fmt.Errorf("function_code: %w", err)
			}
			var n int
			if _, err := fmt.Sscanf(asStr, "%d", &n); err != nil {
				return fmt.Errorf("function_code %q: %w", asStr, err)
			}
			r.FunctionCode = FunctionCode(n)
		}
	}
	return nil
}

// EndOfRange returns the last register address (inclusive) this register
// occupies.
func (r RegisterDefinition) EndOfRange() (uint16, bool) {
	span := r.DataType.Span()
	if span == 0 {
		return 0, false
	}
	end := int(r.Address) + span - 1
	if end > 65535 {
		return 0, false
	}
	return uint16(end), true
}

// Calibrate applies scale/offset to a raw decoded numeric value.
func (r RegisterDefinition) Calibrate(raw float64) float64 {
	scale := r.Scale
	if scale == 0 {
		scale = 1.0
	}
	return raw*scale + r.Offset
}

// Uncalibrate is Calibrate's inverse: it turns an engineering-unit value
// back into the raw register value a write must encode (spec.md §4.6
// "subscribe-to-write").
func (r RegisterDefinition) Uncalibrate(value float64) float64 {
	scale := r.Scale
	if scale == 0 {
		scale = 1.0
	}
	return (value - r.Offset) / scale
}

// Device is a Modbus slave addressable as a single unit.
type Device struct {
	DeviceID      string                `json:"device_id"`
	Protocol      Protocol              `json:"protocol"`
	Name          string                `json:"name"`
	Enabled       bool                  `json:"enabled"`
	RefreshRateMS int                   `json:"refresh_rate_ms"`
	TimeoutMS     int                   `json:"timeout_ms"`
	MaxRetries    int                   `json:"max_retries"`

	// RTU-only
	SlaveID    int `json:"slave_id"`
	SerialPort int `json:"serial_port"`
	BaudRate   int `json:"baud_rate"`

	// TCP-only
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`

	Registers []RegisterDefinition `json:"registers"`
}

type deviceAlias struct {
	DeviceID      string                `json:"device_id"`
	Protocol      Protocol              `json:"protocol"`
	Name          string                `json:"name"`
	Enabled       *bool                 `json:"enabled"`
	RefreshRateMS int                   `json:"refresh_rate_ms"`
	TimeoutMS     int                   `json:"timeout_ms"`
	MaxRetries    int                   `json:"max_retries"`
	SlaveID       int                   `json:"slave_id"`
	SerialPort    int                   `json:"serial_port"`
	BaudRate      int                   `json:"baud_rate"`
	IPAddress     string                `json:"ip_address"`
	IP            string                `json:"ip"` // legacy alias
	Port          int                   `json:"port"`
	Registers     []RegisterDefinition  `json:"registers"`
}

// UnmarshalJSON accepts the legacy "ip" field alongside "ip_address" and
// defaults Enabled to true when absent, per spec.md §3/§9.
func (d *Device) UnmarshalJSON(data []byte) error {
	var a deviceAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	d.DeviceID = a.DeviceID
	d.Protocol = a.Protocol
	d.Name = a.Name
	d.Enabled = true
	if a.Enabled != nil {
		d.Enabled = *a.Enabled
	}
	d.RefreshRateMS = a.RefreshRateMS
	d.TimeoutMS = a.TimeoutMS
	d.MaxRetries = a.MaxRetries
	d.SlaveID = a.SlaveID
	d.SerialPort = a.SerialPort
	d.BaudRate = a.BaudRate
	d.IPAddress = a.IPAddress
	if d.IPAddress == "" {
		d.IPAddress = a.IP
	}
	d.Port = a.Port
	if d.Port == 0 {
		d.Port = 502
	}
	d.Registers = a.Registers
	return nil
}

var validBaudRates = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

// Validate checks the invariants from spec.md §3: register_id uniqueness
// within the device, valid protocol-specific fields and that no register's
// span overflows the 16-bit address space.
func (d Device) Validate() error {
	switch d.Protocol {
	case ProtocolRTU:
		if d.SlaveID < 1 || d.SlaveID > 247 {
			return fmt.Errorf("rtu device: slave_id must be 1..247, got %d", d.SlaveID)
		}
		if d.SerialPort != 1 && d.SerialPort != 2 {
			return fmt.Errorf("rtu device: serial_port must be 1 or 2, got %d", d.SerialPort)
		}
		if !validBaudRates[d.BaudRate] {
			return fmt.Errorf("rtu device: unsupported baud_rate %d", d.BaudRate)
		}
	case ProtocolTCP:
		if d.IPAddress == "" {
			return fmt.Errorf("tcp device: ip_address is required")
		}
	default:
		return fmt.Errorf("unknown protocol %q", d.Protocol)
	}

	seen := make(map[string]bool, len(d.Registers))
	for _, r := range d.Registers {
		if seen[r.RegisterID] {
			return fmt.Errorf("duplicate register_id %q", r.RegisterID)
		}
		seen[r.RegisterID] = true

		if !r.DataType.Valid() {
			return fmt.Errorf("register %q: unknown data_type %q", r.RegisterID, r.DataType)
		}
		if _, ok := r.EndOfRange(); !ok {
			return fmt.Errorf("register %q: address %d + span overflows 65535", r.RegisterID, r.Address)
		}
	}
	return nil
}

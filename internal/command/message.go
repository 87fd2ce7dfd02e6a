// Package command implements the Command Handler of spec.md §4.5: a
// priority-ordered dispatcher that turns reassembled configuration-link
// messages into Config Store mutations, reload notifications and batch/
// streaming control, grounded on the teacher's internal/engine dispatch
// tables generalized from flow-node execution to CRUD-by-entity-type.
package command

import "encoding/json"

// Op is the operation a Message requests.
type Op string

const (
	OpRead        Op = "read"
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpBatch       Op = "batch"
	OpStreamStart Op = "stream_start"
	OpStreamStop  Op = "stream_stop"
)

// EntityType names the target of a CRUD Message.
type EntityType string

const (
	EntityDevice               EntityType = "device"
	EntityRegister             EntityType = "register"
	EntityServerConfig         EntityType = "server_config"
	EntityLoggingConfig        EntityType = "logging_config"
	EntityOTAConfig            EntityType = "ota_config"
	EntityDevicesWithRegisters EntityType = "devices_with_registers"
	EntityFullConfig           EntityType = "full_config"
	EntityFactoryReset         EntityType = "factory_reset"
	EntityBLEMetrics           EntityType = "ble_metrics"
	EntityDeviceControl        EntityType = "device_control"
)

// Priority orders commands in the dispatcher's min-heap (spec.md §4.5
// "Priority queue").
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// BatchMode selects how a batch's sub-commands are executed (spec.md §4.5
// "Batch").
type BatchMode string

const (
	BatchSequential BatchMode = "SEQUENTIAL"
	BatchParallel   BatchMode = "PARALLEL"
	BatchAtomic     BatchMode = "ATOMIC"
)

// Message is the self-describing structure every configuration-link
// command decodes into (spec.md §4.5).
type Message struct {
	Op         Op              `json:"op"`
	Type       EntityType      `json:"type"`
	DeviceID   string          `json:"device_id,omitempty"`
	RegisterID string          `json:"register_id,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
	Priority   *Priority       `json:"priority,omitempty"`
	Mode       BatchMode       `json:"mode,omitempty"`
	Commands   []Message       `json:"commands,omitempty"`
}

// priority returns the message's effective priority, defaulting to NORMAL
// when unset.
func (m Message) priority() Priority {
	if m.Priority == nil {
		return PriorityNormal
	}
	return *m.Priority
}

// Status is a Response's outcome marker (spec.md §4.5/§7 "every response
// carries an explicit status").
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusPartial Status = "partial"
)

// Response is what a dispatched Message produces.
type Response struct {
	CommandID uint64      `json:"command_id,omitempty"`
	Status    Status      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Error     string      `json:"error,omitempty"`
	Results   []Response  `json:"results,omitempty"`
}

func errorResponse(code, msg string) Response {
	return Response{Status: StatusError, ErrorCode: code, Error: msg}
}

func okResponse(data interface{}) Response {
	return Response{Status: StatusOK, Data: data}
}

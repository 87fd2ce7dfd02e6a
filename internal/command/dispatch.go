package command

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/GifariKemal/iiot-gateway-core/internal/errs"
	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/pubsub"
	"github.com/GifariKemal/iiot-gateway-core/internal/store"
)

// registerDefaultHandlers populates the four dispatch tables of spec.md
// §4.5 "Handlers are registered in four tables keyed by entity type."
func (h *Handler) registerDefaultHandlers() {
	h.readHandlers[EntityDevice] = readDevice
	h.readHandlers[EntityDevicesWithRegisters] = readDevicesWithRegisters
	h.readHandlers[EntityFullConfig] = readFullConfig
	h.readHandlers[EntityServerConfig] = readServerConfig
	h.readHandlers[EntityLoggingConfig] = readLoggingConfig

	h.createHandlers[EntityDevice] = createDevice
	h.createHandlers[EntityRegister] = createRegister

	h.updateHandlers[EntityDevice] = updateDevice
	h.updateHandlers[EntityRegister] = updateRegister
	h.updateHandlers[EntityServerConfig] = updateServerConfig
	h.updateHandlers[EntityLoggingConfig] = updateLoggingConfig
	h.updateHandlers[EntityDeviceControl] = updateDeviceControl

	h.deleteHandlers[EntityDevice] = deleteDevice
	h.deleteHandlers[EntityRegister] = deleteRegister

	h.createHandlers[EntityFactoryReset] = factoryReset
	h.deleteHandlers[EntityFactoryReset] = factoryReset
}

func configInvalid(msg string, cause error) Response {
	e := errs.New(errs.KindConfigInvalid, msg, cause)
	return errorResponse(e.Code, e.Error())
}

func configNotFound(msg string) Response {
	e := errs.New(errs.KindConfigNotFound, msg, nil)
	return errorResponse(e.Code, e.Error())
}

func storeIOError(cause error) Response {
	e := errs.New(errs.KindStoreIO, "config store operation failed", cause)
	return errorResponse(e.Code, e.Error())
}

// --- device ---

func readDevice(_ context.Context, h *Handler, msg Message) Response {
	if msg.DeviceID == "" {
		return configInvalid("device_id is required", nil)
	}
	doc, err := h.store.GetDevice(msg.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return configNotFound("device " + msg.DeviceID + " not found")
	}
	if err != nil {
		return storeIOError(err)
	}
	return okResponse(doc)
}

func readDevicesWithRegisters(_ context.Context, h *Handler, _ Message) Response {
	docs, err := h.store.ListDevices()
	if err != nil {
		return storeIOError(err)
	}
	return okResponse(docs)
}

func readFullConfig(_ context.Context, h *Handler, _ Message) Response {
	devices, err := h.store.ListDevices()
	if err != nil {
		return storeIOError(err)
	}
	server, err := h.store.GetServerConfig()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return storeIOError(err)
	}
	logging, err := h.store.GetLoggingConfig()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return storeIOError(err)
	}
	return okResponse(map[string]interface{}{
		"devices":        devices,
		"server_config":  server,
		"logging_config": logging,
	})
}

func readServerConfig(_ context.Context, h *Handler, _ Message) Response {
	cfg, err := h.store.GetServerConfig()
	if errors.Is(err, store.ErrNotFound) {
		return configNotFound("server_config not set")
	}
	if err != nil {
		return storeIOError(err)
	}
	return okResponse(cfg)
}

func readLoggingConfig(_ context.Context, h *Handler, _ Message) Response {
	cfg, err := h.store.GetLoggingConfig()
	if errors.Is(err, store.ErrNotFound) {
		return configNotFound("logging_config not set")
	}
	if err != nil {
		return storeIOError(err)
	}
	return okResponse(cfg)
}

func decodeDeviceDoc(raw json.RawMessage) (*store.DeviceDocument, error) {
	var doc store.DeviceDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func createDevice(_ context.Context, h *Handler, msg Message) Response {
	doc, err := decodeDeviceDoc(msg.Config)
	if err != nil {
		return configInvalid("malformed device config", err)
	}
	if err := doc.Device.Validate(); err != nil {
		return configInvalid(err.Error(), nil)
	}
	if err := h.store.PutDevice(doc); err != nil {
		return storeIOError(err)
	}
	h.notifyDeviceChange(pubsub.ChangeAdded, doc.Device.DeviceID, &doc.Device)
	return okResponse(doc)
}

func updateDevice(_ context.Context, h *Handler, msg Message) Response {
	doc, err := decodeDeviceDoc(msg.Config)
	if err != nil {
		return configInvalid("malformed device config", err)
	}
	if doc.Device.DeviceID == "" {
		doc.Device.DeviceID = msg.DeviceID
	}
	if err := doc.Device.Validate(); err != nil {
		return configInvalid(err.Error(), nil)
	}
	// Idempotent: re-applying an identical update is a no-op success
	// (spec.md §8 "idempotent device update").
	if err := h.store.PutDevice(doc); err != nil {
		return storeIOError(err)
	}
	h.notifyDeviceChange(pubsub.ChangeUpdated, doc.Device.DeviceID, &doc.Device)
	return okResponse(doc)
}

func deleteDevice(_ context.Context, h *Handler, msg Message) Response {
	if msg.DeviceID == "" {
		return configInvalid("device_id is required", nil)
	}
	doc, err := h.store.GetDevice(msg.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return configNotFound("device " + msg.DeviceID + " not found")
	}
	if err != nil {
		return storeIOError(err)
	}
	// Flush before confirming deletion (spec.md §3 "Device deleted ...
	// Command Handler flushes all Measurement Points ... before confirming
	// deletion").
	h.flushDeviceQueues(msg.DeviceID)
	if err := h.store.DeleteDevice(msg.DeviceID); err != nil {
		return storeIOError(err)
	}
	h.notifyDeviceChange(pubsub.ChangeRemoved, msg.DeviceID, nil)
	return okResponse(doc)
}

// --- register (nested within a device document) ---

func createRegister(_ context.Context, h *Handler, msg Message) Response {
	var reg model.RegisterDefinition
	if err := json.Unmarshal(msg.Config, &reg); err != nil {
		return configInvalid("malformed register config", err)
	}
	doc, err := h.store.GetDevice(msg.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return configNotFound("device " + msg.DeviceID + " not found")
	}
	if err != nil {
		return storeIOError(err)
	}
	for _, existing := range doc.Registers {
		if existing.RegisterID == reg.RegisterID {
			return configInvalid("duplicate register_id "+reg.RegisterID, nil)
		}
	}
	if _, ok := reg.EndOfRange(); !ok {
		return configInvalid("register address+span overflows 65535", nil)
	}
	doc.Registers = append(doc.Registers, reg)
	doc.Device.Registers = doc.Registers
	if err := h.store.PutDevice(doc); err != nil {
		return storeIOError(err)
	}
	h.notifyDeviceChange(pubsub.ChangeUpdated, msg.DeviceID, &doc.Device)
	return okResponse(reg)
}

func updateRegister(_ context.Context, h *Handler, msg Message) Response {
	var reg model.RegisterDefinition
	if err := json.Unmarshal(msg.Config, &reg); err != nil {
		return configInvalid("malformed register config", err)
	}
	doc, err := h.store.GetDevice(msg.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return configNotFound("device " + msg.DeviceID + " not found")
	}
	if err != nil {
		return storeIOError(err)
	}
	found := false
	for i, existing := range doc.Registers {
		if existing.RegisterID == msg.RegisterID {
			doc.Registers[i] = reg
			found = true
			break
		}
	}
	if !found {
		return configNotFound("register " + msg.RegisterID + " not found")
	}
	doc.Device.Registers = doc.Registers
	if err := h.store.PutDevice(doc); err != nil {
		return storeIOError(err)
	}
	h.notifyDeviceChange(pubsub.ChangeUpdated, msg.DeviceID, &doc.Device)
	return okResponse(reg)
}

func deleteRegister(_ context.Context, h *Handler, msg Message) Response {
	doc, err := h.store.GetDevice(msg.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return configNotFound("device " + msg.DeviceID + " not found")
	}
	if err != nil {
		return storeIOError(err)
	}
	idx := -1
	for i, existing := range doc.Registers {
		if existing.RegisterID == msg.RegisterID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return configNotFound("register " + msg.RegisterID + " not found")
	}
	removed := doc.Registers[idx]
	doc.Registers = append(doc.Registers[:idx], doc.Registers[idx+1:]...)
	doc.Device.Registers = doc.Registers
	if err := h.store.PutDevice(doc); err != nil {
		return storeIOError(err)
	}
	h.notifyDeviceChange(pubsub.ChangeUpdated, msg.DeviceID, &doc.Device)
	return okResponse(removed)
}

// --- device control (enable/disable without a full config rewrite) ---

type deviceControlRequest struct {
	Enabled bool `json:"enabled"`
}

func updateDeviceControl(_ context.Context, h *Handler, msg Message) Response {
	var req deviceControlRequest
	if err := json.Unmarshal(msg.Config, &req); err != nil {
		return configInvalid("malformed device_control config", err)
	}
	doc, err := h.store.GetDevice(msg.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return configNotFound("device " + msg.DeviceID + " not found")
	}
	if err != nil {
		return storeIOError(err)
	}
	doc.Device.Enabled = req.Enabled
	if err := h.store.PutDevice(doc); err != nil {
		return storeIOError(err)
	}
	h.notifyDeviceChange(pubsub.ChangeUpdated, msg.DeviceID, &doc.Device)
	return okResponse(doc)
}

// --- server / logging config ---

func updateServerConfig(_ context.Context, h *Handler, msg Message) Response {
	var cfg store.ServerConfig
	if err := json.Unmarshal(msg.Config, &cfg); err != nil {
		return configInvalid("malformed server_config", err)
	}
	if err := h.store.PutServerConfig(&cfg); err != nil {
		return storeIOError(err)
	}
	h.notifyServerConfigChange(&cfg)
	return okResponse(&cfg)
}

func updateLoggingConfig(_ context.Context, h *Handler, msg Message) Response {
	var cfg store.LoggingConfig
	if err := json.Unmarshal(msg.Config, &cfg); err != nil {
		return configInvalid("malformed logging_config", err)
	}
	if err := h.store.PutLoggingConfig(&cfg); err != nil {
		return storeIOError(err)
	}
	return okResponse(&cfg)
}

// --- factory reset ---

func factoryReset(_ context.Context, h *Handler, _ Message) Response {
	docs, err := h.store.ListDevices()
	if err != nil {
		return storeIOError(err)
	}
	for _, doc := range docs {
		h.flushDeviceQueues(doc.Device.DeviceID)
		if err := h.store.DeleteDevice(doc.Device.DeviceID); err != nil {
			return storeIOError(err)
		}
		h.notifyDeviceChange(pubsub.ChangeRemoved, doc.Device.DeviceID, nil)
	}
	return okResponse(map[string]int{"devices_removed": len(docs)})
}

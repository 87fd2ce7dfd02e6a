package command

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// dispatchBatch implements spec.md §4.5 "Batch": op=batch with
// mode ∈ {SEQUENTIAL, PARALLEL, ATOMIC} (matched case-insensitively)
// applied to Commands.
func (h *Handler) dispatchBatch(ctx context.Context, msg Message) Response {
	switch BatchMode(strings.ToUpper(string(msg.Mode))) {
	case BatchParallel:
		return h.dispatchBatchParallel(msg.Commands)
	case BatchAtomic:
		return h.dispatchBatchAtomic(ctx, msg.Commands)
	default:
		return h.dispatchBatchSequential(ctx, msg.Commands)
	}
}

// dispatchBatchSequential runs each sub-command in order, reporting every
// outcome; a sub-command failure does not stop the batch.
func (h *Handler) dispatchBatchSequential(ctx context.Context, cmds []Message) Response {
	results := make([]Response, len(cmds))
	anyFailed := false
	for i, c := range cmds {
		results[i] = h.dispatchOne(ctx, c)
		if results[i].Status != StatusOK {
			anyFailed = true
		}
	}
	status := StatusOK
	if anyFailed {
		status = StatusPartial
	}
	return Response{Status: status, Results: results}
}

// dispatchBatchParallel runs every sub-command concurrently, one goroutine
// each calling dispatchOne directly, and waits for all of them before
// reporting. Sub-commands do not pass through the priority heap and carry
// no batch id; the batch message's own heap entry is the only one.
func (h *Handler) dispatchBatchParallel(cmds []Message) Response {
	results := make([]Response, len(cmds))
	var wg sync.WaitGroup
	wg.Add(len(cmds))
	for i, c := range cmds {
		i, c := i, c
		go func() {
			defer wg.Done()
			results[i] = h.dispatchOne(context.Background(), c)
		}()
	}
	wg.Wait()

	anyFailed := false
	for _, r := range results {
		if r.Status != StatusOK {
			anyFailed = true
		}
	}
	status := StatusOK
	if anyFailed {
		status = StatusPartial
	}
	return Response{Status: status, Results: results}
}

// undoStep records how to reverse one ATOMIC sub-command's effect.
type undoStep struct {
	undo func() error
}

// dispatchBatchAtomic runs a SEQUENTIAL pass; on the first failure it rolls
// back every preceding mutation and reports the whole batch failed, per
// spec.md §4.5/§8 "atomic batch rollback".
func (h *Handler) dispatchBatchAtomic(ctx context.Context, cmds []Message) Response {
	var undoLog []undoStep
	results := make([]Response, 0, len(cmds))

	for _, c := range cmds {
		snapshot, hasSnapshot := h.snapshotFor(c)
		resp := h.dispatchOne(ctx, c)
		results = append(results, resp)
		if resp.Status != StatusOK {
			h.rollback(undoLog)
			return Response{
				Status:    StatusError,
				ErrorCode: resp.ErrorCode,
				Error:     "atomic batch rolled back: " + resp.Error,
				Results:   results,
			}
		}
		if hasSnapshot {
			undoLog = append(undoLog, snapshot)
		}
	}
	return Response{Status: StatusOK, Results: results}
}

// snapshotFor captures enough state before executing c to undo it if a
// later sub-command in the same ATOMIC batch fails. Device, device_control
// and register mutations are reversible (a register create/update/delete persists
// through the same store.PutDevice call a device mutation does, so it is
// undone the same way: restore the owning device document). Reads and
// server/logging config writes are left as no-ops to undo (their absence
// from the undo log is intentional, not a gap: a read has no effect, and
// server/logging config does not participate in the per-device rollback
// property this batch mode exists for).
func (h *Handler) snapshotFor(c Message) (undoStep, bool) {
	switch c.Op {
	case OpCreate:
		switch c.Type {
		case EntityDevice:
			deviceID := c.DeviceID
			return undoStep{undo: func() error {
				return h.store.DeleteDevice(deviceIDFromCreate(c, deviceID))
			}}, true
		case EntityRegister:
			return h.snapshotDevice(c.DeviceID)
		default:
			return undoStep{}, false
		}
	case OpUpdate, OpDelete:
		switch c.Type {
		case EntityDevice, EntityRegister, EntityDeviceControl:
			return h.snapshotDevice(c.DeviceID)
		default:
			return undoStep{}, false
		}
	default:
		return undoStep{}, false
	}
}

// snapshotDevice captures the current device document for deviceID so it
// can be restored verbatim on rollback, the mechanism shared by device and
// register mutations since both persist through store.PutDevice.
func (h *Handler) snapshotDevice(deviceID string) (undoStep, bool) {
	prior, err := h.store.GetDevice(deviceID)
	if err != nil {
		return undoStep{}, false
	}
	return undoStep{undo: func() error {
		return h.store.PutDevice(prior)
	}}, true
}

// deviceIDFromCreate extracts the device id a create command produced,
// falling back to the id already known on the message.
func deviceIDFromCreate(c Message, fallback string) string {
	doc, err := decodeDeviceDoc(c.Config)
	if err != nil || doc.Device.DeviceID == "" {
		return fallback
	}
	return doc.Device.DeviceID
}

func (h *Handler) rollback(undoLog []undoStep) {
	for i := len(undoLog) - 1; i >= 0; i-- {
		if err := undoLog[i].undo(); err != nil {
			h.log.Error("command: atomic rollback step failed", zap.Error(err))
		}
	}
}

package command

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/errs"
	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/pubsub"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
	"github.com/GifariKemal/iiot-gateway-core/internal/store"
)

// handlerFunc is one entry of a dispatch table: it receives the owning
// Handler (for store/bus/queue access) and the parsed Message, and returns
// the Response to send back (spec.md §4.5 "Dispatch").
type handlerFunc func(ctx context.Context, h *Handler, msg Message) Response

// Handler is the Command Handler of spec.md §4.5. It implements
// linktransport.Dispatcher so a Transport can feed it reassembled messages
// directly.
type Handler struct {
	store store.Store
	bus   *pubsub.Bus

	dataQueue   *queue.Queue[model.MeasurementPoint]
	streamQueue *queue.Queue[model.MeasurementPoint]

	log *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	heap    commandHeap
	nextSeq uint64
	nextID  uint64

	streamMu     sync.Mutex
	streamDevice string
	streamReply  func([]byte) error
	streamCancel context.CancelFunc

	// pendingStreamReply is the reply callback of the command currently
	// being dispatched by Run's single worker; startStreaming reads it to
	// bind the streaming notification channel (see streaming.go).
	pendingStreamReply func([]byte) error

	readHandlers   map[EntityType]handlerFunc
	createHandlers map[EntityType]handlerFunc
	updateHandlers map[EntityType]handlerFunc
	deleteHandlers map[EntityType]handlerFunc

	stop chan struct{}
	done chan struct{}
}

// NewHandler wires a Command Handler against its collaborators and
// registers the default CRUD dispatch tables.
func NewHandler(st store.Store, bus *pubsub.Bus, dataQueue, streamQueue *queue.Queue[model.MeasurementPoint]) *Handler {
	h := &Handler{
		store:          st,
		bus:            bus,
		dataQueue:      dataQueue,
		streamQueue:    streamQueue,
		log:            zap.NewNop(),
		readHandlers:   make(map[EntityType]handlerFunc),
		createHandlers: make(map[EntityType]handlerFunc),
		updateHandlers: make(map[EntityType]handlerFunc),
		deleteHandlers: make(map[EntityType]handlerFunc),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	h.registerDefaultHandlers()
	return h
}

// WithLogger attaches a structured logger.
func (h *Handler) WithLogger(log *zap.Logger) *Handler {
	h.log = log
	return h
}

// Dispatch implements linktransport.Dispatcher: it decodes message and
// enqueues it onto the priority heap, waking the worker.
func (h *Handler) Dispatch(ctx context.Context, message []byte, reply func([]byte) error) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		resp := errorResponse(errs.New(errs.KindConfigInvalid, "malformed command", err).Code, "malformed command payload")
		h.send(reply, resp)
		return
	}
	h.Enqueue(msg, reply)
}

// Enqueue admits msg onto the priority heap directly (used by Dispatch and
// by tests).
func (h *Handler) Enqueue(msg Message, reply func([]byte) error) uint64 {
	h.mu.Lock()
	h.nextSeq++
	h.nextID++
	id := h.nextID
	entry := &commandEntry{
		id:          id,
		priority:    msg.priority(),
		enqueueTime: time.Now(),
		seq:         h.nextSeq,
		message:     msg,
		reply:       reply,
	}
	heap.Push(&h.heap, entry)
	h.cond.Signal()
	h.mu.Unlock()
	return id
}

// Run drains the priority heap on a dedicated worker until Stop is called
// (spec.md §4.5 "A dedicated worker pops commands and dispatches them
// sequentially").
func (h *Handler) Run(ctx context.Context) {
	defer close(h.done)
	for {
		entry := h.popBlocking()
		if entry == nil {
			return
		}
		h.setPendingStreamReply(entry.reply)
		resp := h.dispatchOne(ctx, entry.message)
		resp.CommandID = entry.id
		h.send(entry.reply, resp)
	}
}

// Stop signals Run to exit and wakes it if blocked waiting for work.
func (h *Handler) Stop() {
	close(h.stop)
	h.mu.Lock()
	h.cond.Broadcast()
	h.mu.Unlock()
	<-h.done

	h.streamMu.Lock()
	if h.streamCancel != nil {
		h.streamCancel()
		h.streamCancel = nil
	}
	h.streamMu.Unlock()
}

// popBlocking waits for and removes the next command, returning nil once
// Stop has been called with an empty heap.
func (h *Handler) popBlocking() *commandEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.heap.Len() == 0 {
		select {
		case <-h.stop:
			return nil
		default:
		}
		h.cond.Wait()
	}
	return heap.Pop(&h.heap).(*commandEntry)
}

func (h *Handler) send(reply func([]byte) error, resp Response) {
	if reply == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		h.log.Error("command: failed to marshal response", zap.Error(err))
		return
	}
	if err := reply(data); err != nil {
		h.log.Warn("command: failed to send response", zap.Error(err))
	}
}

// dispatchOne routes a single Message to its handler table, per spec.md
// §4.5 "Dispatch"/"Batch"/"Streaming".
func (h *Handler) dispatchOne(ctx context.Context, msg Message) Response {
	switch msg.Op {
	case OpRead:
		return h.dispatchTable(h.readHandlers, ctx, msg)
	case OpCreate:
		return h.dispatchTable(h.createHandlers, ctx, msg)
	case OpUpdate:
		return h.dispatchTable(h.updateHandlers, ctx, msg)
	case OpDelete:
		return h.dispatchTable(h.deleteHandlers, ctx, msg)
	case OpBatch:
		return h.dispatchBatch(ctx, msg)
	case OpStreamStart:
		return h.startStreaming(msg.DeviceID)
	case OpStreamStop:
		return h.stopStreaming()
	default:
		return errorResponse(errs.New(errs.KindConfigInvalid, "unknown op", nil).Code, "unknown op "+string(msg.Op))
	}
}

// dispatchTable looks msg.Type up in table and runs its handler, or reports
// CONFIG_NOT_FOUND when no handler is registered for that entity type.
func (h *Handler) dispatchTable(table map[EntityType]handlerFunc, ctx context.Context, msg Message) Response {
	fn, ok := table[msg.Type]
	if !ok {
		return errorResponse(errs.New(errs.KindConfigNotFound, "no handler", nil).Code,
			"no handler registered for type "+string(msg.Type))
	}
	return fn(ctx, h, msg)
}

// notifyDeviceChange publishes a device change event so subscribed drivers
// reload (spec.md §4.5 "Config-change notifications").
func (h *Handler) notifyDeviceChange(kind pubsub.ChangeKind, deviceID string, dev *model.Device) {
	h.bus.Publish(pubsub.TopicDeviceChanged, pubsub.Event{Kind: kind, EntityID: deviceID, Payload: dev})
}

// notifyServerConfigChange publishes a server_config change so publishers
// reload cadences/topics.
func (h *Handler) notifyServerConfigChange(cfg *store.ServerConfig) {
	h.bus.Publish(pubsub.TopicEndpointChanged, pubsub.Event{Kind: pubsub.ChangeUpdated, EntityID: "server_config", Payload: cfg})
}

// flushDeviceQueues removes every queued Measurement Point belonging to
// deviceID (spec.md §3 "Device deleted" lifecycle rule).
func (h *Handler) flushDeviceQueues(deviceID string) {
	h.dataQueue.FlushDevice(deviceID)
	h.streamQueue.FlushDevice(deviceID)
}

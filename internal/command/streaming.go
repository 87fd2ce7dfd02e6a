package command

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
)

// streamTick is how often the streaming worker drains the stream queue.
const streamTick = 100 * time.Millisecond

// streamNotification is the shape pushed over the notification channel for
// each streamed Measurement Point (spec.md §4.5 "Streaming").
type streamNotification struct {
	Type string                `json:"type"`
	Data model.MeasurementPoint `json:"data"`
}

// startStreaming activates live streaming for one device, per spec.md
// §4.5 "stream_start {device_id} sets an active stream device identifier".
// The reply callback from this very command becomes the notification
// channel the streaming worker pushes onto.
func (h *Handler) startStreaming(deviceID string) Response {
	if deviceID == "" {
		return configInvalid("device_id is required for stream_start", nil)
	}

	h.streamMu.Lock()
	if h.streamCancel != nil {
		h.streamCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.streamDevice = deviceID
	h.streamCancel = cancel
	h.mu.Lock()
	reply := h.pendingStreamReply
	h.mu.Unlock()
	h.streamReply = reply
	h.streamMu.Unlock()

	go h.runStreamWorker(ctx, deviceID)
	return okResponse(map[string]string{"streaming_device_id": deviceID})
}

// stopStreaming clears the active stream device; the worker notices on its
// next tick and exits (spec.md §4.5 "stream_stop clears the active device
// identifier ... the streaming worker drains on next tick and goes idle").
func (h *Handler) stopStreaming() Response {
	h.streamMu.Lock()
	deviceID, reply := h.streamDevice, h.streamReply
	if h.streamCancel != nil {
		h.streamCancel()
		h.streamCancel = nil
	}
	h.streamDevice = ""
	h.streamReply = nil
	h.streamMu.Unlock()

	h.drainStreamQueue(deviceID, reply)
	return okResponse(nil)
}

// runStreamWorker drains the stream queue for deviceID until ctx is
// cancelled (via stopStreaming, a subsequent stream_start, or Handler
// shutdown), pushing each point as a notification over the reply channel
// captured at stream_start time.
func (h *Handler) runStreamWorker(ctx context.Context, deviceID string) {
	ticker := time.NewTicker(streamTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.drainStreamQueue(deviceID, h.currentStreamReply())
			return
		case <-ticker.C:
			h.drainStreamQueue(deviceID, h.currentStreamReply())
		}
	}
}

func (h *Handler) currentStreamReply() func([]byte) error {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()
	return h.streamReply
}

func (h *Handler) drainStreamQueue(deviceID string, reply func([]byte) error) {
	if reply == nil {
		return
	}
	points := h.streamQueue.FlushDevice(deviceID)
	for _, p := range points {
		data, err := json.Marshal(streamNotification{Type: "stream_data", Data: p})
		if err != nil {
			h.log.Error("command: failed to marshal stream notification", zap.Error(err))
			continue
		}
		if err := reply(data); err != nil {
			h.log.Warn("command: failed to push stream notification", zap.Error(err))
			return
		}
	}
}

// pendingStreamReply is set by Run immediately before invoking
// dispatchOne so startStreaming can bind the notification channel to the
// connection the stream_start command arrived on, without threading an
// extra parameter through the whole dispatch table.
//
// It intentionally lives behind h.mu rather than its own lock: it is only
// ever read/written around a single dispatchOne call on the Handler's one
// worker goroutine.
func (h *Handler) setPendingStreamReply(reply func([]byte) error) {
	h.mu.Lock()
	h.pendingStreamReply = reply
	h.mu.Unlock()
}

package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/logging"
)

const (
	rtuPollTick = 100 * time.Millisecond
	tcpPollTick = 100 * time.Millisecond
)

// Run starts every subsystem's goroutine, serves the configuration-link
// websocket listener, and blocks until ctx is cancelled. It then stops
// every subsystem in reverse dependency order and returns once all of them
// have drained, the same cancellation-flag-checked-at-top-of-loop shutdown
// discipline as SPEC_FULL.md §5.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go o.RTU.Run(rtuPollTick)
	go o.TCP.Run(tcpPollTick)
	go o.MQTT.Run(runCtx)
	go o.HTTP.Run(runCtx)
	go o.NetSuper.Run(runCtx)
	go o.Metrics.Run()
	go o.Guard.Run(runCtx)
	go o.Command.Run(runCtx)
	go o.LinkHub.Run(runCtx)

	linkApp := o.buildLinkServer()
	serverErr := make(chan error, 2)
	go func() { serverErr <- linkApp.Listen(o.cfg.Link.ListenAddr) }()
	go func() {
		addr := fmt.Sprintf("%s:%d", o.cfg.Admin.Host, o.cfg.Admin.Port)
		serverErr <- o.Admin.Listen(addr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		o.log.Error("a gateway listener exited", zap.Error(err))
	}

	_ = linkApp.ShutdownWithTimeout(5 * time.Second)
	_ = o.Admin.ShutdownWithTimeout(5 * time.Second)
	o.shutdown()
	return ctx.Err()
}

// buildLinkServer wires a fiber app exposing the configuration-link
// websocket upgrade at /link, grounded on internal/api/handlers.go's
// IsWebSocketUpgrade-gate-then-websocket.New route pair.
func (o *Orchestrator) buildLinkServer() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use("/link", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/link", websocket.New(func(c *websocket.Conn) {
		peerMTU, _ := strconv.Atoi(c.Query("mtu"))
		if err := o.LinkHub.Handle(context.Background(), c, o.Command, peerMTU); err != nil {
			o.log.Warn("link connection closed", zap.Error(err))
		}
	}))

	return app
}

// shutdown stops every owned subsystem. Order matters: stop the Modbus
// drivers and the command handler before the publishers draining the Data
// Queue, then the supporting subsystems last. The link hub is not stopped
// here; its Run returns when the run context is cancelled.
func (o *Orchestrator) shutdown() {
	o.RTU.Stop()
	o.TCP.Stop()
	o.Command.Stop()

	o.MQTT.Stop()
	o.HTTP.Stop()

	o.NetSuper.Stop()
	o.Metrics.Stop()
	o.Guard.Stop()

	if o.Fallback != nil {
		if err := o.Fallback.Close(); err != nil {
			o.log.Warn("closing fallback queue", zap.Error(err))
		}
	}
	if err := o.Store.Close(); err != nil {
		o.log.Warn("closing store", zap.Error(err))
	}
	if err := logging.Sync(); err != nil {
		o.log.Debug("logger sync", zap.Error(err))
	}
}

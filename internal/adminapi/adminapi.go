// Package adminapi implements SPEC_FULL.md §4.13, the operator health/
// metrics surface: a small gofiber/fiber/v2 app exposing /healthz,
// /metrics (Prometheus text) and /debug/queues. Grounded on
// cmd/edgeflow/main.go's fiber app + middleware setup and
// internal/metrics/metrics.go's PrometheusFormat/MetricsMiddleware shape,
// generalized from flow/node counters to this gateway's own collaborators.
// This is ambient observability, not the product's own dashboard, so it is
// carried even though SPEC_FULL.md's Non-goals exclude UI rendering.
package adminapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/GifariKemal/iiot-gateway-core/internal/errs"
	"github.com/GifariKemal/iiot-gateway-core/internal/linkmetrics"
	"github.com/GifariKemal/iiot-gateway-core/internal/memguard"
	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/netsuper"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
	"github.com/GifariKemal/iiot-gateway-core/internal/sysinfo"
)

// Deps are the collaborators the admin surface reads from; it never
// mutates any of them.
type Deps struct {
	DataQueue   *queue.Queue[model.MeasurementPoint]
	StreamQueue *queue.Queue[model.MeasurementPoint]
	NetSuper    *netsuper.Supervisor
	Metrics     *linkmetrics.Collector
	Guard       *memguard.Guard
	History     *errs.History
	Version     string
}

// New builds the admin fiber app. It does not call Listen; the caller
// (internal/orchestrator or cmd/gatewaycore) decides the bind address.
func New(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "gatewaycore-admin " + deps.Version,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: "*", AllowMethods: "GET"}))

	app.Get("/healthz", healthzHandler(deps))
	app.Get("/metrics", metricsHandler(deps))
	app.Get("/debug/queues", debugQueuesHandler(deps))
	app.Get("/debug/errors", debugErrorsHandler(deps))
	app.Get("/debug/sysinfo", debugSysinfoHandler)

	return app
}

func debugSysinfoHandler(c *fiber.Ctx) error {
	return c.JSON(sysinfo.Get())
}

func healthzHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mode := deps.NetSuper.ActiveMode()
		available := deps.NetSuper.IsAvailable()
		level := deps.Guard.CurrentLevel()

		status := "healthy"
		if !available || level == memguard.LevelCritical || level == memguard.LevelEmergency {
			status = "degraded"
		}

		return c.JSON(fiber.Map{
			"status":        status,
			"version":       deps.Version,
			"active_link":   mode,
			"link_available": available,
			"memory_level":  level,
		})
	}
}

func metricsHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(prometheusFormat(deps))
	}
}

func prometheusFormat(deps Deps) string {
	w1 := deps.Metrics.Window(time.Minute)
	health := deps.Metrics.Health()

	var b strings.Builder
	writeGauge(&b, "gatewaycore_data_queue_len", "Current Data Queue length", float64(deps.DataQueue.Len()))
	writeCounter(&b, "gatewaycore_data_queue_dropped_total", "Data Queue entries dropped on overflow", float64(deps.DataQueue.Dropped()))
	writeGauge(&b, "gatewaycore_stream_queue_len", "Current Stream Queue length", float64(deps.StreamQueue.Len()))
	writeCounter(&b, "gatewaycore_stream_queue_dropped_total", "Stream Queue entries dropped on overflow", float64(deps.StreamQueue.Dropped()))
	writeGauge(&b, "gatewaycore_link_success_rate", "Configuration-link success rate over the last 60s", w1.SuccessRate)
	writeGauge(&b, "gatewaycore_link_latency_p95_ms", "Configuration-link p95 latency over the last 60s", w1.P95LatencyMS)
	writeGauge(&b, "gatewaycore_link_health_score", "Configuration-link health score [0,100]", health.Score)
	writeGauge(&b, "gatewaycore_link_available", "1 if the active network interface is available", boolToFloat(deps.NetSuper.IsAvailable()))
	writeCounter(&b, "gatewaycore_error_history_total", "Entries currently held in the error taxonomy history ring", float64(deps.History.Len()))
	return b.String()
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n\n", name, help, name, name, value)
}

func writeCounter(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n%s %v\n\n", name, help, name, name, value)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func debugQueuesHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"data_queue": fiber.Map{
				"len":      deps.DataQueue.Len(),
				"capacity": deps.DataQueue.Capacity(),
				"dropped":  deps.DataQueue.Dropped(),
			},
			"stream_queue": fiber.Map{
				"len":      deps.StreamQueue.Len(),
				"capacity": deps.StreamQueue.Capacity(),
				"dropped":  deps.StreamQueue.Dropped(),
			},
		})
	}
}

func debugErrorsHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		n := c.QueryInt("n", 20)
		recent := deps.History.Recent(n)
		out := make([]fiber.Map, 0, len(recent))
		for _, e := range recent {
			out = append(out, fiber.Map{
				"kind":       e.Kind,
				"domain":     e.Domain,
				"code":       e.Code,
				"severity":   e.Severity,
				"message":    e.Message,
				"suggestion": e.Suggestion,
			})
		}
		return c.JSON(fiber.Map{"errors": out})
	}
}

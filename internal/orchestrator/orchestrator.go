package orchestrator

import (
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/adminapi"
	"github.com/GifariKemal/iiot-gateway-core/internal/alloc"
	"github.com/GifariKemal/iiot-gateway-core/internal/command"
	cfgpkg "github.com/GifariKemal/iiot-gateway-core/internal/config"
	"github.com/GifariKemal/iiot-gateway-core/internal/errs"
	"github.com/GifariKemal/iiot-gateway-core/internal/httppub"
	"github.com/GifariKemal/iiot-gateway-core/internal/linkmetrics"
	"github.com/GifariKemal/iiot-gateway-core/internal/linktransport"
	"github.com/GifariKemal/iiot-gateway-core/internal/logging"
	"github.com/GifariKemal/iiot-gateway-core/internal/memguard"
	"github.com/GifariKemal/iiot-gateway-core/internal/modbus"
	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/mqttpub"
	"github.com/GifariKemal/iiot-gateway-core/internal/netsuper"
	"github.com/GifariKemal/iiot-gateway-core/internal/pubsub"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
	"github.com/GifariKemal/iiot-gateway-core/internal/store"
)

const (
	dataQueueCapacity   = 100
	streamQueueCapacity = 50
	historyCapacity     = 100
)

// Version is the gateway's build version, set by cmd/gatewaycore at link
// time (or left at its default for local builds).
var Version = "0.1.0"

// Orchestrator owns every subsystem's construction, lifecycle and graceful
// shutdown (SPEC_FULL.md §4.12), grounded on cmd/edgeflow/main.go's
// registerModules wiring and internal/engine/scheduler.go's run-loop shape.
// There is exactly one Orchestrator per process; it is the sole owner of
// every collaborator (SPEC_FULL.md §9 "no global mutable state").
type Orchestrator struct {
	cfg *cfgpkg.Config
	log *zap.Logger

	Store   store.Store
	History *errs.History
	Bus     *pubsub.Bus

	DataQueue   *queue.Queue[model.MeasurementPoint]
	StreamQueue *queue.Queue[model.MeasurementPoint]

	RTU *modbus.RTUDriver
	TCP *modbus.TCPDriver

	Fallback *store.FallbackQueue
	MQTT     *mqttpub.Publisher
	HTTP     *httppub.Publisher

	NetSuper *netsuper.Supervisor
	Metrics  *linkmetrics.Collector
	Guard    *memguard.Guard

	Command *command.Handler
	LinkHub *linktransport.Hub
	Admin   *fiber.App

	restartRequested bool
	restartMu        sync.Mutex

	wg sync.WaitGroup
}

// New constructs every subsystem and wires their pubsub/reload/write-back
// collaborations, but starts nothing; call Run to start all goroutines.
func New(cfg *cfgpkg.Config) (*Orchestrator, error) {
	history := errs.NewHistory(historyCapacity)
	if err := logging.Init(logging.Config{
		Level:      cfg.Logger.Level,
		LogDir:     dirOf(cfg.Logger.FilePath),
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: 7,
		Compress:   true,
	}, history); err != nil {
		return nil, fmt.Errorf("orchestrator: init logging: %w", err)
	}
	log := logging.WithComponent("orchestrator")

	st, err := store.New(store.Config{
		Backend:   store.Backend(cfg.Store.Backend),
		Path:      cfg.Store.Path,
		MasterKey: cfg.Security.MasterKey,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: init store: %w", err)
	}

	bus := pubsub.New()
	dataQueue := queue.New[model.MeasurementPoint](dataQueueCapacity)
	streamQueue := queue.New[model.MeasurementPoint](streamQueueCapacity)

	rtu := modbus.NewRTUDriver(cfg.Serial.Bus1Device, cfg.Serial.Bus2Device, dataQueue, streamQueue).
		WithLogger(logging.WithComponent("modbus_rtu"))
	tcp := modbus.NewTCPDriver(dataQueue, streamQueue).
		WithLogger(logging.WithComponent("modbus_tcp"))

	o := &Orchestrator{
		cfg:         cfg,
		log:         log,
		Store:       st,
		History:     history,
		Bus:         bus,
		DataQueue:   dataQueue,
		StreamQueue: streamQueue,
		RTU:         rtu,
		TCP:         tcp,
	}

	if err := o.loadDevices(); err != nil {
		log.Warn("initial device load failed", zap.Error(err))
	}

	serverCfg, err := st.GetServerConfig()
	if err != nil {
		serverCfg = &store.ServerConfig{}
		log.Warn("no server config found, starting with zero-value defaults", zap.Error(err))
	}

	if cfg.MQTT.FallbackRedisAddr != "" {
		fallback, ferr := store.NewFallbackQueue(store.FallbackQueueConfig{
			Addr: cfg.MQTT.FallbackRedisAddr,
			DB:   cfg.MQTT.FallbackRedisDB,
		})
		if ferr != nil {
			log.Warn("mqtt fallback queue unavailable, publishing without durability", zap.Error(ferr))
		} else {
			o.Fallback = fallback
		}
	}

	o.MQTT = mqttpub.NewPublisher(serverCfg.MQTT, dataQueue, o.Fallback, &deviceWriter{o: o}, st).
		WithLogger(logging.WithComponent("mqtt_publisher"))
	o.HTTP = httppub.NewPublisher(serverCfg.HTTP, dataQueue).
		WithLogger(logging.WithComponent("http_publisher"))

	o.NetSuper = netsuper.New(netsuper.Config{Primary: netsuperMode(serverCfg.Network.PrimaryMode)}, o.buildProbes(serverCfg)).
		WithLogger(logging.WithComponent("netsuper"))

	o.Metrics = linkmetrics.New()

	memStrategy := alloc.NewMinStrategy(alloc.NewRuntimeStrategy(), alloc.NewHostStrategy())
	o.Guard = memguard.New(memStrategy, dataQueue, o.Fallback, o.requestRestart).
		WithLogger(logging.WithComponent("memguard"))

	o.Command = command.NewHandler(st, bus, dataQueue, streamQueue).
		WithLogger(logging.WithComponent("command_handler"))
	o.LinkHub = linktransport.NewHub().WithLogger(logging.WithComponent("link_hub"))
	o.Admin = adminapi.New(adminapi.Deps{
		DataQueue:   dataQueue,
		StreamQueue: streamQueue,
		NetSuper:    o.NetSuper,
		Metrics:     o.Metrics,
		Guard:       o.Guard,
		History:     history,
		Version:     Version,
	})

	o.wireReloads()
	return o, nil
}

// wireReloads subscribes every reload-sensitive collaborator to the
// Command Handler's server_config/device change notifications, per
// SPEC_FULL.md §9 "Reload callbacks -> internal/pubsub".
func (o *Orchestrator) wireReloads() {
	o.RTU.HandleReload(o.Bus)
	o.TCP.HandleReload(o.Bus)
	o.MQTT.HandleReload(o.Bus)
	o.HTTP.HandleReload(o.Bus)
}

func (o *Orchestrator) loadDevices() error {
	docs, err := o.Store.ListDevices()
	if err != nil {
		return err
	}
	for _, doc := range docs {
		dev := doc.Device
		dev.Registers = doc.Registers
		switch dev.Protocol {
		case model.ProtocolRTU:
			o.RTU.AddDevice(&dev)
		case model.ProtocolTCP:
			o.TCP.AddDevice(&dev)
		}
	}
	return nil
}

// buildProbes constructs one HealthProbe per interface, layering a real
// TCP-reachability check against the configured MQTT broker on top of the
// plain interface-up check whenever a broker host is already known.
func (o *Orchestrator) buildProbes(serverCfg *store.ServerConfig) map[netsuper.Mode]netsuper.HealthProbe {
	var brokerHostport string
	if serverCfg.MQTT.Host != "" {
		brokerHostport = fmt.Sprintf("%s:%d", serverCfg.MQTT.Host, serverCfg.MQTT.Port)
	}
	return map[netsuper.Mode]netsuper.HealthProbe{
		netsuper.ModeETH:  probeReachable(interfaceProbe(ethernetInterfaceName), brokerHostport),
		netsuper.ModeWIFI: probeReachable(interfaceProbe(wifiInterfaceName), brokerHostport),
	}
}

func (o *Orchestrator) requestRestart() {
	o.restartMu.Lock()
	o.restartRequested = true
	o.restartMu.Unlock()
	o.log.Error("memory guard requested an emergency restart")
}

// RestartRequested reports whether the Memory Guard asked the process to
// restart after sustained EMERGENCY pressure; cmd/gatewaycore checks this
// after Run returns to decide whether to re-exec or exit clean.
func (o *Orchestrator) RestartRequested() bool {
	o.restartMu.Lock()
	defer o.restartMu.Unlock()
	return o.restartRequested
}

const (
	ethernetInterfaceName = "eth0"
	wifiInterfaceName     = "wlan0"
)

func netsuperMode(primary string) netsuper.Mode {
	if primary == "wifi" {
		return netsuper.ModeWIFI
	}
	return netsuper.ModeETH
}

func dirOf(filePath string) string {
	if filePath == "" {
		return "./logs"
	}
	i := lastSlash(filePath)
	if i < 0 {
		return "."
	}
	return filePath[:i]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// deviceWriter implements mqttpub.Writer by routing a register write to
// whichever of the two Modbus drivers currently owns that device, looked
// up from the Config Store at call time so a device's protocol can change
// between Command Handler updates without restarting the publisher.
type deviceWriter struct {
	o *Orchestrator
}

func (w *deviceWriter) WriteDeviceRegister(deviceID, registerID string, words []uint16) error {
	doc, err := w.o.Store.GetDevice(deviceID)
	if err != nil {
		return err
	}
	switch doc.Device.Protocol {
	case model.ProtocolRTU:
		return w.o.RTU.WriteDeviceRegister(deviceID, registerID, words)
	case model.ProtocolTCP:
		return w.o.TCP.WriteDeviceRegister(deviceID, registerID, words)
	default:
		return errs.New(errs.KindConfigInvalid, fmt.Sprintf("device %s has unknown protocol %q", deviceID, doc.Device.Protocol), nil)
	}
}

package mqttpub

import (
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

const (
	defaultPerCycleCap     = 100
	fallbackPushTimeout    = 5 * time.Second
	fallbackDrainTimeout   = 10 * time.Second
	customizeCollectTick   = 200 * time.Millisecond
	topicSupervisorTick    = 1 * time.Second
)

// Writer issues the device-register write behind a subscribe-to-write
// message (spec.md §4.6), satisfied by *modbus.RTUDriver and
// *modbus.TCPDriver.
type Writer interface {
	WriteDeviceRegister(deviceID, registerID string, words []uint16) error
}

// Batch is the self-describing payload published on each cadence tick
// (spec.md §4.6 "serialize as a self-describing batch").
type Batch struct {
	Type      string                   `json:"type"`
	Timestamp int64                    `json:"timestamp"`
	Count     int                      `json:"count"`
	Points    []model.MeasurementPoint `json:"points"`
}

// fallbackEntry is one persisted message awaiting redelivery. Timestamp is
// epoch seconds so store.FallbackQueue.ClearExpired can age it out.
type fallbackEntry struct {
	Timestamp int64           `json:"timestamp"`
	Topic     string          `json:"topic"`
	QoS       byte            `json:"qos"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher is the MQTT Publisher of spec.md §4.6: a broker Session, the
// default/customize cadence loops reading the shared Data Queue, the
// persistent fallback queue, and the subscribe-to-write responder.
type Publisher struct {
	mu  sync.RWMutex
	cfg store.MQTTConfig

	dataQueue *queue.Queue[model.MeasurementPoint]
	fallback  *store.FallbackQueue
	writer    Writer
	st        store.Store
	log       *zap.Logger

	session *Session

	latestMu     sync.RWMutex
	latestValues map[string]model.MeasurementPoint

	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewPublisher wires a Publisher against its collaborators. fallback may
// be nil, in which case publish failures are simply logged and dropped
// rather than persisted (e.g. when no Redis backend is configured).
func NewPublisher(cfg store.MQTTConfig, dataQueue *queue.Queue[model.MeasurementPoint], fallback *store.FallbackQueue, writer Writer, st store.Store) *Publisher {
	p := &Publisher{
		cfg:          cfg,
		dataQueue:    dataQueue,
		fallback:     fallback,
		writer:       writer,
		st:           st,
		log:          zap.NewNop(),
		latestValues: make(map[string]model.MeasurementPoint),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	p.session = newSession(cfg, p.onConnected)
	return p
}

// WithLogger attaches a structured logger.
func (p *Publisher) WithLogger(log *zap.Logger) *Publisher {
	p.log = log
	p.session.log = log
	return p
}

// HandleReload subscribes the publisher to server_config change
// notifications so cadence/topic changes take effect without restart
// (spec.md §4.5 "Config-change notifications").
func (p *Publisher) HandleReload(bus *pubsub.Bus) func() {
	return bus.Subscribe(pubsub.TopicEndpointChanged, func(ev pubsub.Event) {
		cfg, ok := ev.Payload.(*store.ServerConfig)
		if !ok || cfg == nil {
			return
		}
		p.mu.Lock()
		p.cfg = cfg.MQTT
		p.mu.Unlock()
	})
}

func (p *Publisher) currentConfig() store.MQTTConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Run starts the session's reconnect loop and both cadence pipelines.
// publish_mode selects which of the two is actually active at any moment;
// the other's tickers run but are no-ops.
func (p *Publisher) Run(ctx context.Context) {
	p.session.Start(p.stop)

	p.wg.Add(3)
	go func() { defer p.wg.Done(); p.runDefaultMode() }()
	go func() { defer p.wg.Done(); p.runCustomizeCollector() }()
	go func() { defer p.wg.Done(); p.runCustomizeSupervisor() }()

	<-p.stop
	p.wg.Wait()
	close(p.done)
}

// Stop signals every Publisher loop to exit, waits for them, and tears
// the session down.
func (p *Publisher) Stop() {
	close(p.stop)
	<-p.done
	p.session.Disconnect()
}

func (p *Publisher) onConnected() {
	p.resubscribeWriteTopics()
	go p.drainFallback()
}

// --- default mode ---

func (p *Publisher) runDefaultMode() {
	for {
		cfg := p.currentConfig()
		select {
		case <-p.stop:
			return
		case <-time.After(cadenceDuration(cfg.DefaultMode.Interval, cfg.DefaultMode.IntervalUnit)):
		}

		cfg = p.currentConfig()
		if cfg.PublishMode != "default" || !cfg.DefaultMode.Enabled {
			continue
		}
		p.publishDefaultCycle(cfg)
	}
}

func (p *Publisher) publishDefaultCycle(cfg store.MQTTConfig) {
	points := p.dataQueue.DrainN(defaultPerCycleCap)
	if len(points) == 0 {
		return
	}
	set := newDedupSet(points)
	batch := Batch{Type: "measurement_batch", Timestamp: time.Now().Unix(), Points: set.all()}
	batch.Count = len(batch.Points)

	data, err := encodeBatch(batch)
	if err != nil {
		p.log.Error("mqttpub: encode default-mode batch failed", zap.Error(err))
		return
	}
	p.publishBytesOrFallback(cfg.DefaultMode.TopicPublish, 0, data)
}

// --- customize mode ---

// runCustomizeCollector continuously drains the Data Queue into a shared
// latest-value cache while customize mode is active, so each custom
// topic's independent cadence can read the freshest sample per register
// without fighting over a single destructive drain (spec.md §8 property 4:
// two topics at different cadences each see their own registers on every
// tick of theirs).
func (p *Publisher) runCustomizeCollector() {
	ticker := time.NewTicker(customizeCollectTick)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if p.currentConfig().PublishMode != "customize" {
				continue
			}
			pts := p.dataQueue.DrainAll()
			if len(pts) == 0 {
				continue
			}
			p.latestMu.Lock()
			for _, pt := range pts {
				p.latestValues[pt.RegisterID] = pt
			}
			p.latestMu.Unlock()
		}
	}
}

// runCustomizeSupervisor spawns one worker per configured custom topic the
// first time it sees it; a topic later removed from config simply lets its
// worker exit on its next wake (see runCustomTopic).
func (p *Publisher) runCustomizeSupervisor() {
	spawned := make(map[string]bool)
	ticker := time.NewTicker(topicSupervisorTick)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			cfg := p.currentConfig()
			for _, t := range cfg.CustomizeMode.CustomTopics {
				if spawned[t.Topic] {
					continue
				}
				spawned[t.Topic] = true
				go p.runCustomTopic(t.Topic)
			}
		}
	}
}

func (p *Publisher) runCustomTopic(topicName string) {
	for {
		cfg := p.currentConfig()
		spec := findCustomTopic(cfg, topicName)
		if spec == nil {
			return
		}
		select {
		case <-p.stop:
			return
		case <-time.After(cadenceDuration(spec.Interval, spec.IntervalUnit)):
		}

		cfg = p.currentConfig()
		if cfg.PublishMode != "customize" || !cfg.CustomizeMode.Enabled {
			continue
		}
		spec = findCustomTopic(cfg, topicName)
		if spec == nil {
			return
		}
		p.publishCustomTopic(*spec)
	}
}

func (p *Publisher) publishCustomTopic(topic store.MQTTCustomTopic) {
	p.latestMu.RLock()
	points := make([]model.MeasurementPoint, 0, len(topic.Registers))
	for _, regID := range topic.Registers {
		if pt, ok := p.latestValues[regID]; ok {
			points = append(points, pt)
		}
	}
	p.latestMu.RUnlock()
	if len(points) == 0 {
		return
	}

	batch := Batch{Type: "measurement_batch", Timestamp: time.Now().Unix(), Points: points, Count: len(points)}
	data, err := encodeBatch(batch)
	if err != nil {
		p.log.Error("mqttpub: encode customize-mode batch failed", zap.String("topic", topic.Topic), zap.Error(err))
		return
	}
	p.publishBytesOrFallback(topic.Topic, topic.QoS, data)
}

func findCustomTopic(cfg store.MQTTConfig, topicName string) *store.MQTTCustomTopic {
	for i := range cfg.CustomizeMode.CustomTopics {
		if cfg.CustomizeMode.CustomTopics[i].Topic == topicName {
			return &cfg.CustomizeMode.CustomTopics[i]
		}
	}
	return nil
}

// --- publish / fallback ---

func (p *Publisher) publishBytesOrFallback(topic string, qos byte, data []byte) {
	if topic == "" {
		return
	}
	if p.session.State() != StateOK {
		p.toFallback(topic, qos, data)
		return
	}
	if err := p.session.Publish(topic, qos, false, data); err != nil {
		e := errs.New(errs.KindMQTTPublishFailed, "publish failed, diverted to fallback queue", err)
		p.log.Warn("mqttpub: publish failed", zap.String("topic", topic), zap.String("code", e.Code), zap.Error(err))
		p.toFallback(topic, qos, data)
	}
}

func (p *Publisher) toFallback(topic string, qos byte, payload []byte) {
	if p.fallback == nil {
		return
	}
	entry := fallbackEntry{Timestamp: time.Now().Unix(), Topic: topic, QoS: qos, Payload: payload}
	ctx, cancel := context.WithTimeout(context.Background(), fallbackPushTimeout)
	defer cancel()
	if err := p.fallback.Push(ctx, entry); err != nil {
		p.log.Error("mqttpub: fallback queue push failed", zap.Error(err))
	}
}

// drainFallback redelivers every persisted entry on reconnection, oldest
// first, stopping (and re-queuing the entry that failed and every entry
// after it) the moment the
// broker rejects one so ordering is preserved (spec.md §4.6 "On
// reconnection, the publisher drains the fallback queue before resuming
// normal cadence").
func (p *Publisher) drainFallback() {
	if p.fallback == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), fallbackDrainTimeout)
	defer cancel()
	raw, err := p.fallback.DrainAll(ctx)
	if err != nil {
		p.log.Error("mqttpub: fallback drain failed", zap.Error(err))
		return
	}
	for i, data := range raw {
		var entry fallbackEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			p.log.Error("mqttpub: malformed fallback entry discarded", zap.Error(err))
			continue
		}
		if err := p.session.Publish(entry.Topic, entry.QoS, false, entry.Payload); err != nil {
			p.log.Warn("mqttpub: fallback redelivery failed, re-queuing remainder", zap.Error(err))
			for _, rest := range raw[i:] {
				if err := p.fallback.Push(ctx, json.RawMessage(rest)); err != nil {
					p.log.Error("mqttpub: fallback queue push failed", zap.Error(err))
				}
			}
			return
		}
	}
}

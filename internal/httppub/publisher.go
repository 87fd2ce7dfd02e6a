// Package httppub implements the HTTP Publisher of spec.md §4.7: a
// cadence-gated drain of the shared Data Queue, one POST/PUT/PATCH per
// record, requeue-at-head and stop on failure. The client setup (transport,
// timeout, header/content-type defaults) is grounded directly on
// pkg/nodes/network/http_request.go's HTTPRequestExecutor, trimmed to the
// fields spec.md §6's http_config actually carries — no OAuth2/proxy/cookie
// jar, since nothing in server_config.json's http_config names them.
package httppub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
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
	perCycleCap       = 5
	defaultTimeoutMS  = 10_000
	defaultRetry      = 3
	retryBaseDelay    = 500 * time.Millisecond
)

// Publisher is the HTTP Publisher of spec.md §4.7.
type Publisher struct {
	mu  sync.RWMutex
	cfg store.HTTPConfig

	dataQueue *queue.Queue[model.MeasurementPoint]
	client    *http.Client
	log       *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewPublisher wires a Publisher against the shared Data Queue.
func NewPublisher(cfg store.HTTPConfig, dataQueue *queue.Queue[model.MeasurementPoint]) *Publisher {
	return &Publisher{
		cfg:       cfg,
		dataQueue: dataQueue,
		client:    newClient(cfg),
		log:       zap.NewNop(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WithLogger attaches a structured logger.
func (p *Publisher) WithLogger(log *zap.Logger) *Publisher {
	p.log = log
	return p
}

func newClient(cfg store.HTTPConfig) *http.Client {
	timeoutMS := cfg.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}
	return &http.Client{Timeout: time.Duration(timeoutMS) * time.Millisecond}
}

// HandleReload subscribes to server_config change notifications so
// endpoint/cadence/retry changes take effect without restart.
func (p *Publisher) HandleReload(bus *pubsub.Bus) func() {
	return bus.Subscribe(pubsub.TopicEndpointChanged, func(ev pubsub.Event) {
		cfg, ok := ev.Payload.(*store.ServerConfig)
		if !ok || cfg == nil {
			return
		}
		p.mu.Lock()
		p.cfg = cfg.HTTP
		p.client = newClient(cfg.HTTP)
		p.mu.Unlock()
	})
}

func (p *Publisher) currentConfig() store.HTTPConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Run drives the cadence loop until Stop is called.
func (p *Publisher) Run(ctx context.Context) {
	for {
		cfg := p.currentConfig()
		select {
		case <-p.stop:
			close(p.done)
			return
		case <-ctx.Done():
			close(p.done)
			return
		case <-time.After(cadenceDuration(cfg.Interval, cfg.IntervalUnit)):
		}

		cfg = p.currentConfig()
		if !cfg.Enabled || cfg.EndpointURL == "" {
			continue
		}
		p.publishCycle(ctx, cfg)
	}
}

// Stop signals Run to exit and waits for it.
func (p *Publisher) Stop() {
	close(p.stop)
	<-p.done
}

// publishCycle drains up to perCycleCap records and POSTs each as its own
// self-describing JSON object (spec.md §4.7). On the first failure, the
// failed record and the drained records not yet sent are put back at the
// head of the Data Queue and the cycle stops — never silently dropped.
func (p *Publisher) publishCycle(ctx context.Context, cfg store.HTTPConfig) {
	points := p.dataQueue.DrainN(perCycleCap)
	if len(points) == 0 {
		return
	}

	for i, pt := range points {
		if err := p.send(ctx, cfg, pt); err != nil {
			e := errs.New(errs.KindHTTPNetwork, "publish failed, requeued", err)
			p.log.Warn("httppub: publish failed, requeuing remainder",
				zap.String("code", e.Code), zap.Int("requeued", len(points)-i), zap.Error(err))
			p.dataQueue.Requeue(points[i:])
			return
		}
	}
}

func (p *Publisher) send(ctx context.Context, cfg store.HTTPConfig, pt model.MeasurementPoint) error {
	retry := cfg.Retry
	if retry <= 0 {
		retry = defaultRetry
	}

	var lastErr error
	for attempt := 0; attempt <= retry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}
		if err := p.attempt(ctx, cfg, pt); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("httppub: all %d attempts failed: %w", retry+1, lastErr)
}

func (p *Publisher) attempt(ctx context.Context, cfg store.HTTPConfig, pt model.MeasurementPoint) error {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(pt)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return errs.New(errs.KindHTTPStatus5xx, fmt.Sprintf("endpoint returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return errs.New(errs.KindHTTPStatus4xx, fmt.Sprintf("endpoint returned %d", resp.StatusCode), nil)
	}
	return nil
}

func cadenceDuration(interval int, unit string) time.Duration {
	if interval <= 0 {
		interval = 1
	}
	switch unit {
	case "ms":
		return time.Duration(interval) * time.Millisecond
	case "m":
		return time.Duration(interval) * time.Minute
	default:
		return time.Duration(interval) * time.Second
	}
}

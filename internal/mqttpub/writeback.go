package mqttpub

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/modbus"
	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/store"
)

// writeResult is one register's outcome inside a write response
// (spec.md §4.6 "Response on configured response_topic").
type writeResult struct {
	DeviceID     string  `json:"device_id"`
	RegisterID   string  `json:"register_id"`
	Status       string  `json:"status"`
	WrittenValue float64 `json:"written_value,omitempty"`
	RawValue     float64 `json:"raw_value,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// writeResponse is the full envelope published back on a write's
// response_topic.
type writeResponse struct {
	Status    string        `json:"status"`
	Topic     string        `json:"topic"`
	Results   []writeResult `json:"results"`
	Timestamp int64         `json:"timestamp"`
}

// resubscribeWriteTopics re-arms every write-capable subscription after a
// (re)connect, since paho drops subscriptions across a session reset.
func (p *Publisher) resubscribeWriteTopics() {
	cfg := p.currentConfig()
	switch cfg.PublishMode {
	case "customize":
		if !cfg.CustomizeMode.Enabled {
			return
		}
		for _, t := range cfg.CustomizeMode.CustomTopics {
			if len(t.Registers) == 0 {
				continue
			}
			p.subscribeWrite(t)
		}
	case "default":
		if !cfg.DefaultMode.Enabled || cfg.DefaultMode.TopicSubscribe == "" {
			return
		}
		p.subscribeDefaultWrite(cfg.DefaultMode.TopicSubscribe, cfg.DefaultMode.TopicPublish)
	}
}

// subscribeDefaultWrite arms default mode's single write-subscribe topic.
// Default mode has no per-topic registers[] scoping list, so the
// "value":X single-register shorthand never applies here — only the keyed
// {"<register_id>":X,...} form is accepted, and the response is published
// on the same topic_publish used for cadence batches (default mode has no
// dedicated response_topic field).
func (p *Publisher) subscribeDefaultWrite(topicSubscribe, topicPublish string) {
	err := p.session.Subscribe(topicSubscribe, 0, func(_ mqtt.Client, msg mqtt.Message) {
		p.handleWrite(topicSubscribe, topicPublish, nil, msg.Payload())
	})
	if err != nil {
		p.log.Warn("mqttpub: subscribe for default-mode write failed", zap.String("topic", topicSubscribe), zap.Error(err))
	}
}

func (p *Publisher) subscribeWrite(topic store.MQTTCustomTopic) {
	registers := append([]string(nil), topic.Registers...)
	responseTopic := topic.ResponseTopic
	if responseTopic == "" {
		responseTopic = topic.Topic + "/response"
	}
	err := p.session.Subscribe(topic.Topic, topic.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		p.handleWrite(topic.Topic, responseTopic, registers, msg.Payload())
	})
	if err != nil {
		p.log.Warn("mqttpub: subscribe for write failed", zap.String("topic", topic.Topic), zap.Error(err))
	}
}

// handleWrite parses an inbound write payload and issues one device
// write per register named in it, then publishes the aggregate result on
// responseTopic (spec.md §4.6 "MQTT write-subscribe payload").
func (p *Publisher) handleWrite(topicName, responseTopic string, registers []string, raw []byte) {
	values, err := parseWritePayload(raw, registers)
	if err != nil {
		p.log.Warn("mqttpub: malformed write payload", zap.String("topic", topicName), zap.Error(err))
		p.publishWriteResponse(responseTopic, writeResponse{
			Status:    "error",
			Topic:     topicName,
			Timestamp: time.Now().Unix(),
		})
		return
	}

	results := make([]writeResult, 0, len(values))
	overallOK, overallErr := true, true
	for regID, value := range values {
		res := p.writeOne(regID, value)
		results = append(results, res)
		if res.Status != "ok" {
			overallOK = false
		} else {
			overallErr = false
		}
	}

	status := "partial"
	switch {
	case overallOK:
		status = "ok"
	case overallErr:
		status = "error"
	}
	p.publishWriteResponse(responseTopic, writeResponse{
		Status:    status,
		Topic:     topicName,
		Results:   results,
		Timestamp: time.Now().Unix(),
	})
}

// parseWritePayload accepts the 1-register {"value": X} shorthand (only
// legal when exactly one register is in scope) or the keyed
// {"<register_id>": X, ...} form.
func parseWritePayload(raw []byte, registers []string) (map[string]float64, error) {
	var shorthand struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &shorthand); err == nil && shorthand.Value != nil {
		if len(registers) != 1 {
			return nil, fmt.Errorf("mqttpub: \"value\" shorthand requires exactly one register in scope, got %d", len(registers))
		}
		return map[string]float64{registers[0]: *shorthand.Value}, nil
	}

	var keyed map[string]float64
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("mqttpub: unrecognized write payload: %w", err)
	}
	if len(keyed) == 0 {
		return nil, fmt.Errorf("mqttpub: empty write payload")
	}
	return keyed, nil
}

func (p *Publisher) writeOne(registerID string, value float64) writeResult {
	res := writeResult{RegisterID: registerID}

	dev, reg, ok := p.lookupRegister(registerID)
	if !ok {
		res.Status = "error"
		res.Error = "unknown register_id"
		return res
	}
	res.DeviceID = dev.Device.DeviceID

	raw := reg.Uncalibrate(value)
	words, err := modbus.Encode(reg.DataType, raw)
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	if err := p.writer.WriteDeviceRegister(dev.Device.DeviceID, registerID, words); err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	res.Status = "ok"
	res.WrittenValue = value
	res.RawValue = raw
	return res
}

func (p *Publisher) lookupRegister(registerID string) (*store.DeviceDocument, model.RegisterDefinition, bool) {
	docs, err := p.st.ListDevices()
	if err != nil {
		return nil, model.RegisterDefinition{}, false
	}
	for _, doc := range docs {
		for _, reg := range doc.Registers {
			if reg.RegisterID == registerID {
				return doc, reg, true
			}
		}
	}
	return nil, model.RegisterDefinition{}, false
}

func (p *Publisher) publishWriteResponse(responseTopic string, resp writeResponse) {
	if responseTopic == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		p.log.Error("mqttpub: encode write response failed", zap.Error(err))
		return
	}
	p.publishBytesOrFallback(responseTopic, 1, data)
}

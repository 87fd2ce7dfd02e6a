// Package mqttpub implements the MQTT Publisher of spec.md §4.6:
// github.com/eclipse/paho.mqtt.golang, grounded directly on
// pkg/nodes/network/mqtt_out.go for the session/reconnect/LWT shape and on
// the bcdiaconu mqtt-gateway's USRGateway for the subscribe/response-topic
// pattern behind subscribe-to-write.
package mqttpub

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/store"
)

// SessionState is one of the broker session states of spec.md §4.6.
type SessionState string

const (
	StateOff        SessionState = "OFF"
	StateConnecting SessionState = "CONNECTING"
	StateOK         SessionState = "OK"
	StateErr        SessionState = "ERR"
)

const (
	defaultKeepAliveSec  = 120
	sessionConnectTimeout = 10 * time.Second
	reconnectBaseBackoff  = 1 * time.Second
	reconnectMaxBackoff   = 30 * time.Second
	sessionPollInterval   = 1 * time.Second
)

// Session owns the paho client and the state machine of spec.md §4.6,
// reconnecting with bounded exponential backoff on drop rather than
// paho's own unbounded auto-reconnect.
type Session struct {
	mu     sync.RWMutex
	state  SessionState
	client mqtt.Client
	log    *zap.Logger

	onConnect func()
}

func newSession(cfg store.MQTTConfig, onConnect func()) *Session {
	s := &Session{state: StateOff, log: zap.NewNop(), onConnect: onConnect}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("gatewaycore_%d", time.Now().UnixNano())
	}
	keepAlive := cfg.KeepAliveSec
	if keepAlive <= 0 {
		keepAlive = defaultKeepAliveSec
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(clientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(false) // Session drives its own bounded backoff below
	opts.SetKeepAlive(time.Duration(keepAlive) * time.Second)
	opts.SetConnectTimeout(sessionConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		s.setState(StateOK)
		if s.onConnect != nil {
			s.onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn("mqttpub: connection lost", zap.Error(err))
		s.setState(StateErr)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Start launches the bounded-backoff reconnect loop. It returns
// immediately; connection outcomes surface through State().
func (s *Session) Start(stop <-chan struct{}) {
	go s.run(stop)
}

func (s *Session) run(stop <-chan struct{}) {
	backoff := reconnectBaseBackoff
	for {
		select {
		case <-stop:
			return
		default:
		}

		if s.State() != StateOK {
			s.setState(StateConnecting)
			token := s.client.Connect()
			token.Wait()
			if err := token.Error(); err != nil {
				s.setState(StateErr)
				s.log.Warn("mqttpub: connect failed", zap.Error(err))
				select {
				case <-stop:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > reconnectMaxBackoff {
					backoff = reconnectMaxBackoff
				}
				continue
			}
			backoff = reconnectBaseBackoff
			// OnConnectHandler flips state to OK and fires onConnect.
		}

		select {
		case <-stop:
			return
		case <-time.After(sessionPollInterval):
		}
	}
}

// State reports the session's current state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Publish sends payload on topic if the session is connected.
func (s *Session) Publish(topic string, qos byte, retain bool, payload []byte) error {
	if s.State() != StateOK {
		return fmt.Errorf("mqttpub: session not connected")
	}
	token := s.client.Publish(topic, qos, retain, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers cb against topic at qos.
func (s *Session) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, qos, cb)
	token.Wait()
	return token.Error()
}

// Disconnect tears the session down and marks it OFF.
func (s *Session) Disconnect() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.setState(StateOff)
}

// Package store defines the Config Store collaborator's interface (spec.md
// §1 "deliberately out of scope... specified only at their interface", §2
// row 1, §6 "Persisted documents"). The core only needs atomic get/put/list
// over four document shapes; this package stays a thin contract plus two
// concrete backings grounded on the teacher's internal/storage package, so
// the on-disk encoding remains swappable exactly as the collaborator
// boundary demands.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/GifariKemal/iiot-gateway-core/internal/model"
)

// DeviceDocument is one entry of devices.json: a device plus its owned
// register definitions (spec.md §6).
type DeviceDocument struct {
	Device    model.Device                `json:"device"`
	Registers []model.RegisterDefinition `json:"registers"`
}

// NetworkConfig is the communication.* / wifi.* / ethernet.* slice of
// server_config.json (spec.md §6).
type NetworkConfig struct {
	PrimaryMode string `json:"primary_network_mode"`
	Wifi        struct {
		Enabled  bool   `json:"enabled"`
		SSID     string `json:"ssid"`
		Password string `json:"password"`
	} `json:"wifi"`
	Ethernet struct {
		Enabled  bool   `json:"enabled"`
		UseDHCP  bool   `json:"use_dhcp"`
		StaticIP string `json:"static_ip"`
		Gateway  string `json:"gateway"`
		Subnet   string `json:"subnet"`
	} `json:"ethernet"`
}

// MQTTDefaultMode is server_config.json's mqtt_config.default_mode.
type MQTTDefaultMode struct {
	Enabled        bool   `json:"enabled"`
	TopicPublish   string `json:"topic_publish"`
	TopicSubscribe string `json:"topic_subscribe"`
	Interval       int    `json:"interval"`
	IntervalUnit   string `json:"interval_unit"`
}

// MQTTCustomTopic is one entry of mqtt_config.customize_mode.custom_topics.
type MQTTCustomTopic struct {
	Topic          string   `json:"topic"`
	QoS            byte     `json:"qos"`
	ResponseTopic  string   `json:"response_topic"`
	Registers      []string `json:"registers"`
	Interval       int      `json:"interval"`
	IntervalUnit   string   `json:"interval_unit"`
}

// MQTTCustomizeMode is server_config.json's mqtt_config.customize_mode.
type MQTTCustomizeMode struct {
	Enabled      bool              `json:"enabled"`
	CustomTopics []MQTTCustomTopic `json:"custom_topics"`
}

// MQTTConfig is server_config.json's mqtt_config section.
type MQTTConfig struct {
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	ClientID      string            `json:"client_id"`
	Username      string            `json:"username"`
	Password      string            `json:"password"`
	KeepAliveSec  int               `json:"keep_alive_sec"`
	CleanSession  bool              `json:"clean_session"`
	UseTLS        bool              `json:"use_tls"`
	PublishMode   string            `json:"publish_mode"`
	DefaultMode   MQTTDefaultMode   `json:"default_mode"`
	CustomizeMode MQTTCustomizeMode `json:"customize_mode"`
}

// HTTPConfig is server_config.json's http_config section.
type HTTPConfig struct {
	Enabled      bool              `json:"enabled"`
	EndpointURL  string            `json:"endpoint_url"`
	Method       string            `json:"method"`
	BodyFormat   string            `json:"body_format"`
	TimeoutMS    int               `json:"timeout"`
	Retry        int               `json:"retry"`
	Headers      map[string]string `json:"headers"`
	Interval     int               `json:"interval"`
	IntervalUnit string            `json:"interval_unit"`
}

// ServerConfig is the whole of server_config.json.
type ServerConfig struct {
	Network  NetworkConfig `json:"network"`
	Protocol string        `json:"protocol"`
	MQTT     MQTTConfig    `json:"mqtt_config"`
	HTTP     HTTPConfig    `json:"http_config"`
}

// LoggingConfig is logging_config.json: levels and module toggles.
type LoggingConfig struct {
	Level          string          `json:"level"`
	ModuleEnabled  map[string]bool `json:"module_enabled"`
}

// OTAConfig is ota_config.json.
type OTAConfig struct {
	Cadence            string `json:"cadence"`
	Source             string `json:"source"`
	VerifySignature    bool   `json:"verify_signature"`
}

// Store is the Config Store collaborator's interface. Implementations must
// be safe for concurrent use and must make each Put/Delete visible to
// subsequent Gets atomically (spec.md §1 "reads and writes these
// atomically").
type Store interface {
	GetDevice(id string) (*DeviceDocument, error)
	PutDevice(doc *DeviceDocument) error
	DeleteDevice(id string) error
	ListDevices() ([]*DeviceDocument, error)

	GetServerConfig() (*ServerConfig, error)
	PutServerConfig(cfg *ServerConfig) error

	GetLoggingConfig() (*LoggingConfig, error)
	PutLoggingConfig(cfg *LoggingConfig) error

	GetOTAConfig() (*OTAConfig, error)
	PutOTAConfig(cfg *OTAConfig) error

	Close() error
}

// ErrNotFound is returned by Get* methods when the requested document does
// not exist.
var ErrNotFound = fmt.Errorf("store: document not found")

func marshalDocument(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

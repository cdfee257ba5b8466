package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/loykin/taskvisor/internal/model"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultQuiesceMillis  = 1000
	DefaultTopicPrefix    = "taskvisor"
)

var ErrMQTTConnect = errors.New("mqtt connect failed")

// MQTTConfig mirrors the [mqtt] configuration section.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
	Retained    bool   `mapstructure:"retained"`
}

// Publisher is the subset of the paho client used here.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTT publishes events as JSON:
//
//	<prefix>/apps/<id>/status          ManagedApplication
//	<prefix>/tasks/<id>/executed       ScheduleRule
type MQTT struct {
	pub      Publisher
	client   pahomqtt.Client
	prefix   string
	qos      byte
	retained bool
}

// NewMQTT wraps an existing publisher.
func NewMQTT(pub Publisher, cfg MQTTConfig) *MQTT {
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	qos := cfg.QoS
	if qos > 2 {
		qos = 2
	}
	return &MQTT{pub: pub, prefix: prefix, qos: qos, retained: cfg.Retained}
}

// ConnectMQTT dials the broker with auto-reconnect enabled.
func ConnectMQTT(cfg MQTTConfig) (*MQTT, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "taskvisor"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	c := pahomqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrMQTTConnect, defaultConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}
	m := NewMQTT(c, cfg)
	m.client = c
	return m, nil
}

func (m *MQTT) StatusTopic(appID string) string { return m.prefix + "/apps/" + appID + "/status" }

func (m *MQTT) TaskTopic(ruleID string) string { return m.prefix + "/tasks/" + ruleID + "/executed" }

func (m *MQTT) OnApplicationStatusChanged(app model.ManagedApplication) {
	m.publish(m.StatusTopic(app.ID), app)
}

func (m *MQTT) OnTaskExecuted(rule model.ScheduleRule) {
	m.publish(m.TaskTopic(rule.ID), rule)
}

func (m *MQTT) publish(topic string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("mqtt encode", "topic", topic, "error", err)
		return
	}
	tok := m.pub.Publish(topic, m.qos, m.retained, b)
	if !tok.WaitTimeout(defaultPublishTimeout) {
		slog.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := tok.Error(); err != nil {
		slog.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// Close disconnects when the client was created by ConnectMQTT.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(defaultQuiesceMillis)
	}
}

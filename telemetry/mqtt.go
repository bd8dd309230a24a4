package telemetry

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"dbw-twist-core/utils"
)

// MQTTConfig holds MQTT broker settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes samples as JSON with QoS 0, not retained.
type MQTTSink struct {
	client  publisher
	topic   string
	timeout time.Duration
	close   func()
}

// NewMQTTSink connects to the broker.
func NewMQTTSink(cfg MQTTConfig, log *utils.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("MQTT connected: %s topic=%s", cfg.Broker, cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}

	s := newMQTTSink(client, cfg.Topic)
	s.close = func() { client.Disconnect(250) }
	return s, nil
}

func newMQTTSink(client publisher, topic string) *MQTTSink {
	return &MQTTSink{
		client:  client,
		topic:   topic,
		timeout: 50 * time.Millisecond,
	}
}

// Publish waits at most one short timeout for the broker acknowledgement so
// a slow broker cannot stall the control loop.
func (m *MQTTSink) Publish(s Sample) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	token := m.client.Publish(m.topic, 0, false, data)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt publish %s: timed out after %s", m.topic, m.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.topic, err)
	}
	return nil
}

func (m *MQTTSink) Close() {
	if m.close != nil {
		m.close()
	}
}

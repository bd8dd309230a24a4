package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	control "dbw-twist-core/dbw_node/twist_control"
	"dbw-twist-core/utils"
)

// NodeConfig is the full configuration of the DBW node.
type NodeConfig struct {
	Controller control.Config  `json:"controller"`
	Transport  TransportConfig `json:"transport"`
	Telemetry  TelemetryConfig `json:"telemetry"`
}

// TransportConfig selects the CAN interface and the frames the node uses.
type TransportConfig struct {
	Interface     string `json:"interface"`
	MapPath       string `json:"can_map"`
	TwistFrame    string `json:"twist_frame"`
	EnableFrame   string `json:"enable_frame"`
	FeedbackFrame string `json:"feedback_frame"`
	ActuatorFrame string `json:"actuator_frame"`

	// Twist/enable older than this is treated as a disengagement
	CommandTimeoutMS int `json:"command_timeout_ms"`
	// Speed feedback older than this is warned about
	FeedbackTimeoutMS int `json:"feedback_timeout_ms"`
}

// TelemetryConfig enables the optional telemetry sinks. Empty URLs disable
// the corresponding sink.
type TelemetryConfig struct {
	NATSURL      string `json:"nats_url"`
	NATSSubject  string `json:"nats_subject"`
	MQTTBroker   string `json:"mqtt_broker"`
	MQTTTopic    string `json:"mqtt_topic"`
	MQTTClientID string `json:"mqtt_client_id"`
	MQTTUsername string `json:"mqtt_username"`
	MQTTPassword string `json:"mqtt_password"`
	PublishEvery int    `json:"publish_every"` // cycles between samples
}

func (t TransportConfig) CommandTimeout() time.Duration {
	return time.Duration(t.CommandTimeoutMS) * time.Millisecond
}

func (t TransportConfig) FeedbackTimeout() time.Duration {
	return time.Duration(t.FeedbackTimeoutMS) * time.Millisecond
}

func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Controller: control.DefaultConfig(),
		Transport: TransportConfig{
			Interface:         "vcan0",
			MapPath:           "config/can/dbw_map.csv",
			TwistFrame:        "TWIST_CMD",
			EnableFrame:       "DBW_ENABLE",
			FeedbackFrame:     "VEHICLE_STATE_1",
			ActuatorFrame:     "DBW_CMD",
			CommandTimeoutMS:  500,
			FeedbackTimeoutMS: 500,
		},
		Telemetry: TelemetryConfig{
			NATSSubject:  "dbw.telemetry",
			MQTTTopic:    "vehicle/dbw/telemetry",
			MQTTClientID: "dbw-twist-node",
			PublishEvery: 5,
		},
	}
}

// LoadNodeConfig starts from the defaults, overlays the JSON file at path
// (when path is not empty) and then the environment.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return NodeConfig{}, fmt.Errorf("read file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return NodeConfig{}, fmt.Errorf("unmarshal: %w", err)
		}
	}

	applyEnvironmentOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// applyEnvironmentOverrides reads DBW_* variables, including those from a
// .env file.
func applyEnvironmentOverrides(cfg *NodeConfig) {
	utils.LoadDotEnv()

	t := &cfg.Transport
	t.Interface = utils.GetEnv("DBW_CAN_IFACE", t.Interface)
	t.MapPath = utils.GetEnv("DBW_CAN_MAP", t.MapPath)
	t.CommandTimeoutMS = int(utils.GetEnvDuration("DBW_COMMAND_TIMEOUT", t.CommandTimeout()).Milliseconds())
	t.FeedbackTimeoutMS = int(utils.GetEnvDuration("DBW_FEEDBACK_TIMEOUT", t.FeedbackTimeout()).Milliseconds())

	tel := &cfg.Telemetry
	tel.NATSURL = utils.GetEnv("DBW_NATS_URL", tel.NATSURL)
	tel.NATSSubject = utils.GetEnv("DBW_NATS_SUBJECT", tel.NATSSubject)
	tel.MQTTBroker = utils.GetEnv("DBW_MQTT_BROKER", tel.MQTTBroker)
	tel.MQTTTopic = utils.GetEnv("DBW_MQTT_TOPIC", tel.MQTTTopic)
	tel.MQTTClientID = utils.GetEnv("DBW_MQTT_CLIENT_ID", tel.MQTTClientID)
	tel.MQTTUsername = utils.GetEnv("DBW_MQTT_USERNAME", tel.MQTTUsername)
	tel.MQTTPassword = utils.GetEnv("DBW_MQTT_PASSWORD", tel.MQTTPassword)
}

func (c NodeConfig) Validate() error {
	if err := c.Controller.Validate(); err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	if c.Transport.CommandTimeoutMS <= 0 {
		return fmt.Errorf("invalid command_timeout_ms: %d", c.Transport.CommandTimeoutMS)
	}
	if c.Transport.FeedbackTimeoutMS <= 0 {
		return fmt.Errorf("invalid feedback_timeout_ms: %d", c.Transport.FeedbackTimeoutMS)
	}
	if c.Telemetry.PublishEvery <= 0 {
		return fmt.Errorf("invalid publish_every: %d", c.Telemetry.PublishEvery)
	}
	return nil
}

// Package config loads the capture session configuration from a YAML file,
// with environment-variable overrides and a built-in default for a local
// broker when the file is absent or malformed.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/calyptra/mqttcap/pkg/capture"
)

// envPrefix is the prefix for environment overrides, e.g.
// MQTTCAP_HOSTNAME, MQTTCAP_USERNAME, MQTTCAP_PASSWORD.
const envPrefix = "MQTTCAP"

// TopicSubscription is one configured subscription: a topic filter (MQTT
// wildcards like "weather/#" are allowed) and the QoS level requested for
// it. Duplicate names are permitted; the client layer de-duplicates them.
type TopicSubscription struct {
	Name string `mapstructure:"name" json:"name" validate:"required"`
	QoS  byte   `mapstructure:"qos" json:"qos" validate:"lte=2"`
}

// Config holds the broker connection parameters and the topic set for one
// capture session. Immutable after load.
type Config struct {
	// Hostname is the broker URL, e.g. "tcp://localhost:1883".
	Hostname string `mapstructure:"hostname" json:"hostname" validate:"required"`
	// ClientID identifies the session to the broker.
	ClientID string `mapstructure:"client_id" json:"client_id" validate:"required"`
	// Username for broker authentication.
	Username string `mapstructure:"username" json:"username"`
	// Password for broker authentication.
	Password string `mapstructure:"password" json:"password"`
	// InsecureSkipVerify disables server-certificate validation for TLS
	// broker URLs. A deliberate trust trade-off, off by default.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" json:"insecure_skip_verify"`
	// CACertFile is an optional path to a CA certificate for verifying
	// the broker's certificate.
	CACertFile string `mapstructure:"ca_cert_file" json:"ca_cert_file"`
	// ClientCertFile is an optional path to a client certificate for mTLS.
	ClientCertFile string `mapstructure:"client_cert_file" json:"client_cert_file"`
	// ClientKeyFile is an optional path to the matching client key.
	ClientKeyFile string `mapstructure:"client_key_file" json:"client_key_file"`
	// SubscribedTopics is the ordered, non-empty topic set.
	SubscribedTopics []TopicSubscription `mapstructure:"subscribed_topics" json:"subscribed_topics" validate:"required,min=1,dive"`
}

// Default returns the built-in fallback configuration: a local broker and
// two plain topics at QoS 0.
func Default() *Config {
	return &Config{
		Hostname: "tcp://localhost:1883",
		ClientID: "TEMP_CLIENT",
		Username: "TEMP_USER",
		Password: "temppassword",
		SubscribedTopics: []TopicSubscription{
			{Name: "topic_1", QoS: 0},
			{Name: "topic_2", QoS: 0},
		},
	}
}

// Load reads and validates the configuration file at path. Any failure
// (missing file, unparseable YAML, failed validation) is returned as an
// error; the caller is expected to fall back to Default().
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// Unmarshal only sees env values for keys viper already knows about.
	for _, key := range []string{"hostname", "client_id", "username", "password", "insecure_skip_verify", "ca_cert_file", "client_cert_file", "client_key_file"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return cfg, nil
}

// Topics returns the subscription set in configuration order.
func (c *Config) Topics() []capture.Topic {
	topics := make([]capture.Topic, 0, len(c.SubscribedTopics))
	for _, t := range c.SubscribedTopics {
		topics = append(topics, capture.Topic{Name: t.Name, QoS: t.QoS})
	}
	return topics
}

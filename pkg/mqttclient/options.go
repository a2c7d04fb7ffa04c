package mqttclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds the connection parameters for the paho MQTT client.
type Config struct {
	// BrokerURL is the full URL of the MQTT broker.
	// Example: "tcp://localhost:1883" or "tls://mqtt.example.com:8883".
	BrokerURL string
	// ClientID identifies this session to the broker.
	ClientID string
	// Username for authenticating with the MQTT broker.
	Username string
	// Password for authenticating with the MQTT broker.
	Password string
	// KeepAlive is the interval at which the client pings the broker.
	KeepAlive time.Duration
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration
	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration
	// DisconnectQuiesce is the grace period granted to in-flight work on
	// disconnect.
	DisconnectQuiesce time.Duration
	// CACertFile is an optional path to a CA certificate for verifying the
	// broker's certificate.
	CACertFile string
	// ClientCertFile is an optional path to a client certificate for mTLS.
	ClientCertFile string
	// ClientKeyFile is an optional path to the matching client key.
	ClientKeyFile string
	// InsecureSkipVerify skips server-certificate validation. This trades
	// away broker authentication and is NOT recommended outside trusted
	// networks; enabling it is logged loudly.
	InsecureSkipVerify bool
}

func (c *Config) applyDefaults() {
	if c.KeepAlive == 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 1 * time.Second
	}
	if c.DisconnectQuiesce == 0 {
		c.DisconnectQuiesce = 500 * time.Millisecond
	}
}

// createMqttOptions assembles the paho client options from the config.
// Automatic reconnection is disabled on purpose: reconnects are driven
// explicitly by the consume loop so the loss signal stays visible to it.
func (c *Client) createMqttOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetDefaultPublishHandler(c.handleMessage)
	opts.SetConnectionLostHandler(c.handleConnectionLost)

	scheme := strings.ToLower(c.cfg.BrokerURL)
	if strings.HasPrefix(scheme, "tls://") || strings.HasPrefix(scheme, "ssl://") || strings.HasPrefix(scheme, "mqtts://") {
		tlsConfig, err := newTLSConfig(&c.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
		if c.cfg.InsecureSkipVerify {
			c.logger.Warn().Msg("Server certificate validation is disabled; the broker's identity will not be verified.")
		}
	}
	return opts, nil
}

// newTLSConfig builds the TLS settings for a secure broker URL from the
// optional CA and client-certificate files.
func newTLSConfig(cfg *Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

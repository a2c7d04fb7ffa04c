// Package mqttclient provides the MQTT-backed implementation of the
// capture session's broker connection: connect, subscribe-many, an inbound
// event stream carrying an explicit loss signal, blocking reconnect, and
// best-effort disconnect.
package mqttclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/calyptra/mqttcap/pkg/capture"
)

const subscribeTimeout = 5 * time.Second

// ClientFactory builds a paho client from assembled options. It exists as
// the injection seam for unit tests; production code uses mqtt.NewClient.
type ClientFactory func(*mqtt.ClientOptions) mqtt.Client

// Client owns one live session handle to an MQTT broker. It implements
// capture.BrokerConnection. The handle is never shared across sessions.
type Client struct {
	pahoClient mqtt.Client
	cfg        Config
	logger     zerolog.Logger
	events     chan capture.Event
	stopOnce   sync.Once

	// emitMu serializes event emission against the close of the stream in
	// Disconnect, so a late paho callback can never send on a closed
	// channel.
	emitMu sync.RWMutex
	closed bool

	// filters is the subscription set issued by SubscribeMany, kept so a
	// successful reconnect can re-establish it. The session connects with
	// clean-session semantics, so the broker forgets subscriptions on
	// every connection loss.
	filters    map[string]byte
	topicNames []string
}

// New creates a client for the given broker. It does not connect until
// Connect is called.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	return NewWithFactory(cfg, logger, mqtt.NewClient)
}

// NewWithFactory is New with an explicit paho client factory.
func NewWithFactory(cfg Config, logger zerolog.Logger, factory ClientFactory) (*Client, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "MqttClient").Logger(),
		events: make(chan capture.Event, 1000),
	}
	opts, err := c.createMqttOptions()
	if err != nil {
		return nil, err
	}
	c.pahoClient = factory(opts)
	return c, nil
}

// Events returns the read-only stream of inbound messages and loss signals.
func (c *Client) Events() <-chan capture.Event {
	return c.events
}

// Connect establishes the transport session. A refused or unreachable
// endpoint is fatal; there is no retry at this stage.
func (c *Client) Connect(_ context.Context) error {
	c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Connecting to MQTT broker...")
	if err := waitToken(c.pahoClient.Connect(), c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to connect to broker %s: %w", c.cfg.BrokerURL, err)
	}
	c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Connected to MQTT broker.")
	return nil
}

// SubscribeMany issues a single subscription request covering all topics.
// Duplicate topic names collapse into one filter, which is observably the
// same as broker-side de-duplication. Failure is fatal for the session.
func (c *Client) SubscribeMany(topics []capture.Topic) error {
	if len(topics) == 0 {
		return fmt.Errorf("no topics to subscribe to")
	}

	filters := make(map[string]byte, len(topics))
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		filters[t.Name] = t.QoS
		names = append(names, t.Name)
	}

	if err := waitToken(c.pahoClient.SubscribeMultiple(filters, c.handleMessage), subscribeTimeout); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.filters = filters
	c.topicNames = names
	for _, t := range topics {
		c.logger.Info().Str("topic", t.Name).Uint8("qos", t.QoS).Msg("Subscribed to topic.")
	}
	return nil
}

// Reconnect blocks until the broker connection is back or ctx is cancelled.
// It retries indefinitely with a fixed delay, logging each failed attempt
// with an incrementing counter, and re-issues the stored subscription set
// after every successful connect. A failed resubscribe counts as a failed
// attempt. With auto-reconnect disabled, paho rejects Connect on a client
// that is already connected, so an attempt only dials when the transport
// is actually down; a connected client goes straight to the resubscribe.
func (c *Client) Reconnect(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		var err error
		if !c.pahoClient.IsConnected() {
			err = waitToken(c.pahoClient.Connect(), c.cfg.ConnectTimeout)
		}
		if err == nil {
			if err = c.resubscribe(); err == nil {
				c.logger.Info().Int("attempt", attempt).Msg("Reconnected to MQTT broker.")
				return nil
			}
		}
		c.logger.Error().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed.")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// Disconnect closes the connection best-effort and closes the event
// stream. Failures are logged, not propagated; the session is ending
// regardless. Safe to call more than once.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		if c.pahoClient.IsConnected() {
			if len(c.topicNames) > 0 {
				if err := waitToken(c.pahoClient.Unsubscribe(c.topicNames...), 2*time.Second); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to unsubscribe from MQTT topics.")
				}
			}
			c.pahoClient.Disconnect(uint(c.cfg.DisconnectQuiesce / time.Millisecond))
		}
		c.emitMu.Lock()
		c.closed = true
		close(c.events)
		c.emitMu.Unlock()
		c.logger.Info().Msg("Disconnected from MQTT broker.")
	})
}

func (c *Client) resubscribe() error {
	if len(c.filters) == 0 {
		return nil
	}
	if err := waitToken(c.pahoClient.SubscribeMultiple(c.filters, c.handleMessage), subscribeTimeout); err != nil {
		return fmt.Errorf("failed to resubscribe: %w", err)
	}
	return nil
}

// handleMessage converts an inbound paho message into a stream event. The
// payload is copied because paho reuses its buffers.
func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	payloadCopy := make([]byte, len(msg.Payload()))
	copy(payloadCopy, msg.Payload())

	dropped := c.emit(capture.Event{Message: &capture.Message{
		Topic:     msg.Topic(),
		Payload:   payloadCopy,
		Duplicate: msg.Duplicate(),
	}})
	if dropped {
		c.logger.Warn().Str("topic", msg.Topic()).Msg("Dropping MQTT message, stream unavailable.")
	}
}

// handleConnectionLost surfaces a transport-level interruption as a loss
// signal on the stream, distinct from any per-message decode failure.
func (c *Client) handleConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn().Err(err).Msg("Lost MQTT connection.")
	_ = c.emit(capture.Event{Lost: true, Err: err})
}

// emit places an event on the stream. It reports true when the event had
// to be dropped, either because the client is shutting down or because the
// consume loop has fallen a full buffer behind. A loss signal is never
// dropped on a full buffer: the consume loop would otherwise drain the
// backlog and block on a silent channel with no reconnect ever triggered.
// Instead the oldest buffered message is evicted to make room.
func (c *Client) emit(ev capture.Event) (dropped bool) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.closed {
		return true
	}
	for {
		select {
		case c.events <- ev:
			return false
		default:
		}
		if !ev.Lost {
			return true
		}
		select {
		case <-c.events:
		default:
		}
	}
}

// waitToken waits on a paho token with a timeout and normalizes the result
// to an error.
func waitToken(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("operation timed out after %s", timeout)
	}
	return token.Error()
}

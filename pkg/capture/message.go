// Package capture implements a bounded-duration message-capture session
// against a publish/subscribe broker: the consume loop, the statistics
// aggregation that runs with it, and the session controller that owns the
// capture window.
package capture

import "context"

// Topic is one subscription entry: a topic filter and the QoS level
// requested for it. Immutable after config load.
type Topic struct {
	Name string
	QoS  byte
}

// Message is a raw inbound message as surfaced by the broker transport.
// It is owned by the consume loop for the duration of one decode step.
type Message struct {
	Topic     string
	Payload   []byte
	Duplicate bool
}

// Event is one item read from the broker's inbound stream. Exactly one of
// the two cases holds: a message was received, or the transport reported a
// connection interruption (Lost). The two outcomes are deliberately kept
// distinct: a loss signal triggers a reconnect, while a message that later
// fails to decode is simply dropped.
type Event struct {
	Message *Message
	Lost    bool
	Err     error
}

// Record is a single decoded payload: an arbitrary JSON value appended to
// the captured set in arrival order.
type Record = any

// BrokerStream is the part of the connection the consume loop depends on:
// the inbound event stream and the blocking reconnect operation invoked on
// a loss signal.
type BrokerStream interface {
	// Events returns the read-only stream of inbound messages and loss
	// signals. The channel is closed when the connection shuts down.
	Events() <-chan Event
	// Reconnect blocks until the connection is re-established or ctx is
	// cancelled. It retries indefinitely and only ever returns ctx.Err()
	// as an error.
	Reconnect(ctx context.Context) error
}

// BrokerConnection is the full connection-manager contract the session
// controller drives. Implementations own the underlying client handle
// exclusively; it is never shared across sessions.
type BrokerConnection interface {
	BrokerStream
	// Connect establishes the transport session. Failure is fatal for the
	// whole capture session; no retry happens at this stage.
	Connect(ctx context.Context) error
	// SubscribeMany issues one subscription request covering all topics.
	// Failure is fatal for the session.
	SubscribeMany(topics []Topic) error
	// Disconnect closes the connection best-effort. Errors are logged by
	// the implementation, not propagated; the session is ending regardless.
	Disconnect()
}

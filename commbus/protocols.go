// Package commbus provides the topic-addressed message bus that carries
// envelopes between pipeline stages.
//
// Two realizations share one contract:
//   - InMemoryBus: single-process delivery with per-subscription queues
//   - NATSBus: nats.go client with queue-group subscriptions
//
// Delivery is asynchronous in both: Publish returns once the message is
// handed to the transport, never after handlers run.
package commbus

import (
	"context"
)

// Handler processes one delivered message.
// A returned error is logged by the bus; it does not trigger redelivery.
type Handler func(ctx context.Context, msg *Message) error

// Publisher publishes messages to topics.
type Publisher interface {
	// Publish sends data to every subscriber of topic and to one member of
	// each queue group on topic.
	Publish(ctx context.Context, topic string, data []byte) error
}

// Subscriber registers handlers on topics.
type Subscriber interface {
	// Subscribe delivers every message on topic to handler.
	// Returns an unsubscribe function.
	Subscribe(topic string, handler Handler) (func(), error)

	// QueueSubscribe load-balances messages on topic across handlers
	// registered with the same queue name.
	QueueSubscribe(topic, queue string, handler Handler) (func(), error)
}

// Bus combines publishing, subscribing and lifecycle.
type Bus interface {
	Publisher
	Subscriber

	// AddMiddleware appends middleware to the publish chain.
	AddMiddleware(mw Middleware)

	// IsConnected reports whether the bus can currently deliver.
	IsConnected() bool

	// Close stops delivery, letting already accepted messages finish.
	Close() error
}

// Middleware intercepts publishes for cross-cutting concerns.
type Middleware interface {
	// Before is called before the message is handed to the transport.
	// A non-nil error aborts the publish and is returned to the caller.
	Before(ctx context.Context, msg *Message) (*Message, error)

	// After is called once the transport accepted or rejected the message.
	After(ctx context.Context, msg *Message, err error)
}

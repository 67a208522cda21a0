package commbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name identifies the connection on the server.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Token for token-based authentication (optional).
	Token string
}

// DefaultNATSConfig returns a NATSConfig with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "leadflow",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus is a Bus backed by a NATS connection.
// Queue subscriptions let several pipeline processes share one topic.
type NATSBus struct {
	conn   *nats.Conn
	logger logging.Logger

	mu         sync.RWMutex
	middleware chain
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig, logger logging.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Bind("component", "commbus", "transport", "nats")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats_disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats_reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats_async_error", "subject", subject, "error", err)
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("nats_connected", "url", conn.ConnectedUrl())
	return &NATSBus{conn: conn, logger: logger}, nil
}

// Publish sends data to topic.
func (b *NATSBus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	mw := b.middleware
	b.mu.RUnlock()

	msg, err := mw.before(ctx, NewMessage(topic, data))
	if err != nil {
		return err
	}

	err = b.publish(msg)
	mw.after(ctx, msg, err)
	return err
}

func (b *NATSBus) publish(msg *Message) error {
	if b.conn.IsClosed() {
		return NewClosedError("publish")
	}
	out := &nats.Msg{Subject: msg.Topic, Data: msg.Data}
	if len(msg.Headers) > 0 {
		out.Header = make(nats.Header)
		for k, v := range msg.Headers {
			out.Header.Set(k, v)
		}
	}
	if err := b.conn.PublishMsg(out); err != nil {
		return NewPublishError(msg.Topic, err)
	}
	return nil
}

// Subscribe delivers every message on topic to handler.
func (b *NATSBus) Subscribe(topic string, handler Handler) (func(), error) {
	sub, err := b.conn.Subscribe(topic, b.callback(handler, ""))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return b.unsubscriber(sub), nil
}

// QueueSubscribe load-balances topic across members of queue.
func (b *NATSBus) QueueSubscribe(topic, queue string, handler Handler) (func(), error) {
	sub, err := b.conn.QueueSubscribe(topic, queue, b.callback(handler, queue))
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %s (%s): %w", topic, queue, err)
	}
	return b.unsubscriber(sub), nil
}

func (b *NATSBus) callback(handler Handler, queue string) nats.MsgHandler {
	return func(m *nats.Msg) {
		if err := handler(context.Background(), natsToMessage(m)); err != nil {
			b.logger.Warn("bus_handler_failed", "topic", m.Subject, "queue", queue, "error", err)
		}
	}
}

func (b *NATSBus) unsubscriber(sub *nats.Subscription) func() {
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			b.logger.Warn("bus_unsubscribe_failed", "topic", sub.Subject, "error", err)
		}
	}
}

// AddMiddleware appends middleware to the publish chain.
func (b *NATSBus) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(chain, len(b.middleware), len(b.middleware)+1)
	copy(next, b.middleware)
	b.middleware = append(next, mw)
}

// IsConnected returns true if connected to NATS.
func (b *NATSBus) IsConnected() bool {
	return b.conn.IsConnected()
}

// Close drains subscriptions so in-flight messages complete, then closes.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

func natsToMessage(m *nats.Msg) *Message {
	msg := &Message{
		Topic:     m.Subject,
		Data:      m.Data,
		Timestamp: time.Now(),
	}
	if m.Header != nil {
		msg.Headers = make(map[string]string, len(m.Header))
		for k := range m.Header {
			msg.Headers[k] = m.Header.Get(k)
		}
	}
	return msg
}

var _ Bus = (*NATSBus)(nil)

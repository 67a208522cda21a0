package commbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
)

// DefaultPendingLimit bounds each subscription's undelivered messages.
const DefaultPendingLimit = 4096

// InMemoryBus is a single-process Bus.
//
// Each subscription owns a bounded queue drained by its own goroutine, so a
// slow handler never blocks publishers; a full queue fails the publish with
// SlowConsumerError.
//
// Usage:
//
//	bus := NewInMemoryBus(logger, 0)
//	unsub, _ := bus.QueueSubscribe("agent-output", "leadflow", handler)
//	defer unsub()
//	_ = bus.Publish(ctx, "agent-output", payload)
type InMemoryBus struct {
	logger       logging.Logger
	pendingLimit int

	mu         sync.RWMutex
	closed     bool
	nextID     uint64
	subs       map[string][]*subscription
	groups     map[string]map[string]*queueGroup
	middleware chain
	wg         sync.WaitGroup
}

type subscription struct {
	id      uint64
	topic   string
	queue   string
	handler Handler
	pending chan *Message
}

type queueGroup struct {
	members []*subscription
	next    atomic.Uint64
}

// NewInMemoryBus creates a new InMemoryBus. A pendingLimit <= 0 uses DefaultPendingLimit.
func NewInMemoryBus(logger logging.Logger, pendingLimit int) *InMemoryBus {
	if logger == nil {
		logger = logging.Nop()
	}
	if pendingLimit <= 0 {
		pendingLimit = DefaultPendingLimit
	}
	return &InMemoryBus{
		logger:       logger.Bind("component", "commbus", "transport", "memory"),
		pendingLimit: pendingLimit,
		subs:         make(map[string][]*subscription),
		groups:       make(map[string]map[string]*queueGroup),
	}
}

// =============================================================================
// MESSAGING
// =============================================================================

// Publish hands msg to every plain subscriber and one member of each queue group.
// Publishing to a topic with no subscribers succeeds and delivers nothing.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
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

	err = b.deliver(msg)
	mw.after(ctx, msg, err)
	return err
}

func (b *InMemoryBus) deliver(msg *Message) error {
	// Held for the whole fan-out so Close cannot close a queue mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return NewClosedError("publish")
	}

	targets := make([]*subscription, 0, len(b.subs[msg.Topic])+len(b.groups[msg.Topic]))
	targets = append(targets, b.subs[msg.Topic]...)
	for _, g := range b.groups[msg.Topic] {
		if len(g.members) == 0 {
			continue
		}
		i := g.next.Add(1) - 1
		targets = append(targets, g.members[i%uint64(len(g.members))])
	}

	if len(targets) == 0 {
		b.logger.Debug("bus_no_subscribers", "topic", msg.Topic)
		return nil
	}

	var firstErr error
	for _, s := range targets {
		select {
		case s.pending <- msg:
		default:
			b.logger.Warn("bus_slow_consumer", "topic", msg.Topic, "queue", s.queue)
			if firstErr == nil {
				firstErr = NewSlowConsumerError(msg.Topic)
			}
		}
	}
	return firstErr
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Subscribe delivers every message on topic to handler.
func (b *InMemoryBus) Subscribe(topic string, handler Handler) (func(), error) {
	return b.subscribe(topic, "", handler)
}

// QueueSubscribe load-balances topic across handlers sharing queue.
func (b *InMemoryBus) QueueSubscribe(topic, queue string, handler Handler) (func(), error) {
	return b.subscribe(topic, queue, handler)
}

func (b *InMemoryBus) subscribe(topic, queue string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, NewClosedError("subscribe")
	}

	b.nextID++
	s := &subscription{
		id:      b.nextID,
		topic:   topic,
		queue:   queue,
		handler: handler,
		pending: make(chan *Message, b.pendingLimit),
	}

	if queue == "" {
		b.subs[topic] = append(b.subs[topic], s)
	} else {
		if b.groups[topic] == nil {
			b.groups[topic] = make(map[string]*queueGroup)
		}
		g := b.groups[topic][queue]
		if g == nil {
			g = &queueGroup{}
			b.groups[topic][queue] = g
		}
		g.members = append(g.members, s)
	}

	b.wg.Add(1)
	go b.run(s)

	b.logger.Debug("bus_subscribed", "topic", topic, "queue", queue)

	var once sync.Once
	return func() { once.Do(func() { b.unsubscribe(s) }) }, nil
}

func (b *InMemoryBus) unsubscribe(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if s.queue == "" {
		b.subs[s.topic] = removeSub(b.subs[s.topic], s.id)
	} else if g := b.groups[s.topic][s.queue]; g != nil {
		g.members = removeSub(g.members, s.id)
		if len(g.members) == 0 {
			delete(b.groups[s.topic], s.queue)
		}
	}
	close(s.pending)
	b.logger.Debug("bus_unsubscribed", "topic", s.topic, "queue", s.queue)
}

func removeSub(subs []*subscription, id uint64) []*subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// AddMiddleware appends middleware to the publish chain.
func (b *InMemoryBus) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(chain, len(b.middleware), len(b.middleware)+1)
	copy(next, b.middleware)
	b.middleware = append(next, mw)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// IsConnected reports false once the bus is closed.
func (b *InMemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Close stops intake and waits until every queued message has been handled.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.pending)
		}
	}
	for _, groups := range b.groups {
		for _, g := range groups {
			for _, s := range g.members {
				close(s.pending)
			}
		}
	}
	b.subs = make(map[string][]*subscription)
	b.groups = make(map[string]map[string]*queueGroup)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("bus_closed")
	return nil
}

func (b *InMemoryBus) run(s *subscription) {
	defer b.wg.Done()
	for msg := range s.pending {
		if err := s.handler(context.Background(), msg); err != nil {
			b.logger.Warn("bus_handler_failed", "topic", msg.Topic, "queue", s.queue, "error", err)
		}
	}
}

// Ensure InMemoryBus implements Bus interface.
var _ Bus = (*InMemoryBus)(nil)

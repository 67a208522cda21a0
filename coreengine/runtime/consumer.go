package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/jeeves-cluster-organization/leadflow/commbus"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
)

// Consumer subscribes to the stage output topic and submits every envelope
// to the stage that follows the one that produced it.
type Consumer struct {
	sub        commbus.Subscriber
	dispatcher *Dispatcher
	topic      string
	queue      string
	logger     logging.Logger

	mu    sync.Mutex
	unsub func()
}

// NewConsumer creates a Consumer. With a non-empty queue the subscription
// joins that queue group so several instances share the work.
func NewConsumer(sub commbus.Subscriber, dispatcher *Dispatcher, topic, queue string, logger logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Consumer{
		sub:        sub,
		dispatcher: dispatcher,
		topic:      topic,
		queue:      queue,
		logger:     logger.Bind("component", "consumer", "topic", topic),
	}
}

// Start subscribes. Calling Start twice is a no-op.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsub != nil {
		return nil
	}

	var (
		unsub func()
		err   error
	)
	if c.queue != "" {
		unsub, err = c.sub.QueueSubscribe(c.topic, c.queue, c.Handle)
	} else {
		unsub, err = c.sub.Subscribe(c.topic, c.Handle)
	}
	if err != nil {
		return err
	}
	c.unsub = unsub
	c.logger.Info("consumer_started", "queue", c.queue)
	return nil
}

// Stop unsubscribes.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
}

// Handle decodes, routes and submits one bus message. Undecodable or
// unroutable messages are logged and dropped; they never return an error to
// the bus.
func (c *Consumer) Handle(ctx context.Context, msg *commbus.Message) error {
	env, err := envelope.Decode(msg.Data)
	if err != nil {
		c.logger.Warn("consumer_message_dropped", "reason", "decode", "error", err)
		return nil
	}
	next, err := NextStage(env)
	if err != nil {
		c.logger.Warn("consumer_message_dropped",
			"reason", "route",
			"envelope_id", env.EnvelopeID,
			"stage_origin", env.StageOrigin,
			"error", err,
		)
		return nil
	}
	if next == envelope.StageNone {
		c.logger.Debug("consumer_terminal_envelope", "envelope_id", env.EnvelopeID, "stage_origin", env.StageOrigin)
		return nil
	}

	if err := c.dispatcher.Submit(ctx, Job{Stage: next, Envelope: env}); err != nil {
		level := c.logger.Warn
		if errors.Is(err, ErrDispatcherClosed) {
			level = c.logger.Info
		}
		level("consumer_submit_failed", "envelope_id", env.EnvelopeID, "stage", next, "error", err)
		return nil
	}
	c.logger.Debug("consumer_routed", "envelope_id", env.EnvelopeID, "from", env.StageOrigin, "to", next)
	return nil
}

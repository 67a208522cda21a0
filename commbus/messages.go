package commbus

import (
	"context"
	"time"
)

// Message is a unit of data carried on a topic.
type Message struct {
	// Topic is the subject the message was published to.
	Topic string

	// Data is the raw payload.
	Data []byte

	// Headers carries optional metadata.
	Headers map[string]string

	// Timestamp is when the bus accepted the message.
	Timestamp time.Time
}

// NewMessage builds a message, copying data so the caller may reuse its buffer.
func NewMessage(topic string, data []byte) *Message {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Message{Topic: topic, Data: buf, Timestamp: time.Now()}
}

// chain runs middleware in registration order before and reverse order after.
type chain []Middleware

func (c chain) before(ctx context.Context, msg *Message) (*Message, error) {
	current := msg
	for _, mw := range c {
		next, err := mw.Before(ctx, current)
		if err != nil {
			return nil, err
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

func (c chain) after(ctx context.Context, msg *Message, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		c[i].After(ctx, msg, err)
	}
}

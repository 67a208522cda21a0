package commbus

import (
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// ClosedError is returned when publishing or subscribing on a closed bus.
type ClosedError struct {
	Op string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("bus closed: cannot %s", e.Op)
}

// NewClosedError creates a new ClosedError.
func NewClosedError(op string) *ClosedError {
	return &ClosedError{Op: op}
}

// SlowConsumerError is returned when a subscriber's pending queue is full.
type SlowConsumerError struct {
	Topic string
}

func (e *SlowConsumerError) Error() string {
	return fmt.Sprintf("slow consumer on %s: pending queue full", e.Topic)
}

// NewSlowConsumerError creates a new SlowConsumerError.
func NewSlowConsumerError(topic string) *SlowConsumerError {
	return &SlowConsumerError{Topic: topic}
}

// PublishError wraps a transport failure.
type PublishError struct {
	Topic string
	Cause error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Cause)
}

func (e *PublishError) Unwrap() error {
	return e.Cause
}

// NewPublishError creates a new PublishError.
func NewPublishError(topic string, cause error) *PublishError {
	return &PublishError{Topic: topic, Cause: cause}
}

// CircuitOpenError is returned while the circuit breaker blocks a topic.
type CircuitOpenError struct {
	Topic string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s", e.Topic)
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(topic string) *CircuitOpenError {
	return &CircuitOpenError{Topic: topic}
}

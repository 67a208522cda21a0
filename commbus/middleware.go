package commbus

import (
	"context"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs publish traffic at debug level and failures at warn.
type LoggingMiddleware struct {
	logger logging.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger logging.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Before logs the outgoing message.
func (m *LoggingMiddleware) Before(ctx context.Context, msg *Message) (*Message, error) {
	m.logger.Debug("bus_publish", "topic", msg.Topic, "bytes", len(msg.Data))
	return msg, nil
}

// After logs failed publishes.
func (m *LoggingMiddleware) After(ctx context.Context, msg *Message, err error) {
	if err != nil {
		m.logger.Warn("bus_publish_failed", "topic", msg.Topic, "error", err)
	}
}

// =============================================================================
// METRICS MIDDLEWARE
// =============================================================================

// MetricsMiddleware counts publishes by topic and status.
type MetricsMiddleware struct{}

// NewMetricsMiddleware creates a new MetricsMiddleware.
func NewMetricsMiddleware() *MetricsMiddleware {
	return &MetricsMiddleware{}
}

// Before passes the message through.
func (m *MetricsMiddleware) Before(ctx context.Context, msg *Message) (*Message, error) {
	return msg, nil
}

// After records the publish.
func (m *MetricsMiddleware) After(ctx context.Context, msg *Message, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordBusPublish(msg.Topic, status)
}

// =============================================================================
// CIRCUIT BREAKER MIDDLEWARE
// =============================================================================

// Circuit states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// CircuitBreakerState represents the state for one topic.
type CircuitBreakerState struct {
	Failures    int
	LastFailure time.Time
	State       string
}

// CircuitBreakerMiddleware stops publishing to a topic after repeated
// transport failures, then probes with a single publish once resetTimeout
// has elapsed.
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	excludedTopics   map[string]struct{}
	states           map[string]*CircuitBreakerState
	logger           logging.Logger
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a new CircuitBreakerMiddleware.
// A failureThreshold of 0 never opens the circuit.
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, excludedTopics []string, logger logging.Logger) *CircuitBreakerMiddleware {
	excluded := make(map[string]struct{})
	for _, t := range excludedTopics {
		excluded[t] = struct{}{}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		excludedTopics:   excluded,
		states:           make(map[string]*CircuitBreakerState),
		logger:           logger,
	}
}

func (m *CircuitBreakerMiddleware) getState(topic string) *CircuitBreakerState {
	if _, exists := m.states[topic]; !exists {
		m.states[topic] = &CircuitBreakerState{State: CircuitClosed}
	}
	return m.states[topic]
}

// Before rejects publishes while the circuit is open.
func (m *CircuitBreakerMiddleware) Before(ctx context.Context, msg *Message) (*Message, error) {
	if _, excluded := m.excludedTopics[msg.Topic]; excluded {
		return msg, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msg.Topic)
	if state.State == CircuitOpen {
		if time.Since(state.LastFailure) < m.resetTimeout {
			return nil, NewCircuitOpenError(msg.Topic)
		}
		state.State = CircuitHalfOpen
		m.logger.Info("circuit_half_open", "topic", msg.Topic)
	}
	return msg, nil
}

// After updates circuit state from the publish result.
func (m *CircuitBreakerMiddleware) After(ctx context.Context, msg *Message, err error) {
	if _, excluded := m.excludedTopics[msg.Topic]; excluded {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msg.Topic)
	if err != nil {
		state.Failures++
		state.LastFailure = time.Now()

		if state.State == CircuitHalfOpen {
			state.State = CircuitOpen
			m.logger.Warn("circuit_reopened", "topic", msg.Topic)
		} else if m.failureThreshold > 0 && state.Failures >= m.failureThreshold {
			state.State = CircuitOpen
			m.logger.Warn("circuit_opened", "topic", msg.Topic, "failures", state.Failures)
		}
		return
	}

	if state.State == CircuitHalfOpen {
		state.State = CircuitClosed
		state.Failures = 0
		m.logger.Info("circuit_closed", "topic", msg.Topic)
	}
}

// GetStates returns current circuit states keyed by topic.
func (m *CircuitBreakerMiddleware) GetStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string)
	for k, v := range m.states {
		result[k] = v.State
	}
	return result
}

// Reset clears state for topic, or for every topic when topic is nil.
func (m *CircuitBreakerMiddleware) Reset(topic *string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if topic != nil {
		delete(m.states, *topic)
	} else {
		m.states = make(map[string]*CircuitBreakerState)
	}
}

// Ensure all middleware types implement Middleware interface.
var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*MetricsMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)

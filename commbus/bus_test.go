package commbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestBus() *InMemoryBus {
	return NewInMemoryBus(logging.Nop(), 0)
}

// collector records delivered payloads.
type collector struct {
	mu   sync.Mutex
	got  []string
	done chan struct{}
	want int
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) handle(ctx context.Context, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, string(msg.Data))
	if len(c.got) == c.want {
		close(c.done)
	}
	return nil
}

func (c *collector) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %d messages", c.want)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.got))
	copy(out, c.got)
	return out
}

type recordingMiddleware struct {
	before atomic.Int32
	after  atomic.Int32
	err    error
}

func (m *recordingMiddleware) Before(ctx context.Context, msg *Message) (*Message, error) {
	m.before.Add(1)
	return msg, m.err
}

func (m *recordingMiddleware) After(ctx context.Context, msg *Message, err error) {
	m.after.Add(1)
}

// =============================================================================
// PUBLISH / SUBSCRIBE TESTS
// =============================================================================

func TestPublishFanOut(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	a, b := newCollector(1), newCollector(1)
	_, err := bus.Subscribe("agent-output", a.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe("agent-output", b.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "agent-output", []byte("hello")))

	assert.Equal(t, []string{"hello"}, a.wait(t))
	assert.Equal(t, []string{"hello"}, b.wait(t))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	assert.NoError(t, bus.Publish(context.Background(), "nobody", []byte("x")))
}

func TestPublishCopiesData(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	c := newCollector(1)
	_, err := bus.Subscribe("t", c.handle)
	require.NoError(t, err)

	buf := []byte("original")
	require.NoError(t, bus.Publish(context.Background(), "t", buf))
	copy(buf, "mutated!")

	assert.Equal(t, []string{"original"}, c.wait(t))
}

func TestQueueSubscribeDeliversOnce(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	const total = 20
	var count atomic.Int32
	done := make(chan struct{})
	handler := func(ctx context.Context, msg *Message) error {
		if count.Add(1) == total {
			close(done)
		}
		return nil
	}

	for i := 0; i < 3; i++ {
		_, err := bus.QueueSubscribe("agent-output", "leadflow", handler)
		require.NoError(t, err)
	}

	for i := 0; i < total; i++ {
		require.NoError(t, bus.Publish(context.Background(), "agent-output", []byte("m")))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue group did not receive all messages")
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(total), count.Load())
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var count atomic.Int32
	unsub, err := bus.Subscribe("t", func(ctx context.Context, msg *Message) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	unsub()
	unsub()

	require.NoError(t, bus.Publish(context.Background(), "t", []byte("x")))
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(0), count.Load())
}

func TestSlowConsumer(t *testing.T) {
	bus := NewInMemoryBus(logging.Nop(), 1)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	_, err := bus.Subscribe("t", func(ctx context.Context, msg *Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "t", []byte("1")))
	<-started
	require.NoError(t, bus.Publish(context.Background(), "t", []byte("2")))

	err = bus.Publish(context.Background(), "t", []byte("3"))
	var slow *SlowConsumerError
	assert.ErrorAs(t, err, &slow)

	close(release)
	require.NoError(t, bus.Close())
}

func TestHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := newTestBus()

	var count atomic.Int32
	_, err := bus.Subscribe("t", func(ctx context.Context, msg *Message) error {
		count.Add(1)
		return errors.New("boom")
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), "t", []byte("x")))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(3), count.Load())
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestCloseDrainsPending(t *testing.T) {
	bus := newTestBus()

	var count atomic.Int32
	_, err := bus.Subscribe("t", func(ctx context.Context, msg *Message) error {
		time.Sleep(time.Millisecond)
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(context.Background(), "t", []byte("x")))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(10), count.Load())
	assert.False(t, bus.IsConnected())
}

func TestClosedBusRejects(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	var closed *ClosedError
	assert.ErrorAs(t, bus.Publish(context.Background(), "t", nil), &closed)

	_, err := bus.Subscribe("t", func(ctx context.Context, msg *Message) error { return nil })
	assert.ErrorAs(t, err, &closed)
}

func TestPublishCancelledContext(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bus.Publish(ctx, "t", nil), context.Canceled)
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestMiddlewareChain(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	mw := &recordingMiddleware{}
	bus.AddMiddleware(mw)
	bus.AddMiddleware(NewLoggingMiddleware(logging.Nop()))
	bus.AddMiddleware(NewMetricsMiddleware())

	require.NoError(t, bus.Publish(context.Background(), "t", []byte("x")))
	assert.Equal(t, int32(1), mw.before.Load())
	assert.Equal(t, int32(1), mw.after.Load())
}

func TestMiddlewareAbort(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var count atomic.Int32
	_, err := bus.Subscribe("t", func(ctx context.Context, msg *Message) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	mw := &recordingMiddleware{err: errors.New("rejected")}
	bus.AddMiddleware(mw)

	assert.EqualError(t, bus.Publish(context.Background(), "t", []byte("x")), "rejected")
	assert.Equal(t, int32(0), mw.after.Load())
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreakerMiddleware(2, 50*time.Millisecond, []string{"excluded"}, logging.Nop())
	ctx := context.Background()
	msg := NewMessage("agent-output", nil)
	failure := errors.New("transport down")

	for i := 0; i < 2; i++ {
		_, err := cb.Before(ctx, msg)
		require.NoError(t, err)
		cb.After(ctx, msg, failure)
	}
	assert.Equal(t, CircuitOpen, cb.GetStates()["agent-output"])

	_, err := cb.Before(ctx, msg)
	var open *CircuitOpenError
	assert.ErrorAs(t, err, &open)

	time.Sleep(60 * time.Millisecond)
	_, err = cb.Before(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, cb.GetStates()["agent-output"])

	cb.After(ctx, msg, nil)
	assert.Equal(t, CircuitClosed, cb.GetStates()["agent-output"])

	excluded := NewMessage("excluded", nil)
	for i := 0; i < 5; i++ {
		cb.After(ctx, excluded, failure)
	}
	_, err = cb.Before(ctx, excluded)
	assert.NoError(t, err)

	cb.Reset(nil)
	assert.Empty(t, cb.GetStates())
}

func TestNATSConnectFailure(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond

	bus, err := NewNATSBus(cfg, logging.Nop())
	require.Error(t, err)
	assert.Nil(t, bus)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

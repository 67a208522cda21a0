package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/stages"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/testutil"
)

func routerWith(p *stubProcessor) *Router {
	return NewRouter(map[envelope.Stage]stages.Processor{p.stage: p})
}

func collect(t *testing.T, ch <-chan Outcome, n int) []Outcome {
	t.Helper()
	out := make([]Outcome, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case o := <-ch:
			out = append(out, o)
		case <-timeout:
			t.Fatalf("got %d outcomes, want %d", len(out), n)
		}
	}
	return out
}

func TestDispatcher_OneOutcomePerJob(t *testing.T) {
	var processed atomic.Int32
	proc := &stubProcessor{stage: envelope.StageIngestion, fn: func(ctx context.Context, env envelope.Envelope) error {
		processed.Add(1)
		return nil
	}}
	outcomes := make(chan Outcome, 64)
	d := NewDispatcher(routerWith(proc), DispatcherConfig{Concurrency: 4, Outcomes: outcomes}, nil)

	envs := make([]envelope.Envelope, 50)
	for i := range envs {
		envs[i] = envelope.New(testutil.JaneDoe(), "", envelope.StageNone)
	}
	n, err := d.SubmitBatch(context.Background(), envelope.StageIngestion, envs)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	got := collect(t, outcomes, 50)
	d.Close()

	assert.Equal(t, int32(50), processed.Load())
	for _, o := range got {
		assert.Equal(t, stages.OutcomeEmitted, o.Result)
		assert.Equal(t, envelope.StageIngestion, o.Job.Stage)
	}
}

func TestDispatcher_RespectsConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	proc := &stubProcessor{stage: envelope.StageScoring, fn: func(ctx context.Context, env envelope.Envelope) error {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}}
	outcomes := make(chan Outcome, 32)
	d := NewDispatcher(routerWith(proc), DispatcherConfig{Concurrency: 3, Outcomes: outcomes}, nil)

	for i := 0; i < 12; i++ {
		require.NoError(t, d.Submit(context.Background(), Job{
			Stage:    envelope.StageScoring,
			Envelope: envelope.New(testutil.JaneDoe(), "r", envelope.StageIngestion),
		}))
	}
	collect(t, outcomes, 12)
	d.Close()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestDispatcher_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(ctx context.Context, env envelope.Envelope) error
		result string
		reason string
	}{
		{"validation drop", func(context.Context, envelope.Envelope) error {
			return stages.ErrValidationFailed
		}, stages.OutcomeDropped, "validation"},
		{"internal error", func(context.Context, envelope.Envelope) error {
			return errors.New("boom")
		}, stages.OutcomeFailed, "internal"},
		{"panic", func(context.Context, envelope.Envelope) error {
			panic("stage exploded")
		}, stages.OutcomeFailed, "panic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &stubProcessor{stage: envelope.StageSend, fn: tt.fn}
			outcomes := make(chan Outcome, 1)
			d := NewDispatcher(routerWith(proc), DispatcherConfig{Concurrency: 1, Outcomes: outcomes}, nil)

			require.NoError(t, d.Submit(context.Background(), Job{
				Stage:    envelope.StageSend,
				Envelope: envelope.New(testutil.JaneDoe(), "{}", envelope.StageNurture),
			}))
			got := collect(t, outcomes, 1)[0]
			d.Close()

			assert.Equal(t, tt.result, got.Result)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Error(t, got.Err)
		})
	}
}

func TestDispatcher_PanicDoesNotStopPool(t *testing.T) {
	var calls atomic.Int32
	proc := &stubProcessor{stage: envelope.StageSend, fn: func(context.Context, envelope.Envelope) error {
		if calls.Add(1) == 1 {
			panic("first job")
		}
		return nil
	}}
	outcomes := make(chan Outcome, 2)
	d := NewDispatcher(routerWith(proc), DispatcherConfig{Concurrency: 1, Outcomes: outcomes}, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, d.Submit(context.Background(), Job{Stage: envelope.StageSend, Envelope: envelope.New(testutil.JaneDoe(), "{}", envelope.StageNurture)}))
	}
	got := collect(t, outcomes, 2)
	d.Close()

	results := []string{got[0].Result, got[1].Result}
	assert.ElementsMatch(t, []string{stages.OutcomeFailed, stages.OutcomeEmitted}, results)
}

func TestDispatcher_SubmitUnknownStage(t *testing.T) {
	d := NewDispatcher(routerWith(&stubProcessor{stage: envelope.StageSend}), DispatcherConfig{}, nil)
	defer d.Close()

	err := d.Submit(context.Background(), Job{Stage: envelope.StageScoring})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := NewDispatcher(routerWith(&stubProcessor{stage: envelope.StageSend}), DispatcherConfig{}, nil)
	d.Close()
	d.Close()

	err := d.Submit(context.Background(), Job{Stage: envelope.StageSend, Envelope: envelope.New(testutil.JaneDoe(), "{}", envelope.StageNurture)})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	var processed atomic.Int32
	proc := &stubProcessor{stage: envelope.StageIngestion, fn: func(context.Context, envelope.Envelope) error {
		time.Sleep(5 * time.Millisecond)
		processed.Add(1)
		return nil
	}}
	d := NewDispatcher(routerWith(proc), DispatcherConfig{Concurrency: 2, QueueSize: 20}, nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Submit(context.Background(), Job{Stage: envelope.StageIngestion, Envelope: envelope.New(testutil.JaneDoe(), "", envelope.StageNone)}))
	}
	d.Close()

	assert.Equal(t, int32(10), processed.Load())
	assert.Equal(t, 0, d.Inflight())
	assert.Equal(t, 0, d.QueueDepth())
}

func TestDispatcher_Backpressure(t *testing.T) {
	release := make(chan struct{})
	proc := &stubProcessor{stage: envelope.StageIngestion, fn: func(context.Context, envelope.Envelope) error {
		<-release
		return nil
	}}
	d := NewDispatcher(routerWith(proc), DispatcherConfig{Concurrency: 1, QueueSize: 1}, nil)
	job := Job{Stage: envelope.StageIngestion, Envelope: envelope.New(testutil.JaneDoe(), "", envelope.StageNone)}

	// One job running, one held by the scheduler, one in the queue.
	require.NoError(t, d.Submit(context.Background(), job))
	require.NoError(t, d.Submit(context.Background(), job))
	require.NoError(t, d.Submit(context.Background(), job))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	d.Close()
}

func TestDispatcher_ShutdownCancelsRunningJobs(t *testing.T) {
	started := make(chan struct{})
	proc := &stubProcessor{stage: envelope.StageIngestion, fn: func(ctx context.Context, env envelope.Envelope) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	d := NewDispatcher(routerWith(proc), DispatcherConfig{Concurrency: 1}, nil)
	require.NoError(t, d.Submit(context.Background(), Job{Stage: envelope.StageIngestion, Envelope: envelope.New(testutil.JaneDoe(), "", envelope.StageNone)}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/stages"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

const (
	// DefaultConcurrency bounds jobs running at once.
	DefaultConcurrency = 16
	// DefaultQueueSize bounds jobs waiting to run.
	DefaultQueueSize = 1024
)

// Job is one envelope addressed to one stage.
type Job struct {
	Stage    envelope.Stage
	Envelope envelope.Envelope
}

// Outcome reports how a job ended.
type Outcome struct {
	Job      Job
	Result   string // emitted, dropped, failed
	Reason   string
	Err      error
	Duration time.Duration
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Concurrency int
	QueueSize   int

	// Outcomes receives one Outcome per job. The receiver must keep draining
	// it; a full channel stalls the workers.
	Outcomes chan<- Outcome
}

// Dispatcher runs jobs on a bounded pool.
//
// Submit enqueues into a bounded queue and only blocks when the queue is
// full. A scheduler goroutine feeds jobs into an errgroup limited to
// Concurrency workers.
type Dispatcher struct {
	router   *Router
	cfg      DispatcherConfig
	queue    chan Job
	group    errgroup.Group
	logger   logging.Logger
	inflight atomic.Int64

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.RWMutex
	stopping  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewDispatcher creates and starts a Dispatcher.
func NewDispatcher(router *Router, cfg DispatcherConfig, logger logging.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		router:   router,
		cfg:      cfg,
		queue:    make(chan Job, cfg.QueueSize),
		logger:   logger.Bind("component", "dispatcher"),
		baseCtx:  ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	d.group.SetLimit(cfg.Concurrency)
	go d.schedule()
	return d
}

// Submit enqueues a job. It returns once the job is queued, not when it ran.
// ctx only bounds the wait for queue space.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	if _, ok := d.router.Handler(job.Stage); !ok {
		return fmt.Errorf("no handler registered for stage %q", job.Stage)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	select {
	case <-d.stopping:
		return ErrDispatcherClosed
	default:
	}

	select {
	case d.queue <- job:
		observability.SetDispatcherQueueDepth(len(d.queue))
		return nil
	case <-d.stopping:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitBatch enqueues every envelope for stage. It stops at the first error
// and reports how many were queued.
func (d *Dispatcher) SubmitBatch(ctx context.Context, stage envelope.Stage, envs []envelope.Envelope) (int, error) {
	for i, env := range envs {
		if err := d.Submit(ctx, Job{Stage: stage, Envelope: env}); err != nil {
			return i, err
		}
	}
	return len(envs), nil
}

// Inflight returns the number of jobs currently running.
func (d *Dispatcher) Inflight() int {
	return int(d.inflight.Load())
}

// QueueDepth returns the number of jobs waiting to run.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Close stops intake and waits for queued and running jobs to finish.
func (d *Dispatcher) Close() {
	d.stop()
	<-d.done
	d.cancel()
}

// Shutdown is Close bounded by ctx. When ctx ends first, running jobs are
// cancelled and ctx.Err() is returned once they have returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stop()
	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) stop() {
	d.closeOnce.Do(func() {
		close(d.stopping)
		d.mu.Lock()
		close(d.queue)
		d.mu.Unlock()
	})
}

func (d *Dispatcher) schedule() {
	defer close(d.done)
	for job := range d.queue {
		d.group.Go(func() error {
			d.run(job)
			return nil
		})
		observability.SetDispatcherQueueDepth(len(d.queue))
	}
	_ = d.group.Wait()
}

func (d *Dispatcher) run(job Job) {
	observability.SetDispatcherInflight(int(d.inflight.Add(1)))
	defer func() {
		observability.SetDispatcherInflight(int(d.inflight.Add(-1)))
	}()

	start := time.Now()
	out := Outcome{Job: job}
	out.Err = d.process(job)
	out.Duration = time.Since(start)
	out.Result, out.Reason = stages.Classify(out.Err)
	if out.Reason == "internal" && errors.Is(out.Err, errPanic) {
		out.Reason = "panic"
	}
	observability.RecordDispatcherOutcome(out.Result)

	if out.Result == stages.OutcomeFailed {
		d.logger.Error("dispatcher_job_failed",
			"stage", job.Stage,
			"envelope_id", job.Envelope.EnvelopeID,
			"reason", out.Reason,
			"error", out.Err,
		)
	}

	if d.cfg.Outcomes != nil {
		select {
		case d.cfg.Outcomes <- out:
		case <-d.baseCtx.Done():
		}
	}
}

var errPanic = errors.New("panic in stage")

func (d *Dispatcher) process(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	p, ok := d.router.Handler(job.Stage)
	if !ok {
		return fmt.Errorf("no handler registered for stage %q", job.Stage)
	}
	return p.Process(d.baseCtx, job.Envelope)
}

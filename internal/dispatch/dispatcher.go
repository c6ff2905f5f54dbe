// Package dispatch runs scene jobs on a fixed-size worker pool, at most one
// job per scene at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/pps-runner/internal/observability"
)

// Job is one unit of work. Errors are logged by the worker that ran it.
type Job func(ctx context.Context) error

type task struct {
	id  string
	job Job
}

// Dispatcher accepts jobs keyed by id and drops a submission whose id is
// already queued or running.
type Dispatcher struct {
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight map[string]struct{}
	queue    []task
	closed   bool

	tasks chan task
	wg    sync.WaitGroup
	ctx   context.Context
}

// New creates a Dispatcher with the given number of workers. With a single
// worker, jobs run synchronously on the submitting goroutine.
func New(workers int, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		workers:  workers,
		logger:   logger,
		metrics:  metrics,
		inFlight: make(map[string]struct{}),
		tasks:    make(chan task),
		ctx:      context.Background(),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the worker pool. Jobs receive ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx = ctx
	if d.synchronous() {
		return
	}
	for range d.workers {
		d.wg.Add(1)
		go d.work()
	}
	d.wg.Add(1)
	go d.feed()
}

func (d *Dispatcher) synchronous() bool {
	return d.workers == 1
}

// Submit registers job under id. It returns false without running anything
// when a job with the same id is already in flight or the dispatcher is
// closed.
func (d *Dispatcher) Submit(id string, job Job) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, job not accepted", "scene_id", id)
		return false
	}
	if _, busy := d.inFlight[id]; busy {
		d.mu.Unlock()
		d.logger.Info("scene already being processed, dropping duplicate", "scene_id", id)
		d.metrics.JobsDropped.Inc()
		return false
	}
	d.inFlight[id] = struct{}{}
	d.metrics.JobsInFlight.Set(float64(len(d.inFlight)))

	if d.synchronous() {
		d.mu.Unlock()
		d.run(task{id: id, job: job})
		return true
	}

	d.queue = append(d.queue, task{id: id, job: job})
	d.cond.Signal()
	d.mu.Unlock()
	return true
}

// InFlight returns the ids of queued and running jobs, sorted.
func (d *Dispatcher) InFlight() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.inFlight))
	for id := range d.inFlight {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close stops accepting jobs, lets queued jobs finish and waits for the
// workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}

// feed moves queued tasks onto the worker channel so Submit never waits for
// a free worker.
func (d *Dispatcher) feed() {
	defer d.wg.Done()
	defer close(d.tasks)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		t := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.tasks <- t
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.run(t)
	}
}

// run executes one task. The id is released whatever the job does.
func (d *Dispatcher) run(t task) {
	start := time.Now()
	outcome := "success"

	defer func() {
		d.mu.Lock()
		delete(d.inFlight, t.id)
		d.metrics.JobsInFlight.Set(float64(len(d.inFlight)))
		d.mu.Unlock()

		d.metrics.JobsCompleted.WithLabelValues(outcome).Inc()
		d.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	if err := d.safeRun(t); err != nil {
		outcome = "error"
		var pe panicError
		if errors.As(err, &pe) {
			outcome = "panic"
		}
		d.logger.Error("scene job failed", "scene_id", t.id, "error", err, "duration", time.Since(start))
		return
	}
	d.logger.Info("scene job finished", "scene_id", t.id, "duration", time.Since(start))
}

type panicError struct {
	value any
	stack []byte
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", p.value, p.stack)
}

func (d *Dispatcher) safeRun(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r, stack: debug.Stack()}
		}
	}()
	return t.job(d.ctx)
}

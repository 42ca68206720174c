// Package jobs runs sync work in the background. Each job has a key (one
// per scope and item type) and at most one job per key is queued or
// running at a time; callers get a Handle they can cancel.
package jobs

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/snapetech/iptvstrm/internal/metrics"
)

var (
	ErrAlreadyRunning = errors.New("job already queued or running")
	ErrQueueFull      = errors.New("job queue full")
	ErrStopped        = errors.New("dispatcher stopped")
	ErrUnknownJob     = errors.New("unknown job")
)

// Func is the body of a job. ctx is cancelled by Cancel or Stop.
type Func func(ctx context.Context) error

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Handle tracks one submitted job.
type Handle struct {
	ID  string
	Key string

	fn     Func
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	started bool
	err     error
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Started reports whether the job body was ever invoked.
func (h *Handle) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// Err is the job's result once Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel requests termination. A queued job will not start.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the job finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher is a fixed pool of workers reading from a bounded queue.
type Dispatcher struct {
	Workers int
	Metrics *metrics.Metrics
	// OnFinish, when set, is called once per job after its final state is
	// recorded, including jobs cancelled before they started.
	OnFinish func(h *Handle)

	queue  chan *Handle
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	byID    map[string]*Handle
	byKey   map[string]*Handle
	started bool
	stopped bool
	workers sync.WaitGroup
	pending sync.WaitGroup
}

// New returns a dispatcher with workers goroutines (min 1) and room for
// queueSize waiting jobs (min 16). Jobs may be submitted before Start.
func New(workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 16 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		Workers: workers,
		queue:   make(chan *Handle, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		byID:    make(map[string]*Handle),
		byKey:   make(map[string]*Handle),
	}
}

// Start launches the workers. Calling it again is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.Workers; i++ {
		d.workers.Add(1)
		go d.work()
	}
	log.Printf("[jobs] started %d workers", d.Workers)
}

// Stop cancels every queued and running job and waits for the workers to
// exit. Queued jobs finish as cancelled without running.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.workers.Wait()
	for {
		select {
		case h := <-d.queue:
			d.finish(h, StateCancelled, h.ctx.Err())
		default:
			log.Printf("[jobs] stopped")
			return
		}
	}
}

// Submit queues fn under key. It fails with ErrAlreadyRunning while another
// job with the same key is queued or running.
func (d *Dispatcher) Submit(key string, fn Func) (*Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, ErrStopped
	}
	if prev, ok := d.byKey[key]; ok {
		return prev, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(d.ctx)
	h := &Handle{
		ID:     uuid.NewString(),
		Key:    key,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateQueued,
	}
	select {
	case d.queue <- h:
	default:
		cancel()
		return nil, ErrQueueFull
	}
	d.byID[h.ID] = h
	d.byKey[key] = h
	d.pending.Add(1)
	if d.Metrics != nil {
		d.Metrics.JobsInFlight.Inc()
	}
	return h, nil
}

// Lookup returns the live handle with id.
func (d *Dispatcher) Lookup(id string) (*Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.byID[id]
	return h, ok
}

// Cancel requests termination of a queued or running job.
func (d *Dispatcher) Cancel(id string) error {
	h, ok := d.Lookup(id)
	if !ok {
		return ErrUnknownJob
	}
	h.Cancel()
	return nil
}

// Wait blocks until every submitted job has finished.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

func (d *Dispatcher) work() {
	defer d.workers.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case h := <-d.queue:
			d.run(h)
		}
	}
}

func (d *Dispatcher) run(h *Handle) {
	if err := h.ctx.Err(); err != nil {
		d.finish(h, StateCancelled, err)
		return
	}
	h.mu.Lock()
	h.state, h.started = StateRunning, true
	h.mu.Unlock()

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = h.fn(h.ctx) })
	if r := pc.Recovered(); r != nil {
		log.Printf("[jobs] %s (%s) panicked: %v", h.Key, h.ID, r.Value)
		err = r.AsError()
	}
	state := StateDone
	switch {
	case err == nil:
	case h.ctx.Err() != nil && errors.Is(err, context.Canceled):
		state = StateCancelled
	default:
		state = StateFailed
	}
	d.finish(h, state, err)
}

func (d *Dispatcher) finish(h *Handle, state State, err error) {
	h.mu.Lock()
	h.state, h.err = state, err
	h.mu.Unlock()
	h.cancel()

	d.mu.Lock()
	delete(d.byID, h.ID)
	if d.byKey[h.Key] == h {
		delete(d.byKey, h.Key)
	}
	d.mu.Unlock()

	if d.Metrics != nil {
		d.Metrics.JobsInFlight.Dec()
	}
	if d.OnFinish != nil {
		d.OnFinish(h)
	}
	close(h.done)
	d.pending.Done()
}

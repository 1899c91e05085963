package plugins

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/openmedrec/fhirgate/pkg/tenancy"
)

// DefaultPoolSize is the async worker count when none is configured.
const DefaultPoolSize = 4

// task is one queued async hook invocation. The tenant id and request id
// are captured at dispatch time, not read from ambient state at run time.
type task struct {
	run       func(ctx context.Context)
	tenantID  string
	requestID string
	plugin    string
}

// AsyncPool executes async plugin hooks on a bounded set of workers fed by
// an unbounded queue. Dispatch never blocks the request task.
type AsyncPool struct {
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []task
	closed  bool
	wg      sync.WaitGroup
	workers int
}

// NewAsyncPool creates and starts a pool with the given worker count.
func NewAsyncPool(workers int, logger *slog.Logger) *AsyncPool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &AsyncPool{logger: logger, workers: workers}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	return p
}

// Dispatch queues an async hook invocation. The worker rebuilds the ambient
// request state (tenant id, request id) from the captured values before
// invoking the hook; cancellation of the originating request never reaches
// the hook. Dispatch after Shutdown drops the task with a warning.
func (p *AsyncPool) Dispatch(tenantID, requestID, pluginName string, run func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.logger.Warn("async pool closed, dropping task",
			"plugin", pluginName, "requestID", requestID)
		return
	}

	p.queue = append(p.queue, task{
		run:       run,
		tenantID:  tenantID,
		requestID: requestID,
		plugin:    pluginName,
	})
	p.cond.Signal()
}

func (p *AsyncPool) workerLoop(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.runTask(id, t)
	}
}

// runTask installs the captured ambient values on a detached context,
// invokes the hook, and guarantees cleanup on every exit path including
// panics. Ambient state is scoped to the task's context, so nothing leaks
// into the worker's next task.
func (p *AsyncPool) runTask(workerID int, t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("async plugin panicked",
				"worker", workerID, "plugin", t.plugin,
				"requestID", t.requestID, "panic", r)
		}
	}()

	ctx := context.Background()
	ctx = tenancy.WithTenant(ctx, t.tenantID)
	ctx = context.WithValue(ctx, middleware.RequestIDKey, t.requestID)

	t.run(ctx)
}

// Pending returns the queued task count.
func (p *AsyncPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Shutdown stops accepting tasks and drains the queue, waiting up to the
// grace period. Tasks still queued when the grace period expires are
// abandoned with a warning.
func (p *AsyncPool) Shutdown(grace time.Duration) {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		p.mu.Lock()
		remaining := len(p.queue)
		p.queue = nil
		p.cond.Broadcast()
		p.mu.Unlock()
		p.logger.Warn("async pool drain timed out, abandoning tasks",
			"abandoned", remaining)
	}
}

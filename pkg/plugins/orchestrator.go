package plugins

import (
	"context"
	"log/slog"
	"time"
)

// Orchestrator matches plugins to operations and executes the three phases
// around each core operation. It is a leaf component: the core operation
// reaches it as an opaque callable, and plugins see only the Context record.
type Orchestrator struct {
	registry *Registry
	pool     *AsyncPool
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator over a registry and async pool.
func NewOrchestrator(registry *Registry, pool *AsyncPool, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{registry: registry, pool: pool, logger: logger}
}

// Registry returns the underlying plugin registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// RunBefore executes the BEFORE phase: matching sync plugins in ascending
// priority order. Each plugin observes the modifications of every earlier
// plugin through pc.InputResource.
//
// A non-nil Abort means no later plugin ran and the core operation must be
// skipped; the abort outcome becomes the HTTP response. A returned error is
// a plugin failure the pipeline routes to ON_ERROR.
func (o *Orchestrator) RunBefore(ctx context.Context, pc *Context) (*Abort, error) {
	for _, p := range o.registry.Match(pc.Descriptor()) {
		if p.Mode() != ModeSync {
			continue
		}
		hook, ok := p.(BeforeHook)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := hook.Before(ctx, pc)
		if err != nil {
			return nil, err
		}
		if result.Resource != nil {
			pc.InputResource = result.Resource
		}
		if result.Abort != nil {
			return result.Abort, nil
		}
		if result.SkipRemaining {
			break
		}
	}
	return nil, nil
}

// RunAfter executes the AFTER phase: sync plugins serially in priority
// order, then async plugins dispatched to the worker pool. It returns after
// sync completion without waiting for async hooks. A sync AFTER error is
// returned for ON_ERROR handling; async results are ignored by contract.
func (o *Orchestrator) RunAfter(ctx context.Context, pc *Context) error {
	matched := o.registry.Match(pc.Descriptor())

	for _, p := range matched {
		if p.Mode() != ModeSync {
			continue
		}
		hook, ok := p.(AfterHook)
		if !ok {
			continue
		}
		if err := hook.After(ctx, pc); err != nil {
			return err
		}
	}

	for _, p := range matched {
		if p.Mode() != ModeAsync {
			continue
		}
		hook, ok := p.(AfterHook)
		if !ok {
			continue
		}
		o.dispatchAsync(pc, p.Name(), func(detached context.Context) {
			if err := hook.After(detached, pc); err != nil {
				o.logger.Error("async after plugin failed",
					"plugin", p.Name(), "requestID", pc.RequestID, "error", err)
			}
		})
	}

	return nil
}

// RunOnError executes the ON_ERROR phase for a failed core operation or a
// failed sync plugin. Sync hooks run serially; their errors are logged, not
// re-raised. Async hooks are scheduled on the pool.
func (o *Orchestrator) RunOnError(ctx context.Context, pc *Context, cause error) {
	matched := o.registry.Match(pc.Descriptor())

	for _, p := range matched {
		if p.Mode() != ModeSync {
			continue
		}
		hook, ok := p.(ErrorHook)
		if !ok {
			continue
		}
		if err := hook.OnError(ctx, pc, cause); err != nil {
			o.logger.Error("on-error plugin failed",
				"plugin", p.Name(), "requestID", pc.RequestID, "error", err)
		}
	}

	for _, p := range matched {
		if p.Mode() != ModeAsync {
			continue
		}
		hook, ok := p.(ErrorHook)
		if !ok {
			continue
		}
		o.dispatchAsync(pc, p.Name(), func(detached context.Context) {
			if err := hook.OnError(detached, pc, cause); err != nil {
				o.logger.Error("async on-error plugin failed",
					"plugin", p.Name(), "requestID", pc.RequestID, "error", err)
			}
		})
	}
}

// dispatchAsync hands a hook to the pool with the tenant and request id
// captured now, so the worker observes the values of this request no matter
// what later requests do.
func (o *Orchestrator) dispatchAsync(pc *Context, pluginName string, run func(ctx context.Context)) {
	if o.pool == nil {
		o.logger.Warn("no async pool configured, dropping async hook", "plugin", pluginName)
		return
	}
	o.pool.Dispatch(pc.TenantID, pc.RequestID, pluginName, run)
}

// Shutdown drains the async pool with the given grace period.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	if o.pool != nil {
		o.pool.Shutdown(grace)
	}
}

package hook

import (
	"context"
	"errors"
	"log/slog"
)

// Result is the outcome of delivering an event to one hook.
type Result struct {
	Hook     string
	Response *Response
	Err      error
}

// Dispatcher delivers events to every subscribed hook in name order.
// Failures are logged and returned, never propagated as errors, so a
// broken hook cannot undo a dataset change.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	logger   *slog.Logger
}

// NewDispatcher wires a manager and an executor.
func NewDispatcher(manager *Manager, executor *Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		manager:  manager,
		executor: executor,
		logger:   logger.With("component", "hook"),
	}
}

// Notify sends req to every hook subscribed to req.Event.
func (d *Dispatcher) Notify(ctx context.Context, req *Request) []Result {
	hooks := d.manager.For(req.Event)
	results := make([]Result, 0, len(hooks))

	for _, h := range hooks {
		resp, err := d.executor.Execute(ctx, h, req)
		if err == nil && !resp.Success {
			err = errors.New(resp.Error)
			if resp.Error == "" {
				err = errors.New("hook reported failure")
			}
		}

		if err != nil {
			d.logger.Warn("hook failed", "hook", h.Manifest.Name, "event", req.Event, "error", err)
		} else {
			d.logger.Debug("hook ran", "hook", h.Manifest.Name, "event", req.Event)
		}
		results = append(results, Result{Hook: h.Manifest.Name, Response: resp, Err: err})
	}

	return results
}

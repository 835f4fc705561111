package integration

import (
	"context"
	"fmt"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/event"
)

// Middleware transforms or filters an outgoing payload. Returning a payload
// passes it (possibly modified) down the chain; returning (nil, nil) filters
// the emission, which is reported as success with no delivery. A middleware
// error is logged and the payload continues unchanged.
type Middleware func(ctx context.Context, payload *event.Payload) (*event.Payload, error)

// Use appends a middleware to the coordinator's pipeline. Middleware run in
// the order they were added, on every emission.
func (c *Coordinator) Use(mw Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middleware = append(c.middleware, mw)
}

// applyMiddleware runs the pipeline. It returns (nil, true) when a
// middleware filtered the emission. Errors and panics leave the payload at
// its prior state and the chain continues.
func (c *Coordinator) applyMiddleware(ctx context.Context, payload *event.Payload) (*event.Payload, bool) {
	c.mu.RLock()
	chain := make([]Middleware, len(c.middleware))
	copy(chain, c.middleware)
	c.mu.RUnlock()

	current := payload
	for i, mw := range chain {
		next, err := runMiddleware(ctx, mw, current.Clone())
		if err != nil {
			if c.cfg.Logger != nil {
				c.cfg.Logger.Warn("middleware failed, payload unchanged",
					"index", i, "event_type", current.Type, "error", err.Error())
			}
			continue
		}
		if next == nil {
			return nil, true
		}
		current = next
	}
	return current, false
}

func runMiddleware(ctx context.Context, mw Middleware, payload *event.Payload) (out *event.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("middleware panic: %v", r)
		}
	}()
	return mw(ctx, payload)
}

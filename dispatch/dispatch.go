// Package dispatch resolves requests to capability handlers and converts
// every outcome — result, domain failure, or escaped panic — into exactly
// one response.
//
// The catch-and-convert boundary at the dispatch call site is the key
// design decision: it isolates one request's failure from the connection's
// lifetime and from other concurrent requests. A caller can keep issuing
// requests on the same connection after one fails; only I/O-level failures
// in the connection service terminate a connection.
package dispatch

import (
	"context"

	"hostagent/capability"
	"hostagent/message"
	"hostagent/middleware"
)

// Dispatcher turns requests into responses against a fixed capability
// registry. The middleware chain is built once at construction, not per
// request.
type Dispatcher struct {
	registry *capability.Registry
	handler  middleware.HandlerFunc
}

// New builds a dispatcher over the registry with the given middlewares
// applied in order around the core dispatch step.
func New(registry *capability.Registry, middlewares ...middleware.Middleware) *Dispatcher {
	d := &Dispatcher{registry: registry}
	d.handler = middleware.Chain(middlewares...)(d.dispatch)
	return d
}

// Dispatch resolves and executes one request. It always returns a response:
// handler failures of any sort never propagate to the caller as Go errors
// or panics.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request) *message.Response {
	return d.handler(ctx, req)
}

// dispatch is the core handler wrapped by the middleware chain.
func (d *Dispatcher) dispatch(ctx context.Context, req *message.Request) (resp *message.Response) {
	// A panic escaping a handler must not take the connection down with it.
	defer func() {
		if r := recover(); r != nil {
			resp = message.Errf(message.KindOperationFailed, "handler panic: %v", r)
		}
	}()

	h, ok := d.registry.Lookup(req.Command)
	if !ok {
		return message.Errf(message.KindUnknownCommand, "%s", req.Command)
	}

	args, err := h.Accepts(req.Payload)
	if err != nil {
		return message.Errf(message.KindInvalidArguments, "%s: %v", req.Command, err)
	}

	result, err := h.Execute(ctx, args)
	if err != nil {
		return message.Errf(message.KindOperationFailed, "%v", err)
	}
	return message.Ok(result)
}

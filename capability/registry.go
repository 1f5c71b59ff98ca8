// Package capability holds the registry mapping command identifiers to
// executable handlers.
//
// The registry solves the open-ended command set problem with type erasure:
// every handler exposes the same two-step capability — interpret an opaque
// serialized payload as typed arguments, then execute the bound operation —
// while internally working with its own concrete argument and result types.
// Registry and dispatcher never depend on those types.
//
// A registry is built once at startup and is read-only afterwards, so it is
// safe to share across concurrent connections without locking.
package capability

import (
	"context"
	"fmt"
)

// Handler is the type-erased executable unit bound to one command
// identifier. Opaque payload in, opaque payload out.
type Handler interface {
	// Accepts interprets the serialized payload as the handler's typed
	// arguments. A shape mismatch is reported as an error and means the
	// underlying operation is never invoked.
	Accepts(payload []byte) (any, error)

	// Execute runs the bound operation with arguments produced by Accepts
	// and returns the serialized result. Domain failures (resource
	// unavailable, permission denied, system call failure) come back as
	// errors.
	Execute(ctx context.Context, args any) ([]byte, error)
}

// Registry maps command identifiers to handlers. Register during startup
// only; once connections are being served the registry must be treated as
// immutable.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a command identifier. A duplicate identifier
// is a configuration error: the caller is expected to treat it as fatal at
// startup rather than continue with an ambiguous command set.
func (r *Registry) Register(command string, h Handler) error {
	if command == "" {
		return fmt.Errorf("capability: empty command identifier")
	}
	if _, exists := r.handlers[command]; exists {
		return fmt.Errorf("capability: duplicate registration of %q", command)
	}
	r.handlers[command] = h
	return nil
}

// Lookup returns the handler bound to the identifier. Pure read, safe for
// concurrent callers.
func (r *Registry) Lookup(command string) (Handler, bool) {
	h, ok := r.handlers[command]
	return h, ok
}

// Commands returns the number of registered identifiers.
func (r *Registry) Commands() int {
	return len(r.handlers)
}

package middleware

import (
	"context"
	"time"

	"hostagent/message"
)

// TimeoutMiddleware bounds a single dispatch. The core imposes no timeout
// of its own; this middleware is the deployment-level watchdog for
// installations that want one. When the deadline passes, the caller gets an
// operation_failed response while the in-flight operation runs to
// completion in the background and its result is discarded.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Errf(message.KindOperationFailed, "dispatch timed out after %s", timeout)
			}
		}
	}
}

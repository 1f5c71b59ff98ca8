package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"hostagent/message"
)

// RateLimitMiddleware rejects requests past a token-bucket limit shared by
// all connections. Rejected requests get an operation_failed response; the
// connection stays usable.
func RateLimitMiddleware(r float64, burst int) Middleware {
	if burst < 1 {
		// A zero-burst bucket would reject everything.
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Errf(message.KindOperationFailed, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}

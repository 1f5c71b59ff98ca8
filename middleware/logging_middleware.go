package middleware

import (
	"context"
	"log/slog"
	"time"

	"hostagent/message"
)

// LoggingMiddleware logs one line per dispatched request: command, outcome,
// and duration.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)
			if resp.OK() {
				logger.Info("dispatched", "command", req.Command, "duration", duration)
			} else {
				logger.Warn("dispatch failed", "command", req.Command, "duration", duration,
					"kind", string(resp.Kind), "err", resp.Error)
			}
			return resp
		}
	}
}

// Package kit adapts transport-agnostic endpoints to the overlay's local
// HTTP API and to MCP tools, so both surfaces share one implementation.
package kit

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/mailsentry/idgen"
)

// Endpoint is one operation: a decoded request in, a JSON-serialisable
// response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging assigns a request ID when the context has none and logs each
// call with its transport and duration.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestID(ctx, idgen.Prefixed("req_", idgen.Default)())
			}
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: endpoint served", attrs...)
			}
			return resp, err
		}
	}
}

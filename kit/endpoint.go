// Package kit provides transport-agnostic endpoints: a business operation is
// written once as an Endpoint and exposed over MCP (or any other transport)
// by thin adapters.
package kit

import "context"

// Endpoint is a single request/response operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

type contextKey string

// TransportKey is the context key naming the transport that carried a call.
const TransportKey contextKey = "kit_transport"

// WithTransport records the transport ("http", "mcp") in ctx.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport returns the transport recorded in ctx, or "".
func GetTransport(ctx context.Context) string {
	t, _ := ctx.Value(TransportKey).(string)
	return t
}

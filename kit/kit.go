// Package kit holds the small cross-cutting pieces the service
// surface shares: the Endpoint abstraction that lets one handler
// serve HTTP and MCP, middleware chaining, and typed context keys
// for request-scoped values.
package kit

import "context"

// Endpoint is one transport-agnostic operation: typed request in,
// typed response out. HTTP handlers and MCP tools both decode into
// an Endpoint call.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first one listed is the
// outermost: Chain(a, b)(e) runs a, then b, then e.
func Chain(mws ...Middleware) Middleware {
	return func(e Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			e = mws[i](e)
		}
		return e
	}
}

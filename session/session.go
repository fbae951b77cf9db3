// Package session propagates the current MCP session id as an ambient
// value across suspension points, without explicit threading through
// every call site. Go has no implicit per-request storage, so the
// ambient value is carried on a context.Context, following spec §9's
// direction to pass an explicit "call context" in languages without a
// built-in — context.Context already is that struct.
package session

import "context"

type contextKey struct{}

var sessionKey = contextKey{}

// Run wraps fn so that every call downstream of fn observes id as the
// current session, via FromContext. Nested calls to Run shadow the
// outer value and restore it on exit, exactly like a scoped variable:
// once fn returns, the session id as seen by the caller of Run is
// unaffected.
func Run(ctx context.Context, id string, fn func(ctx context.Context)) {
	fn(context.WithValue(ctx, sessionKey, id))
}

// FromContext returns the session id carried by ctx, or "" if none was
// ever set. An empty-string session id behaves as "no session" per
// spec §4.3.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// WithSession returns a derived context carrying id as the current
// session. Prefer Run where a scoped callback is natural; WithSession is
// for call sites (e.g. HTTP middleware) that must thread the value
// through a framework-owned context instead of a local closure.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

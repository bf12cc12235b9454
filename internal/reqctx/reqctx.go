// Package reqctx carries the security/tenant/locale context of a tool
// invocation. The source framework propagated this ambiently via
// continuation-local storage; in Go the same guarantee falls out of explicit
// context.Context threading, so every handler receives the identity of the
// call it runs under and nothing leaks between concurrent invocations.
package reqctx

import "context"

// Identity describes who a tool call runs as.
type Identity struct {
	// User is the acting user name.
	User string

	// Tenant is the tenant/client identifier.
	Tenant string

	// Locale is the preferred locale for messages and formatting.
	Locale string

	// Privileged marks the internal system identity used when a call
	// arrives without an explicit identity.
	Privileged bool
}

type ctxKey struct{}

// System is the privileged fallback identity. Tool calls from the agent
// harness normally carry no end-user identity of their own, so the mediation
// layer runs them as the system user.
var System = Identity{User: "system", Tenant: "default", Locale: "de", Privileged: true}

// With returns a context carrying the given identity.
func With(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From extracts the identity from the context. The second return reports
// whether an identity was explicitly set.
func From(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Ensure returns a context that is guaranteed to carry an identity,
// falling back to the privileged system identity.
func Ensure(ctx context.Context) context.Context {
	if _, ok := From(ctx); ok {
		return ctx
	}
	return With(ctx, System)
}

// User returns the acting user name, or the system user when the context
// carries no identity.
func User(ctx context.Context) string {
	if id, ok := From(ctx); ok {
		return id.User
	}
	return System.User
}

package auth

import (
	"context"
)

// Identity is the authenticated caller. Subject owns every record the caller
// creates.
type Identity struct {
	Subject string
	Email   string
	// Agent is set when the caller authenticated with an agent API key.
	Agent bool
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

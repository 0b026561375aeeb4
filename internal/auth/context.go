package auth

import "context"

type contextKey string

const contextKeyUser contextKey = "user"

// Identity is the authenticated caller. Subject is the owner id used for every
// owned record.
type Identity struct {
	Subject string
	Email   string
}

func WithUser(ctx context.Context, user *Identity) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

func UserFromContext(ctx context.Context) (*Identity, bool) {
	u, ok := ctx.Value(contextKeyUser).(*Identity)
	return u, ok && u != nil
}

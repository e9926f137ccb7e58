package devbackend

import "context"

type ctxKey struct{}

var sessionUserKey = ctxKey{}

type SessionUser struct {
	UserID string
	Email  string
}

func WithSessionUser(ctx context.Context, u *SessionUser) context.Context {
	return context.WithValue(ctx, sessionUserKey, u)
}

// GetSessionUser returns nil outside a route guarded by RequireAccess.
func GetSessionUser(ctx context.Context) *SessionUser {
	u, ok := ctx.Value(sessionUserKey).(*SessionUser)
	if !ok {
		return nil
	}
	return u
}

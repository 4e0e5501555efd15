package accounts

import "context"

var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithSessionContext sets the Session in the given context
func WithSessionContext(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// SessionFromContext finds the session stored by WithSessionContext.
func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionCtxKey).(Session)
	return session, ok && session != nil
}

package common

import "context"

type userIDKeyType struct{}

var userIDKey userIDKeyType

// WithUserID attaches the authenticated staff user id to the context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID reads the staff user id set by the auth middleware.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	if id == "" {
		return "", false
	}
	return id, ok
}

package common

import (
	"context"
	"strings"
)

type userIDKey struct{}

// WithUserID marks ctx as belonging to an authenticated user.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, strings.TrimSpace(id))
}

// UserID reports the authenticated user, if any. Blank subjects count as anonymous.
func UserID(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id, id != ""
}

package app

import (
	"context"
	"strings"
)

type userIDContextKey struct{}

// WithUserID attaches the authenticated user to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, strings.TrimSpace(userID))
}

// UserIDFromContext returns the authenticated user, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(userIDContextKey{}).(string)
	return id, id != ""
}

// ensureSelf rejects access to another user's rows when ctx carries an
// identity. Contexts without identity are trusted internal callers.
func ensureSelf(ctx context.Context, userID string) error {
	if current, ok := UserIDFromContext(ctx); ok && current != userID {
		return ErrForbidden
	}
	return nil
}

package auth

import "context"

type contextKey string

const (
	contextKeyRecipient contextKey = "auth.recipient_id"
	contextKeyRole      contextKey = "auth.role"
)

// WithIdentity stores the authenticated recipient and role in context.
func WithIdentity(ctx context.Context, recipientID int64, role Role) context.Context {
	ctx = context.WithValue(ctx, contextKeyRecipient, recipientID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	return ctx
}

// RecipientIDFromContext extracts the recipient id set by the middleware.
func RecipientIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(contextKeyRecipient).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	if role, ok := ctx.Value(contextKeyRole).(Role); ok {
		return role
	}
	return ""
}

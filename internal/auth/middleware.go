package auth

import (
	"net/http"
	"strings"
)

// Middleware validates recipient JWTs and enforces roles. Ingest callbacks are
// handed to the ingest middleware when one is configured.
type Middleware struct {
	Secret []byte
	Policy Policy
	Ingest *IngestAuthMiddleware
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy, ingest *IngestAuthMiddleware) *Middleware {
	return &Middleware{Secret: secret, Policy: policy, Ingest: ingest}
}

// Wrap applies auth to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	ingest := m.Ingest.Wrap(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		if m.Policy.IsIngest(r) {
			ingest.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			http.Error(w, ErrForbidden.Error(), http.StatusForbidden)
			return
		}
		recipientID, _ := claims.RecipientID()
		ctx := WithIdentity(r.Context(), recipientID, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

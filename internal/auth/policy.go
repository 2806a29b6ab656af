package auth

import (
	"net/http"
	"strings"
)

// Policy determines how a request is authenticated.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth entirely.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// IsIngest reports whether the request is a streaming worker callback.
// These carry an HMAC signature instead of a recipient JWT.
func (p Policy) IsIngest(r *http.Request) bool {
	if r == nil || r.Method != http.MethodPost {
		return false
	}
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/incident", "/incident/end", "/stream/verify", "/stream/end":
		return true
	}
	return false
}

// RequiredRole resolves required role for the request.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := strings.TrimSuffix(r.URL.Path, "/")

	switch {
	case strings.HasPrefix(path, "/incident/export."), path == "/incident/redispatch":
		return RoleOperator, true
	case path == "/incident" || strings.HasPrefix(path, "/incident/"):
		return RoleViewer, true
	case path == "/stream" || strings.HasPrefix(path, "/stream/"):
		return RoleViewer, true
	case path == "/notification" || strings.HasPrefix(path, "/notification/"):
		return RoleViewer, true
	}
	return "", false
}

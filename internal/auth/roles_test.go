package auth

import "testing"

func TestNormalizeRole(t *testing.T) {
	if role, ok := NormalizeRole(" Operator "); !ok || role != RoleOperator {
		t.Fatalf("expected operator, got %q %v", role, ok)
	}
	if _, ok := NormalizeRole("foreman"); ok {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestRoleAtLeast(t *testing.T) {
	if !RoleAtLeast(RoleAdmin, RoleOperator) || !RoleAtLeast(RoleOperator, RoleOperator) {
		t.Fatalf("expected higher or equal roles to satisfy")
	}
	if RoleAtLeast(RoleViewer, RoleOperator) {
		t.Fatalf("viewer must not satisfy operator")
	}
	if RoleAtLeast(Role(""), RoleViewer) {
		t.Fatalf("empty role must satisfy nothing")
	}
}

package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	// No identity yet.
	if id := FromContext(ctx); id != nil {
		t.Fatalf("expected nil, got %+v", id)
	}

	identity := &Identity{
		UserID:   42,
		Username: "alice",
		Role:     RoleUser,
		Method:   MethodSession,
	}
	ctx = NewContext(ctx, identity)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected identity, got nil")
	}
	if got.UserID != 42 || got.Username != "alice" {
		t.Errorf("identity = %d/%q, want 42/alice", got.UserID, got.Username)
	}
	if got.IsAdmin() {
		t.Error("regular user must not be admin")
	}
}

func TestIsAdmin(t *testing.T) {
	if (&Identity{Role: RoleUser}).IsAdmin() {
		t.Error("user role reported as admin")
	}
	if !(&Identity{Role: RoleAdmin}).IsAdmin() {
		t.Error("admin role not reported as admin")
	}
	var nilID *Identity
	if nilID.IsAdmin() {
		t.Error("nil identity reported as admin")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	sm, err := NewSessionManager(strings.Repeat("s", 32), time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}

	token, expiry, err := sm.IssueToken(SessionClaims{
		Subject:  "bob",
		UserID:   7,
		Role:     RoleUser,
		FixPrice: true,
		Method:   MethodSession,
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if time.Until(expiry) <= 0 {
		t.Error("expiry must be in the future")
	}

	claims, err := sm.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "bob" || claims.UserID != 7 || !claims.FixPrice {
		t.Errorf("claims = %+v", claims)
	}

	id := claims.Identity()
	if id.Username != "bob" || id.UserID != 7 || id.Method != MethodSession {
		t.Errorf("identity = %+v", id)
	}
}

func TestSessionRejectsForeignToken(t *testing.T) {
	sm1, _ := NewSessionManager(strings.Repeat("a", 32), time.Hour)
	sm2, _ := NewSessionManager(strings.Repeat("b", 32), time.Hour)

	token, _, err := sm1.IssueToken(SessionClaims{Subject: "eve", UserID: 1})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := sm2.ValidateToken(token); err == nil {
		t.Fatal("token signed with another key must not validate")
	}
}

func TestSessionSecretTooShort(t *testing.T) {
	if _, err := NewSessionManager("short", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestClaimsIdentityNormalizesRole(t *testing.T) {
	// Anything but admin collapses to the user role.
	id := (&SessionClaims{Subject: "x", Role: "superuser"}).Identity()
	if id.Role != RoleUser {
		t.Errorf("Role = %q, want %q", id.Role, RoleUser)
	}
	id = (&SessionClaims{Subject: "x", Role: RoleAdmin}).Identity()
	if id.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", id.Role, RoleAdmin)
	}
}

package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken(""); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenBadScheme(t *testing.T) {
	for _, header := range []string{"Basic abc", "Bearer", "Bearer ", "token"} {
		if _, err := bearerToken(header); err == nil {
			t.Fatalf("expected error for header %q", header)
		}
	}
}

func TestRoleForPassword(t *testing.T) {
	auth := NewAuth(AuthConfig{
		FullPassword:    "band-only",
		LimitedPassword: "crew",
	})

	role, err := auth.RoleForPassword("band-only")
	if err != nil || role != RoleFull {
		t.Fatalf("expected full role, got %v / %v", role, err)
	}
	role, err = auth.RoleForPassword("crew")
	if err != nil || role != RoleLimited {
		t.Fatalf("expected limited role, got %v / %v", role, err)
	}
	if _, err := auth.RoleForPassword("wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
	if _, err := auth.RoleForPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestRoleForPasswordUnconfigured(t *testing.T) {
	auth := NewAuth(AuthConfig{})
	if _, err := auth.RoleForPassword(""); err == nil {
		t.Fatal("empty password must not match unconfigured credentials")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	auth := NewAuth(AuthConfig{
		AccessSecret:    "test-secret",
		LimitedPassword: "crew",
	})

	token, err := auth.IssueAccessToken("doc-1", "Roadie Rob", RoleLimited)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	editor, err := auth.EditorFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if editor.Role != RoleLimited {
		t.Fatalf("unexpected role: %s", editor.Role)
	}
	if editor.Name != "Roadie Rob" {
		t.Fatalf("unexpected name: %s", editor.Name)
	}
	if !strings.HasPrefix(editor.ID, "guest:doc-1:") {
		t.Fatalf("unexpected editor id: %s", editor.ID)
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	secret := "test-secret"
	auth := NewAuth(AuthConfig{AccessSecret: secret})

	claims := jwt.MapClaims{
		"sub":  "guest:doc-1:x",
		"name": "x",
		"role": string(RoleFull),
		"iat":  time.Now().Add(-2 * time.Hour).Unix(),
		"exp":  time.Now().Add(-time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.EditorFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestAccessTokenWrongSecretRejected(t *testing.T) {
	issuer := NewAuth(AuthConfig{AccessSecret: "secret-a"})
	verifier := NewAuth(AuthConfig{AccessSecret: "secret-b"})

	token, err := issuer.IssueAccessToken("doc-1", "Mallory", RoleFull)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.EditorFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

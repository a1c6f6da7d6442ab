package storage

import (
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := hashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$120000$") {
		t.Fatalf("unexpected hash format %q", hash)
	}
	if err := verifyPassword(hash, "correct horse battery"); err != nil {
		t.Fatalf("verifyPassword: %v", err)
	}
	if err := verifyPassword(hash, "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := verifyPassword("not-a-hash", "whatever"); err == nil {
		t.Fatalf("expected error for malformed hash")
	}
}

func TestEnsureOperatorIsIdempotent(t *testing.T) {
	store := newTestStorage(t)

	first, err := store.EnsureOperator("Admin", "swordfish1")
	if err != nil {
		t.Fatalf("EnsureOperator: %v", err)
	}
	if first.Username != "admin" {
		t.Fatalf("expected normalized username, got %q", first.Username)
	}

	second, err := store.EnsureOperator("admin", "different-pass")
	if err != nil {
		t.Fatalf("EnsureOperator second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing account to be returned")
	}
	if _, err := store.AuthenticateOperator("admin", "swordfish1"); err != nil {
		t.Fatalf("expected original password to keep working: %v", err)
	}
}

func TestEnsureOperatorValidation(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.EnsureOperator("", "longenough"); err == nil {
		t.Fatalf("expected error for blank username")
	}
	if _, err := store.EnsureOperator("admin", "short"); err == nil {
		t.Fatalf("expected error for short password")
	}
}

func TestAuthenticateOperator(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.EnsureOperator("admin", "swordfish1"); err != nil {
		t.Fatalf("EnsureOperator: %v", err)
	}

	if _, err := store.AuthenticateOperator("admin", "swordfish1"); err != nil {
		t.Fatalf("AuthenticateOperator: %v", err)
	}
	if _, err := store.AuthenticateOperator("admin", "bad"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := store.AuthenticateOperator("ghost", "whatever"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if _, err := store.AuthenticateOperator("admin", ""); err == nil {
		t.Fatalf("expected error for blank password")
	}
}

func TestSetOperatorPassword(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.EnsureOperator("admin", "swordfish1"); err != nil {
		t.Fatalf("EnsureOperator: %v", err)
	}
	if _, err := store.SetOperatorPassword("admin", "rotated-pass"); err != nil {
		t.Fatalf("SetOperatorPassword: %v", err)
	}
	if _, err := store.AuthenticateOperator("admin", "rotated-pass"); err != nil {
		t.Fatalf("expected rotated password to work: %v", err)
	}
	if _, err := store.AuthenticateOperator("admin", "swordfish1"); err != ErrInvalidCredentials {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	if _, err := store.SetOperatorPassword("ghost", "rotated-pass"); err != ErrOperatorNotFound {
		t.Fatalf("expected ErrOperatorNotFound, got %v", err)
	}
}

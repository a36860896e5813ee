package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.GenerateToken("alice", true)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want alice", claims.Username)
	}
	if !claims.IsAdmin {
		t.Error("IsAdmin = false, want true")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", time.Hour).GenerateToken("alice", false)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := NewService("secret-b", time.Hour).ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	svc := NewService("secret", time.Hour)
	for _, token := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		if _, err := svc.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateToken(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc := NewService("secret", -time.Hour)
	token, err := svc.GenerateToken("alice", false)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken on expired token = %v, want ErrInvalidToken", err)
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse" {
		t.Error("password stored in the clear")
	}
	if !CheckPassword("correct horse", hash) {
		t.Error("CheckPassword rejected the right password")
	}
	if CheckPassword("battery staple", hash) {
		t.Error("CheckPassword accepted the wrong password")
	}
}

func TestUsersAddAuthenticateRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yml")
	users, err := OpenUsers(path)
	if err != nil {
		t.Fatalf("OpenUsers: %v", err)
	}

	if err := users.Add("alice", "password-one", true); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := users.Add("alice", "other", false); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate Add = %v, want ErrUserExists", err)
	}

	usr, err := users.Authenticate("alice", "password-one")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !usr.IsAdmin {
		t.Error("admin flag lost")
	}
	if _, err := users.Authenticate("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("bad password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := users.Authenticate("bob", "password-one"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user = %v, want ErrInvalidCredentials", err)
	}

	if err := users.Remove("alice"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := users.Remove("alice"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("second Remove = %v, want ErrUserNotFound", err)
	}
}

func TestUsersPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yml")
	users, err := OpenUsers(path)
	if err != nil {
		t.Fatalf("OpenUsers: %v", err)
	}
	if err := users.Add("alice", "password-one", false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := OpenUsers(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := reopened.Authenticate("alice", "password-one"); err != nil {
		t.Errorf("Authenticate after reopen: %v", err)
	}
}

func TestListNeverExposesHashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yml")
	users, err := OpenUsers(path)
	if err != nil {
		t.Fatalf("OpenUsers: %v", err)
	}
	if err := users.Add("alice", "password-one", true); err != nil {
		t.Fatalf("Add: %v", err)
	}

	list := users.List()
	if len(list) != 1 {
		t.Fatalf("List() has %d entries, want 1", len(list))
	}
	if list[0].Username != "alice" || !list[0].IsAdmin {
		t.Errorf("List()[0] = %+v", list[0])
	}
	if list[0].PasswordHash != "" {
		t.Error("List leaked a password hash")
	}
}

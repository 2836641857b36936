package security

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/mockauth/internal/model"
)

func TestPlainHasher(t *testing.T) {
	h := PlainHasher{}
	stored, err := h.Hash("Password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if stored != "Password123" {
		t.Errorf("Hash() = %q, want plaintext", stored)
	}

	ok, err := h.Compare(stored, "Password123")
	if err != nil || !ok {
		t.Errorf("Compare(match) = %v, %v; want true, nil", ok, err)
	}
	ok, _ = h.Compare(stored, "password123")
	if ok {
		t.Error("Compare should be case-sensitive")
	}
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	stored, err := h.Hash("Password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if stored == "Password123" || !strings.HasPrefix(stored, "$2") {
		t.Errorf("Hash() = %q, want bcrypt hash", stored)
	}

	ok, err := h.Compare(stored, "Password123")
	if err != nil || !ok {
		t.Errorf("Compare(match) = %v, %v; want true, nil", ok, err)
	}
	ok, err = h.Compare(stored, "wrong")
	if err != nil || ok {
		t.Errorf("Compare(mismatch) = %v, %v; want false, nil", ok, err)
	}

	// 平文で保存された値はハッシュとして不正なためエラーになる
	if _, err := h.Compare("Password123", "Password123"); err == nil {
		t.Error("Compare with non-hash stored value should fail")
	}
}

func TestNewBcryptHasher_DefaultCost(t *testing.T) {
	if got := NewBcryptHasher(0).Cost; got != bcrypt.DefaultCost {
		t.Errorf("Cost = %d, want %d", got, bcrypt.DefaultCost)
	}
}

func TestNewPasswordHasher(t *testing.T) {
	if h, err := NewPasswordHasher("plain"); err != nil {
		t.Fatalf("plain: %v", err)
	} else if _, ok := h.(PlainHasher); !ok {
		t.Errorf("plain: got %T", h)
	}
	if h, err := NewPasswordHasher("bcrypt"); err != nil {
		t.Fatalf("bcrypt: %v", err)
	} else if _, ok := h.(BcryptHasher); !ok {
		t.Errorf("bcrypt: got %T", h)
	}
	if _, err := NewPasswordHasher("argon2"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestHashCredentials(t *testing.T) {
	in := map[string]model.Credential{
		"user@example.com": {Password: "Password123", Name: "Demo User"},
	}
	out, err := HashCredentials(in, NewBcryptHasher(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("HashCredentials() error = %v", err)
	}
	if in["user@example.com"].Password != "Password123" {
		t.Error("input map must not be modified")
	}
	got := out["user@example.com"]
	if got.Name != "Demo User" {
		t.Errorf("Name = %q, want Demo User", got.Name)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(got.Password), []byte("Password123")); err != nil {
		t.Errorf("hashed seed does not verify: %v", err)
	}
}

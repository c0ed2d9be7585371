package token

import (
	"errors"
	"testing"
	"time"

	"github.com/aiboxcloud/management/internal/config"
)

func testIssuer() *Issuer {
	return NewIssuer(config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "12345678",
		JWTSecret:     "test-secret",
	})
}

func TestIssueAndVerify(t *testing.T) {
	i := testIssuer()
	raw, err := i.Issue("admin", "12345678")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	username, err := i.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if username != "admin" {
		t.Errorf("username = %q, want admin", username)
	}
}

func TestIssueRejectsBadCredentials(t *testing.T) {
	i := testIssuer()
	if _, err := i.Issue("nobody", "12345678"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("unknown user error = %v, want ErrUnknownUser", err)
	}
	if _, err := i.Issue("admin", "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password error = %v, want ErrWrongPassword", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	i := testIssuer()
	issued := time.Now()
	i.now = func() time.Time { return issued }
	raw, err := i.Issue("admin", "12345678")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	i.now = func() time.Time { return issued.Add(TTL + time.Minute) }
	if _, err := i.Verify(raw); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expired token error = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	other := NewIssuer(config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "12345678",
		JWTSecret:     "other-secret",
	})
	raw, err := other.Issue("admin", "12345678")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := testIssuer().Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign token error = %v, want ErrInvalidToken", err)
	}
	if _, err := testIssuer().Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token error = %v, want ErrInvalidToken", err)
	}
}

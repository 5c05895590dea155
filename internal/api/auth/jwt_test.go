package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), 15*time.Minute)

	token, err := svc.GenerateToken("oncall-alice", "Alice")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "oncall-alice" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "oncall-alice")
	}
	if claims.Name != "Alice" {
		t.Errorf("Name = %q, want %q", claims.Name, "Alice")
	}
}

func TestJWTService_RequiresSubject(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), time.Minute)
	if _, err := svc.GenerateToken("", ""); err == nil {
		t.Error("expected error for empty subject")
	}
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), 15*time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt-token"},
		{"wrong-segments", "a.b"},
		{"invalid-signature", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJ0ZXN0In0.invalid"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tc.token); err == nil {
				t.Error("expected error for invalid token")
			}
		})
	}
}

func TestJWTService_DifferentSecret(t *testing.T) {
	svc1 := NewJWTService([]byte("secret-one-32-bytes-long!!!!!!!"), time.Minute)
	svc2 := NewJWTService([]byte("secret-two-32-bytes-long!!!!!!!"), time.Minute)

	token, err := svc1.GenerateToken("alice", "")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := svc2.ValidateToken(token); err == nil {
		t.Error("expected error validating token with different secret")
	}
}

func TestJWTService_ExpiredToken(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), time.Minute)
	issued := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.GenerateToken("alice", "")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	svc.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = svc.ValidateToken(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestJWTService_WrongIssuer(t *testing.T) {
	secret := []byte("test-secret-key-32-bytes-long!!")
	svc := NewJWTService(secret, time.Minute)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Error("expected error for foreign issuer")
	}
}

func TestJWTService_ReadOnlyAndTTL(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), 0)
	if svc.TTL() != DefaultTTL {
		t.Fatalf("TTL = %v, want %v", svc.TTL(), DefaultTTL)
	}
	issued := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.Issue(TokenRequest{Subject: "dashboard", ReadOnly: true, TTL: time.Hour})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if !claims.ReadOnly {
		t.Error("expected read-only claim")
	}
	if claims.ID == "" {
		t.Error("expected token id")
	}
	if got := claims.ExpiresAt.Sub(issued); got != time.Hour {
		t.Errorf("lifetime = %v, want 1h", got)
	}
}

func TestJWTService_RejectsOtherAlgorithms(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), time.Minute)
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

package jwt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type stubRevocations struct {
	before  time.Time
	revoked bool
	err     error
}

func (s stubRevocations) RevokedBefore(context.Context, string) (time.Time, bool, error) {
	return s.before, s.revoked, s.err
}

func newManager(t *testing.T, issuer string, ttl time.Duration, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager("test-secret", issuer, ttl, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager("", "", time.Minute); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueAndValidate(t *testing.T) {
	m := newManager(t, "alumni", time.Minute)

	token, exp, err := m.Issue("u1", "u1@example.com", "alice", []string{"member"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := m.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "alice" || claims.Email != "u1@example.com" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "member" {
		t.Errorf("unexpected roles: %v", claims.Roles)
	}
	if !claims.Expiry().Equal(exp.Truncate(time.Second)) {
		t.Errorf("expiry %v, want %v", claims.Expiry(), exp.Truncate(time.Second))
	}
}

func TestValidateExpired(t *testing.T) {
	m := newManager(t, "", -time.Minute)
	token, _, err := m.Issue("u1", "", "", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.ValidateToken(context.Background(), token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	ctx := context.Background()
	issuer := newManager(t, "alumni", time.Minute)
	token, _, err := issuer.Issue("u1", "", "", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name  string
		m     *Manager
		token string
	}{
		{"wrong issuer", newManager(t, "other", time.Minute), token},
		{"garbage", issuer, "not-a-token"},
	}

	other, err := NewManager("another-secret", "alumni", time.Minute)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	tests = append(tests, struct {
		name  string
		m     *Manager
		token string
	}{"wrong secret", other, token})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.m.ValidateToken(ctx, tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestValidateRejectsRefreshToken(t *testing.T) {
	m := newManager(t, "", time.Minute)
	now := time.Now()
	token, err := m.sign(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UserID: "u1",
		Type:   TokenTypeRefresh,
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ValidateToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRevocation(t *testing.T) {
	ctx := context.Background()
	issuer := newManager(t, "", time.Minute)
	token, _, err := issuer.Issue("u1", "", "", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	revoked := newManager(t, "", time.Minute, WithRevocationChecker(stubRevocations{
		before: time.Now().Add(time.Second), revoked: true,
	}))
	if _, err := revoked.ValidateToken(ctx, token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}

	// A revocation older than the token does not affect it.
	older := newManager(t, "", time.Minute, WithRevocationChecker(stubRevocations{
		before: time.Now().Add(-time.Hour), revoked: true,
	}))
	if _, err := older.ValidateToken(ctx, token); err != nil {
		t.Fatalf("expected token issued after revocation to pass, got %v", err)
	}

	broken := newManager(t, "", time.Minute, WithRevocationChecker(stubRevocations{
		err: errors.New("redis down"),
	}))
	_, err = broken.ValidateToken(ctx, token)
	if err == nil || errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrRevokedToken = errors.New("token has been revoked")
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims represents JWT claims issued by the account service.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string   `json:"user_id"`
	Email    string   `json:"email"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Type     string   `json:"type"` // "access" or "refresh"
}

// Expiry returns the expiry time, or the zero time when the claim is absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// RevocationChecker reports whether every token issued to userID before
// some instant has been revoked (logout everywhere, password change).
type RevocationChecker interface {
	RevokedBefore(ctx context.Context, userID string) (time.Time, bool, error)
}

// Manager validates HS256 tokens signed with a secret shared with the
// issuing service. Issue exists for tooling and tests.
type Manager struct {
	secret         []byte
	issuer         string
	accessDuration time.Duration
	leeway         time.Duration
	revocations    RevocationChecker
}

// Option configures a Manager.
type Option func(*Manager)

// WithRevocationChecker enables revocation checks on every validation.
func WithRevocationChecker(rc RevocationChecker) Option {
	return func(m *Manager) { m.revocations = rc }
}

// WithLeeway tolerates clock skew when checking exp/iat.
func WithLeeway(d time.Duration) Option {
	return func(m *Manager) { m.leeway = d }
}

// NewManager creates a new JWT manager.
func NewManager(secret string, issuer string, accessDuration time.Duration, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("jwt: secret must not be empty")
	}
	m := &Manager{
		secret:         []byte(secret),
		issuer:         issuer,
		accessDuration: accessDuration,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Issue signs an access token for the given identity.
func (m *Manager) Issue(userID, email, username string, roles []string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(m.accessDuration)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID:   userID,
		Email:    email,
		Username: username,
		Roles:    roles,
		Type:     TokenTypeAccess,
	}
	signed, err := m.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ValidateToken validates an access token and returns its claims.
// Only access tokens are accepted; refresh tokens are refused.
func (m *Manager) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
	}
	if m.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrInvalidToken
	}

	if m.revocations != nil {
		before, revoked, err := m.revocations.RevokedBefore(ctx, claims.UserID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked && (claims.IssuedAt == nil || !claims.IssuedAt.Time.After(before)) {
			return nil, ErrRevokedToken
		}
	}

	return claims, nil
}

func (m *Manager) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

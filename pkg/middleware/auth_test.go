package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	pkgjwt "github.com/weiawesome/alumni-chat/pkg/jwt"
)

type stubValidator struct {
	claims *pkgjwt.Claims
	err    error
	got    string
}

func (s *stubValidator) ValidateToken(_ context.Context, token string) (*pkgjwt.Claims, error) {
	s.got = token
	return s.claims, s.err
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(v TokenValidator) *gin.Engine {
	r := gin.New()
	r.GET("/me", NewAuthMiddleware(v).RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c)+"/"+GetUsername(c))
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		validator  *stubValidator
		wantStatus int
		wantBody   string
	}{
		{"missing header", "", &stubValidator{}, http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", &stubValidator{}, http.StatusUnauthorized, ""},
		{"expired", "Bearer t", &stubValidator{err: pkgjwt.ErrExpiredToken}, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"revoked", "Bearer t", &stubValidator{err: pkgjwt.ErrRevokedToken}, http.StatusUnauthorized, "TOKEN_REVOKED"},
		{"invalid", "Bearer t", &stubValidator{err: pkgjwt.ErrInvalidToken}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"lookup failure", "Bearer t", &stubValidator{err: errors.New("boom")}, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"ok", "Bearer t", &stubValidator{claims: &pkgjwt.Claims{UserID: "u1", Username: "alice"}}, http.StatusOK, "u1/alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			newRouter(tt.validator).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"header", "/ws", "Bearer abc", "abc"},
		{"query", "/ws?token=xyz", "", "xyz"},
		{"header wins", "/ws?token=xyz", "Bearer abc", "abc"},
		{"none", "/ws", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				c.Request.Header.Set(AuthHeaderKey, tt.header)
			}
			if got := ExtractToken(c); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

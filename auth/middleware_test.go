// Package auth tests bearer middleware behavior against a mock JWKS and a fake verifier.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/damfello/bequ-15/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	claims *Claims
	err    error
	calls  int
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (*Claims, error) {
	f.calls++
	return f.claims, f.err
}

func newProtectedRouter(v Verifier) *gin.Engine {
	router := gin.New()
	router.Use(Middleware(v, MiddlewareConfig{PublicPaths: map[string]bool{"/health": true}}))
	router.GET("/protected", func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c.Request.Context())
		if !ok || claims.Subject == "" {
			c.Status(http.StatusTeapot)
			return
		}
		c.String(http.StatusOK, claims.Subject)
	})
	router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func serve(router http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestMiddlewareMissingToken(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	fake := &fakeVerifier{claims: &Claims{Subject: "user-1"}}

	resp := serve(newProtectedRouter(fake), "")

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp.Body.String() != "Missing Authorization Header" {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
	if fake.calls != 0 {
		t.Fatalf("verifier should not be called without a token")
	}
}

func TestMiddlewareMalformedHeader(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	fake := &fakeVerifier{claims: &Claims{Subject: "user-1"}}

	for _, header := range []string{"Token abc", "Bearer", "Bearer   "} {
		resp := serve(newProtectedRouter(fake), header)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, resp.Code)
		}
	}
}

func TestMiddlewareVerifierRejects(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	fake := &fakeVerifier{err: apperr.Unauthenticated("JWT expired")}

	resp := serve(newProtectedRouter(fake), "Bearer abc")

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp.Body.String() != "JWT expired" {
		t.Fatalf("expected provider message, got %q", resp.Body.String())
	}
}

func TestMiddlewareUnclassifiedErrorIsUnauthenticated(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	fake := &fakeVerifier{err: errors.New("boom")}

	resp := serve(newProtectedRouter(fake), "Bearer abc")

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp.Body.String() != invalidTokenMessage {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
}

func TestMiddlewareProviderUnavailable(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	fake := &fakeVerifier{err: apperr.Upstream("Identity provider unavailable", errors.New("dial tcp"))}

	resp := serve(newProtectedRouter(fake), "Bearer abc")

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestMiddlewareNilVerifier(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")

	resp := serve(newProtectedRouter(nil), "Bearer abc")

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if resp.Body.String() != apperr.ConfigMessage {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
}

func TestMiddlewarePublicPath(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	fake := &fakeVerifier{}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	newProtectedRouter(fake).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if fake.calls != 0 {
		t.Fatalf("public path should skip verification")
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	router := gin.New()
	router.Use(Middleware(nil, MiddlewareConfig{DisableAuth: true}))
	router.GET("/protected", func(c *gin.Context) {
		claims, _ := ClaimsFromContext(c.Request.Context())
		c.String(http.StatusOK, claims.Subject)
	})

	resp := serve(router, "")

	if resp.Code != http.StatusOK || resp.Body.String() != "local-dev" {
		t.Fatalf("expected local-dev identity, got %d %q", resp.Code, resp.Body.String())
	}
}

func TestMiddlewareInvalidToken(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	verifier, _ := newTestVerifier(t)

	badKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}

	tokenString := signToken(t, badKey, "test-key", verifier.issuer, verifier.audience, time.Now().Add(10*time.Minute))
	resp := serve(newProtectedRouter(verifier), "Bearer "+tokenString)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestMiddlewareExpiredToken(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	verifier, key := newTestVerifier(t)

	tokenString := signToken(t, key, "test-key", verifier.issuer, verifier.audience, time.Now().Add(-10*time.Minute))
	resp := serve(newProtectedRouter(verifier), "Bearer "+tokenString)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp.Body.String() != "token is expired" {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
}

func TestMiddlewareValidToken(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	verifier, key := newTestVerifier(t)
	tokenString := signToken(t, key, "test-key", verifier.issuer, verifier.audience, time.Now().Add(10*time.Minute))

	resp := serve(newProtectedRouter(verifier), "Bearer "+tokenString)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != "user-123" {
		t.Fatalf("expected subject in context, got %q", resp.Body.String())
	}
}

func newTestVerifier(t *testing.T) (*JWKSVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}

	jwks := newJWKS(key, "test-key")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)

	issuer := "https://proj.supabase.co/auth/v1"
	audience := "authenticated"
	verifier, err := NewJWKSVerifier(issuer, audience, server.URL)
	if err != nil {
		t.Fatalf("failed to create verifier: %v", err)
	}
	return verifier, key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid, issuer, audience string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   issuer,
		"aud":   audience,
		"sub":   "user-123",
		"email": "user@example.com",
		"role":  "authenticated",
		"exp":   exp.Unix(),
		"iat":   exp.Add(-time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	tokenString, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return tokenString
}

type jwksPayload struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func newJWKS(key *rsa.PrivateKey, kid string) jwksPayload {
	n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes())
	return jwksPayload{
		Keys: []jwk{
			{
				Kty: "RSA",
				Kid: kid,
				Use: "sig",
				Alg: "RS256",
				N:   n,
				E:   e,
			},
		},
	}
}

func TestExtractBearerToken(t *testing.T) {
	token, ok := extractBearerToken("Bearer abc")
	if !ok || token != "abc" {
		t.Fatalf("expected token")
	}
	if token, ok := extractBearerToken("bearer xyz"); !ok || token != "xyz" {
		t.Fatalf("expected case-insensitive scheme")
	}
	if _, ok := extractBearerToken("Bearer"); ok {
		t.Fatalf("expected invalid header")
	}
	if _, ok := extractBearerToken("Token abc"); ok {
		t.Fatalf("expected invalid scheme")
	}
	if _, ok := extractBearerToken(""); ok {
		t.Fatalf("expected empty header to be invalid")
	}
}

func TestClaimsFromContext(t *testing.T) {
	claims := &Claims{Subject: "user-1"}
	ctx := WithClaims(context.Background(), claims)
	got, ok := ClaimsFromContext(ctx)
	if !ok || got.Subject != "user-1" {
		t.Fatalf("expected claims from context")
	}
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Fatalf("expected no claims in empty context")
	}
	if _, ok := ClaimsFromContext(WithClaims(context.Background(), nil)); ok {
		t.Fatalf("nil claims should not count")
	}
}

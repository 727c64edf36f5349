package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWKSServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	doc := map[string]any{
		"keys": []map[string]string{{
			"kid": kid,
			"kty": "RSA",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/backtest/x", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: authCookie, Value: token})
	}
	return req
}

func runAuth(a *Authenticator, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec
}

func TestAuthPassThroughWithoutJWKSURL(t *testing.T) {
	a := NewAuthenticator("", zerolog.Nop())
	rec := runAuth(a, authedRequest(""))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejectsMissingCookie(t *testing.T) {
	a := NewAuthenticator("http://127.0.0.1:0/jwks", zerolog.Nop())
	rec := runAuth(a, authedRequest(""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAcceptsValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := newJWKSServer(t, "key-1", &key.PublicKey)
	a := NewAuthenticator(jwks.URL, zerolog.Nop())

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"sub":  "user-123",
		"role": "USER",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	rec := runAuth(a, authedRequest(token))
	assert.Equal(t, http.StatusOK, rec.Code)

	// A second request is served from the key cache; break the JWKS
	// endpoint to prove it.
	jwks.Close()
	rec = runAuth(a, authedRequest(token))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthAcceptsRoleList(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := newJWKSServer(t, "key-1", &key.PublicKey)
	a := NewAuthenticator(jwks.URL, zerolog.Nop())

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"roles": []string{"ADMIN", "USER"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	rec := runAuth(a, authedRequest(token))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejectsWrongRole(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := newJWKSServer(t, "key-1", &key.PublicKey)
	a := NewAuthenticator(jwks.URL, zerolog.Nop())

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"role": "VIEWER",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	rec := runAuth(a, authedRequest(token))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := newJWKSServer(t, "key-1", &key.PublicKey)
	a := NewAuthenticator(jwks.URL, zerolog.Nop())

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"role": "USER",
		"exp":  time.Now().Add(-time.Hour).Unix(),
	})

	rec := runAuth(a, authedRequest(token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := newJWKSServer(t, "key-1", &key.PublicKey)
	a := NewAuthenticator(jwks.URL, zerolog.Nop())

	token := signToken(t, key, "key-other", jwt.MapClaims{
		"role": "USER",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	rec := runAuth(a, authedRequest(token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsTokenWithoutExpiry(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := newJWKSServer(t, "key-1", &key.PublicKey)
	a := NewAuthenticator(jwks.URL, zerolog.Nop())

	token := signToken(t, key, "key-1", jwt.MapClaims{"role": "USER"})

	rec := runAuth(a, authedRequest(token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

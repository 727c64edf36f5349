package server

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// authCookie carries the dashboard session token.
const authCookie = "hqg_auth_token"

// requiredRole is the role claim a token must carry to run backtests.
const requiredRole = "USER"

// keyCacheSize bounds the parsed-key cache. The dashboard rotates keys
// rarely; a handful of slots covers rotation overlap.
const keyCacheSize = 4

// Authenticator validates dashboard-issued JWTs against a JWKS endpoint.
// With no endpoint configured it passes everything through, which is the
// local development mode.
type Authenticator struct {
	jwksURL string
	client  *http.Client
	log     zerolog.Logger

	mu    sync.Mutex
	cache map[string]*rsa.PublicKey
	order []string
}

// NewAuthenticator creates an authenticator for the given JWKS URL.
func NewAuthenticator(jwksURL string, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("component", "auth").Logger(),
		cache:   make(map[string]*rsa.PublicKey),
	}
}

// Middleware enforces authentication on everything below it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.jwksURL == "" {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(authCookie)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := a.verify(r.Context(), cookie.Value)
		if err != nil {
			a.log.Debug().Err(err).Msg("Token rejected")
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if !hasRole(claims, requiredRole) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return a.key(ctx, kid)
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

// key returns the RSA public key for a key id, fetching the JWKS on a
// cache miss.
func (a *Authenticator) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	a.mu.Lock()
	if key, ok := a.cache[kid]; ok {
		a.mu.Unlock()
		return key, nil
	}
	a.mu.Unlock()

	key, err := a.fetchKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.cache[kid]; !exists {
		a.cache[kid] = key
		a.order = append(a.order, kid)
		if len(a.order) > keyCacheSize {
			oldest := a.order[0]
			a.order = a.order[1:]
			delete(a.cache, oldest)
		}
	}
	return key, nil
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (a *Authenticator) fetchKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.jwksURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse JWKS: %w", err)
	}

	for _, k := range doc.Keys {
		if k.Kid == kid && k.Kty == "RSA" {
			return rsaKeyFromJWK(k)
		}
	}
	return nil, fmt.Errorf("no RSA key with kid %q in JWKS", kid)
}

func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

// hasRole accepts either a single role string or a list of roles.
func hasRole(claims jwt.MapClaims, role string) bool {
	switch v := claims["role"].(type) {
	case string:
		return v == role
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s == role {
				return true
			}
		}
	}
	switch v := claims["roles"].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s == role {
				return true
			}
		}
	}
	return false
}

package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthFinder decides whether a request is authorized to reach the admin
// HTTP surface. NilAuthFinder is the default: every request is
// authorized, appropriate when the surface is only reachable from a
// trusted network.
type AuthFinder interface {
	Authorize(r *http.Request) error
}

// NilAuthFinder authorizes every request.
type NilAuthFinder struct{}

func (NilAuthFinder) Authorize(r *http.Request) error { return nil }

// JWTAuthFinder requires a valid HS256 bearer token signed with secret.
type JWTAuthFinder struct {
	secret []byte
}

// NewJWTAuthFinder returns a JWTAuthFinder validating tokens against
// secret.
func NewJWTAuthFinder(secret string) *JWTAuthFinder {
	return &JWTAuthFinder{secret: []byte(secret)}
}

func (f *JWTAuthFinder) Authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return fmt.Errorf("httpapi: missing bearer token")
	}
	_, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("httpapi: unexpected signing method %v", t.Header["alg"])
		}
		return f.secret, nil
	})
	if err != nil {
		return fmt.Errorf("httpapi: invalid token: %w", err)
	}
	return nil
}

func authMiddleware(finder AuthFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := finder.Authorize(r); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

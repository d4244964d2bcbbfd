package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
)

// GeoLinkClaims are the JWT claims the API expects.
type GeoLinkClaims struct {
	jwt.RegisteredClaims
	PublicKey string `json:"public_key,omitempty"`
	Role      string `json:"role,omitempty"`
}

// JWTValidator validates HMAC-signed bearer tokens.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator returns nil when no secret is configured; the middleware
// then rejects bearer tokens (fail closed) while API keys keep working.
func NewJWTValidator(secret []byte) *JWTValidator {
	if len(secret) == 0 {
		return nil
	}
	return &JWTValidator{secret: secret}
}

// Validate parses and verifies a token string.
func (v *JWTValidator) Validate(tokenStr string) (*GeoLinkClaims, error) {
	claims := &GeoLinkClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// APIKeySource resolves an X-API-Key header to an Actor.
type APIKeySource interface {
	ActorForAPIKey(ctx context.Context, key string) (*Actor, error)
}

// publicPaths do not require authentication.
var publicPaths = []string{
	"/health",
	"/contracts/public",
	"/contracts/rules/public",
	"/contracts/nearby",
	"/contracts/execution-rules/locations/public",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware authenticates requests: a Bearer JWT or an X-API-Key header
// must resolve to a user. Fail closed when neither does.
func NewMiddleware(validator *JWTValidator, keys APIKeySource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" && keys != nil {
				actor, err := keys.ActorForAPIKey(r.Context(), apiKey)
				if err == nil && actor != nil {
					next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), *actor)))
					return
				}
				api.WriteUnauthorized(w, "Invalid API key")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header or X-API-Key")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if validator == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				api.WriteUnauthorized(w, "Token subject is required")
				return
			}

			actor := Actor{
				UserID:    claims.Subject,
				PublicKey: claims.PublicKey,
				Role:      claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

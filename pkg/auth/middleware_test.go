package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims GeoLinkClaims, secret []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func userClaims(sub string) GeoLinkClaims {
	return GeoLinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		PublicKey: "GDQP2KPQGKIHYJGXNUIYOMHARUARCA7DJT5FO2FFOOKY3B2WSQHG4W37",
		Role:      "wallet_provider",
	}
}

type stubKeys struct {
	actors map[string]*Actor
}

func (s *stubKeys) ActorForAPIKey(_ context.Context, key string) (*Actor, error) {
	a, ok := s.actors[key]
	if !ok {
		return nil, errors.New("unknown key")
	}
	return a, nil
}

func captureActor(t *testing.T, captured *Actor) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, err := GetActor(r.Context())
		require.NoError(t, err)
		*captured = a
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareBearerToken(t *testing.T) {
	var got Actor
	mw := NewMiddleware(NewJWTValidator(testSecret), nil)
	h := mw(captureActor(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/contracts", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, userClaims("u1"), testSecret))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "wallet_provider", got.Role)
	assert.NotEmpty(t, got.PublicKey)
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	mw := NewMiddleware(NewJWTValidator(testSecret), nil)
	h := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	expired := userClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noSubject := userClaims("")

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong secret", "Bearer " + signToken(t, userClaims("u1"), []byte("other"))},
		{"expired", "Bearer " + signToken(t, expired, testSecret)},
		{"no subject", "Bearer " + signToken(t, noSubject, testSecret)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/contracts", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMiddlewareAPIKey(t *testing.T) {
	var got Actor
	keys := &stubKeys{actors: map[string]*Actor{
		"good-key": {UserID: "u2", PublicKey: "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"},
	}}
	mw := NewMiddleware(nil, keys)
	h := mw(captureActor(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/contracts", nil)
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u2", got.UserID)

	req = httptest.NewRequest(http.MethodGet, "/contracts", nil)
	req.Header.Set("X-API-Key", "bad-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewarePublicPaths(t *testing.T) {
	mw := NewMiddleware(nil, nil)
	reached := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{
		"/health",
		"/contracts/public",
		"/contracts/rules/public",
		"/contracts/nearby",
		"/contracts/execution-rules/locations/public",
	} {
		reached = false
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.True(t, reached, path)
	}

	// Everything else fails closed without credentials.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewJWTValidatorEmptySecret(t *testing.T) {
	assert.Nil(t, NewJWTValidator(nil))

	// Bearer auth fails closed when no secret is configured.
	mw := NewMiddleware(NewJWTValidator(nil), nil)
	h := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/contracts", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, userClaims("u1"), testSecret))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActorKey(t *testing.T) {
	assert.Equal(t, "pk", Actor{UserID: "u", PublicKey: "pk"}.Key())
	assert.Equal(t, "u", Actor{UserID: "u"}.Key())
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testIssuer = "bikecoach.identity"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "u-1",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"activities:read", "activities:write"},
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeActivitiesRead))
	require.True(t, claims.HasScope(ScopeActivitiesWrite))
	require.False(t, claims.HasScope("admin"))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "u-1",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": "activities:read activities:write",
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeActivitiesRead))
}

func TestParseRejectsExpiredToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub": "u-1",
		"iss": testIssuer,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub": "u-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareSkipperBypassesAuth(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: testIssuer}, func(r *http.Request) bool {
		return r.URL.Path == "/healthz"
	})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/activities", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddlewareInjectsClaims(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: testIssuer}, nil)

	var got *Claims
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	signed := signToken(t, jwt.MapClaims{
		"sub":    "u-1",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"activities:read"},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	require.Equal(t, "u-1", got.Subject)
}

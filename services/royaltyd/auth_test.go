package royaltyd

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authStatus(t *testing.T, auth *Authenticator, method, header string) int {
	t.Helper()
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(method, "/v1/state", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestNewAuthenticatorRequiresMechanism(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{}, nil)
	require.Error(t, err)
}

func TestStaticBearerToken(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{BearerToken: "s3cret"}, nil)
	require.NoError(t, err)

	require.Equal(t, http.StatusNoContent, authStatus(t, auth, http.MethodGet, "Bearer s3cret"))
	require.Equal(t, http.StatusNoContent, authStatus(t, auth, http.MethodPost, "bearer  s3cret "))
	require.Equal(t, http.StatusUnauthorized, authStatus(t, auth, http.MethodGet, ""))
	require.Equal(t, http.StatusUnauthorized, authStatus(t, auth, http.MethodGet, "Bearer wrong"))
	require.Equal(t, http.StatusUnauthorized, authStatus(t, auth, http.MethodGet, "Basic s3cret"))
}

func TestJWTScopes(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: "jwt-secret", Issuer: "royalty-ops", Audience: "royaltyd"}, nil)
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).Unix()

	reader := signToken(t, "jwt-secret", jwt.MapClaims{"iss": "royalty-ops", "aud": "royaltyd", "exp": exp, "scope": ScopeRead})
	require.Equal(t, http.StatusNoContent, authStatus(t, auth, http.MethodGet, "Bearer "+reader))
	require.Equal(t, http.StatusForbidden, authStatus(t, auth, http.MethodPost, "Bearer "+reader))

	writer := signToken(t, "jwt-secret", jwt.MapClaims{"iss": "royalty-ops", "aud": []string{"royaltyd"}, "exp": exp, "scope": []string{ScopeRead, ScopeWrite}})
	require.Equal(t, http.StatusNoContent, authStatus(t, auth, http.MethodPost, "Bearer "+writer))
}

func TestJWTRejections(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: "jwt-secret", Issuer: "royalty-ops"}, nil)
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).Unix()

	cases := map[string]string{
		"wrong secret": signToken(t, "other", jwt.MapClaims{"iss": "royalty-ops", "exp": exp, "scope": ScopeRead}),
		"wrong issuer": signToken(t, "jwt-secret", jwt.MapClaims{"iss": "someone", "exp": exp, "scope": ScopeRead}),
		"expired":      signToken(t, "jwt-secret", jwt.MapClaims{"iss": "royalty-ops", "exp": time.Now().Add(-time.Hour).Unix(), "scope": ScopeRead}),
		"no expiry":    signToken(t, "jwt-secret", jwt.MapClaims{"iss": "royalty-ops", "scope": ScopeRead}),
		"malformed":    "not-a-jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, http.StatusUnauthorized, authStatus(t, auth, http.MethodGet, "Bearer "+token))
		})
	}
}

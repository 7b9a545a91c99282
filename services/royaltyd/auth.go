package royaltyd

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Scopes granted to admin callers. The static bearer token carries both.
const (
	ScopeRead  = "royaltyd:read"
	ScopeWrite = "royaltyd:write"
)

// AuthConfig describes admin authentication options.
type AuthConfig struct {
	BearerToken string
	HMACSecret  string
	Issuer      string
	Audience    string
	ClockSkew   time.Duration
}

type scopesKey struct{}

// Authenticator validates incoming admin requests against a static bearer
// token or an HS256 JWT.
type Authenticator struct {
	bearerToken []byte
	secret      []byte
	issuer      string
	audience    string
	skew        time.Duration
	logger      *slog.Logger
}

// NewAuthenticator constructs an Authenticator from configuration.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	secret := strings.TrimSpace(cfg.HMACSecret)
	if token == "" && secret == "" {
		return nil, fmt.Errorf("at least one authentication mechanism must be configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Authenticator{
		bearerToken: []byte(token),
		secret:      []byte(secret),
		issuer:      strings.TrimSpace(cfg.Issuer),
		audience:    strings.TrimSpace(cfg.Audience),
		skew:        skew,
		logger:      logger,
	}, nil
}

// Middleware enforces authentication and the scope the request method needs.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		token := parseBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		scopes, err := a.authenticate(token)
		if err != nil {
			a.logger.Warn("admin authentication failed", slog.String("route", r.URL.Path), slog.Any("error", err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		required := ScopeRead
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			required = ScopeWrite
		}
		if !hasScope(scopes, required) {
			http.Error(w, "insufficient scope", http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), scopesKey{}, scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(token string) ([]string, error) {
	if len(a.bearerToken) > 0 && subtle.ConstantTimeCompare([]byte(token), a.bearerToken) == 1 {
		return []string{ScopeRead, ScopeWrite}, nil
	}
	if len(a.secret) == 0 {
		return nil, errors.New("token mismatch")
	}
	return a.parseJWT(token)
}

func (a *Authenticator) parseJWT(raw string) ([]string, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.skew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	return extractScopes(claims), nil
}

// ScopesFromContext returns the scopes of the authenticated caller.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(scopesKey{}).([]string)
	return scopes
}

func extractScopes(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func parseBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(strings.TrimSpace(scheme), "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

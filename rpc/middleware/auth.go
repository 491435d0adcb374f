package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig controls bearer token validation.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   []string
	ScopeClaim string
	ClockSkew  time.Duration
}

// Claims is the authenticated identity attached to a request.
type Claims struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether the token carried scope.
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey string

const contextKeyClaims contextKey = "rpc.claims"

// ClaimsFromContext returns the claims stored by the auth middleware.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(contextKeyClaims).(Claims)
	return claims, ok
}

// WithClaims stores claims on a context.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Middleware rejects requests without a valid bearer token. Tokens must carry
// a subject; it identifies the position owner for every call.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.Parse(tokenString)
			if err != nil {
				a.logger.Warn("token validation failed", slog.String("error", err.Error()))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			for _, scope := range requiredScopes {
				if !claims.HasScope(scope) {
					http.Error(w, "insufficient scope", http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// Parse validates a token and extracts its claims.
func (a *Authenticator) Parse(tokenString string) (Claims, error) {
	if len(a.secret) == 0 {
		return Claims{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, errors.New("token invalid")
	}
	if len(a.cfg.Audience) > 0 {
		aud, err := mapClaims.GetAudience()
		if err != nil || !intersects(aud, a.cfg.Audience) {
			return Claims{}, errors.New("audience mismatch")
		}
	}
	subject, err := mapClaims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return Claims{}, errors.New("subject required")
	}
	return Claims{
		Subject: strings.TrimSpace(subject),
		Scopes:  extractScopes(mapClaims, a.cfg.ScopeClaim),
	}, nil
}

func intersects(have []string, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
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
	default:
		return nil
	}
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	coreerrors "afrochain/core/errors"
)

type AuthConfig struct {
	Enabled        bool
	HMACSecret     string
	Issuer         string
	Audience       string
	ScopeClaim     string
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type contextKey string

const principalKey contextKey = "gateway.principal"

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Subject string
	Scopes  []string
}

// PrincipalFrom returns the caller of an authenticated request.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Subject returns the token subject, or "anonymous" for unauthenticated
// requests. Idempotency keys and audit records are scoped by it.
func Subject(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok && p.Subject != "" {
		return p.Subject
	}
	return "anonymous"
}

// Authenticator verifies HMAC-signed bearer tokens and enforces scopes.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	parser *jwt.Parser
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
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger.With("component", "auth"),
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
	}
}

// Middleware rejects requests without a valid token carrying every required
// scope. Failures are written as CredentialError envelopes.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled || (a.cfg.AllowAnonymous && a.isOptional(r.URL.Path)) {
				next.ServeHTTP(w, r)
				return
			}
			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				writeError(w, http.StatusUnauthorized, coreerrors.Credential("missing bearer token"))
				return
			}
			principal, err := a.verify(raw)
			if err != nil {
				a.logger.Warn("token rejected", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusUnauthorized, coreerrors.Credential("invalid token"))
				return
			}
			if !hasScopes(principal.Scopes, requiredScopes) {
				writeError(w, http.StatusForbidden, coreerrors.Credential("insufficient scope"))
				return
			}
			noteSubject(r.Context(), principal.Subject)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
		})
	}
}

func (a *Authenticator) verify(raw string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, errors.New("auth secret not configured")
	}
	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return Principal{}, err
	}
	sub, _ := claims.GetSubject()
	return Principal{Subject: sub, Scopes: scopesOf(claims[a.cfg.ScopeClaim])}, nil
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// scopesOf accepts a space separated string or a JSON array.
func scopesOf(raw any) []string {
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []any:
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

func hasScopes(have, required []string) bool {
	for _, want := range required {
		found := false
		for _, scope := range have {
			if scope == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

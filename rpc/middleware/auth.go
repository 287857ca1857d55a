package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"brokerfund/crypto"
)

// AuthConfig configures bearer token verification. Tokens are HS256 signed
// and carry the caller address in the sub claim.
type AuthConfig struct {
	HMACSecret    string
	Issuer        string
	Audience      string
	OptionalPaths []string
	ClockSkew     time.Duration
}

type contextKey string

const contextKeyCaller contextKey = "brokerfund.caller"

// Authenticator validates bearer tokens and attaches the caller address to
// the request context.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

// NewAuthenticator returns an authenticator for cfg.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, logger: logger, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Middleware rejects requests without a valid token unless the path is
// optional.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.isOptional(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		caller, err := a.Verify(tokenString)
		if err != nil {
			a.logger.Warn("auth: token rejected", "error", err, "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// Verify parses tokenString and returns the caller address in its subject.
func (a *Authenticator) Verify(tokenString string) ([20]byte, error) {
	if len(a.secret) == 0 {
		return [20]byte{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return [20]byte{}, err
	}
	if !token.Valid {
		return [20]byte{}, errors.New("token invalid")
	}
	caller, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return [20]byte{}, err
	}
	if caller == ([20]byte{}) {
		return [20]byte{}, errors.New("zero subject")
	}
	return caller, nil
}

// IssueToken signs an HS256 token for caller valid for ttl.
func IssueToken(secret, issuer, audience string, caller [20]byte, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   crypto.FormatAddress(crypto.FundPrefix, caller),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// WithCaller stores the authenticated caller on ctx.
func WithCaller(ctx context.Context, caller [20]byte) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// Caller returns the authenticated caller stored on ctx.
func Caller(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(contextKeyCaller).([20]byte)
	return caller, ok
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}

package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate/jwt"
)

// Verifier checks a bearer token. *authgate.Engine satisfies it.
type Verifier interface {
	// VerifyAccess applies the gate's kind policy.
	VerifyAccess(token string) (*jwt.Claims, error)
	// Verify accepts either token kind.
	Verify(token string) (*jwt.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by a guard.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return claims, ok && claims != nil
}

// Option configures Guard.
type Option func(*guardOptions)

type guardOptions struct {
	anyKind bool
	logger  *slog.Logger
}

// WithAnyKind makes the guard accept refresh tokens as well as access tokens.
func WithAnyKind() Option {
	return func(o *guardOptions) { o.anyKind = true }
}

// WithLogger sets where rejections are logged at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *guardOptions) { o.logger = logger }
}

// Guard returns middleware that rejects requests without a valid bearer
// token. The downstream handler runs only for verified requests and its
// response passes through unchanged.
func Guard(verifier Verifier, opts ...Option) func(http.Handler) http.Handler {
	o := guardOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	verify := func(token string) (*jwt.Claims, error) {
		if o.anyKind {
			return verifier.Verify(token)
		}
		return verifier.VerifyAccess(token)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				unauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				o.logger.DebugContext(r.Context(), "gate rejected request", "path", r.URL.Path, "reason", "missing bearer token")
				unauthorized(w)
				return
			}

			claims, err := verify(token)
			if err != nil {
				o.logger.DebugContext(r.Context(), "gate rejected request", "path", r.URL.Path, "error", err)
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

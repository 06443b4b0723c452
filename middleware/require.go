package middleware

import (
	"net/http"

	"github.com/MrEthical07/authgate"
)

// RequireAuth gates a handler with the engine's default kind policy.
func RequireAuth(engine *authgate.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(verifierOf(engine), opts...)
}

// RequireAnyKind gates a handler accepting both access and refresh tokens.
func RequireAnyKind(engine *authgate.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(verifierOf(engine), append(opts, WithAnyKind())...)
}

// A nil *Engine must reach Guard as a nil interface so requests are rejected
// without a call.
func verifierOf(engine *authgate.Engine) Verifier {
	if engine == nil {
		return nil
	}
	return engine
}

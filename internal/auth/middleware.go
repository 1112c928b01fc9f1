package auth

import (
	"net/http"

	authlib "example.com/reserve/pkg/auth"
)

// Middleware enforces bearer-token authentication on incoming requests.
type Middleware struct {
	inner authlib.Middleware
}

// NewMiddleware constructs Middleware with validation config. Health and
// metrics endpoints stay public; onError renders rejected requests.
func NewMiddleware(cfg Config, onError authlib.ErrorWriter) Middleware {
	inner := authlib.NewMiddleware(cfg, authlib.SkipPaths("/healthz", "/metrics"))
	inner.OnError = onError
	return Middleware{inner: inner}
}

// Wrap attaches authentication handling to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return m.inner.Wrap(next)
}

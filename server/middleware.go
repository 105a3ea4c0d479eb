package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/guard"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyPrincipal stores the authenticated *auth.Principal
	ContextKeyPrincipal ContextKey = "principal"
	// ContextKeyStrategy stores the guard.Strategy that admitted the request
	ContextKeyStrategy ContextKey = "strategy"
)

// PrincipalFromContext returns the principal stored by RequireGuard.
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(*auth.Principal)
	return p, ok && p != nil
}

// RequireGuard admits a request only when g authenticates it.
func (s *Server) RequireGuard(g *guard.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempt := g.Check(r.Context(), RequestContext(r, s.config.GetSessionCookie()))
			if !attempt.Authenticated() {
				s.writeError(w, r, attempt.Err())
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, attempt.Principal())
			ctx = context.WithValue(ctx, ContextKeyStrategy, attempt.Strategy())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggingMiddleware logs each request with its status and latency. In DEV the
// method and status are coloured.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.env == "DEV" {
			s.log.Debug().Msg(fmt.Sprintf("[%-19s] %s %s%d%s %s",
				colourMethod(r.Method), r.URL.Path, statusColor(status), status, ResetColor, time.Since(start)))
			return
		}
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

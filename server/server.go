// Package server exposes the guards over HTTP: a JSON login/refresh/logout
// API backed by the session guard and protected routes for each strategy.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/cognito-guard/guard"
	"github.com/jrsteele09/cognito-guard/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env      string
	router   chi.Router
	routes   []string
	config   config.Config
	guards   map[guard.Strategy]*guard.Guard
	validate *validator.Validate
	log      zerolog.Logger
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func New(c config.Config, guards map[guard.Strategy]*guard.Guard, options ...Option) (*Server, error) {
	if c == nil {
		return nil, errors.New("[server.New] config is required")
	}
	if len(guards) == 0 {
		return nil, errors.New("[server.New] at least one guard is required")
	}

	s := &Server{
		env:      c.GetEnv(),
		router:   chi.NewRouter(),
		config:   c,
		guards:   guards,
		validate: validator.New(),
		log:      log.Logger.With().Str("component", "server").Logger(),
	}
	for _, opt := range options {
		opt(s)
	}

	s.router.Use(middleware.RequestID, middleware.RealIP, s.LoggingMiddleware, middleware.Recoverer)
	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(method, pattern string, handler http.HandlerFunc, mw ...func(http.Handler) http.Handler) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.With(mw...).MethodFunc(method, pattern, handler)
}

// sessionGuard returns the guard that owns login sessions, falling back to
// the token guard when only bearer authentication is configured.
func (s *Server) sessionGuard() *guard.Guard {
	if g, ok := s.guards[guard.SessionStrategy]; ok {
		return g
	}
	return s.guards[guard.TokenStrategy]
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, _ := strings.Cut(route, " ")
		s.logRoute(method, path)
	}
}

func (s *Server) logRoute(method, path string) {
	s.log.Debug().Msg(fmt.Sprintf("[%-19s] %s", colourMethod(method), path))
}

func colourMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

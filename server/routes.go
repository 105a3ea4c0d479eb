package server

import (
	"net/http"

	"github.com/jrsteele09/cognito-guard/guard"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc(http.MethodGet, RouteHealth, s.HealthHandler())

	s.RegisterRouteFunc(http.MethodPost, RouteAuthLogin, s.LoginHandler())
	s.RegisterRouteFunc(http.MethodPost, RouteAuthRefresh, s.RefreshHandler())
	s.RegisterRouteFunc(http.MethodPost, RouteAuthLogout, s.LogoutHandler())

	if g, ok := s.guards[guard.TokenStrategy]; ok {
		s.RegisterRouteFunc(http.MethodGet, RouteAPIMe, s.MeHandler(), s.RequireGuard(g))
	}
	if g, ok := s.guards[guard.SessionStrategy]; ok {
		s.RegisterRouteFunc(http.MethodGet, RouteSessionMe, s.MeHandler(), s.RequireGuard(g))
	}
}

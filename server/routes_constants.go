package server

// Route path constants
const (
	RouteHealth = "/healthz"

	// Auth Routes
	RouteAuthLogin   = "/auth/login"
	RouteAuthRefresh = "/auth/refresh"
	RouteAuthLogout  = "/auth/logout"

	// Protected Routes
	RouteAPIMe     = "/api/me"
	RouteSessionMe = "/session/me"
)

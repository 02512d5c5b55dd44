package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.LoggingMiddleware)
	s.router.Use(s.RecoverMiddleware)
	s.router.Use(FrameSecurityMiddleware)

	s.RegisterRoute(http.MethodGet, RouteSession, s.handleSession)
	s.RegisterRoute(http.MethodPost, RouteSessionRefresh, s.handleRefresh, s.RequireSession)
	s.RegisterRoute(http.MethodPost, RouteLogout, s.handleLogout)

	s.RegisterRoute(http.MethodGet, RouteAuthLogin, s.handleLogin)
	s.RegisterRoute(http.MethodGet, RouteCallback, s.handleCallback)

	s.RegisterRoute(http.MethodGet, RouteAPIMe, s.handleMe,
		s.RequireSession,
		s.RequireRoles(s.meGuard.Allowed, s.meGuard.Disabled),
	)
}

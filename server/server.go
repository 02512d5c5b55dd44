// Package server exposes a Manager over HTTP for a backend-for-frontend:
// session inspection, login and logout redirects, and role-guarded routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-session-keeper/claims"
	"github.com/jrsteele09/go-session-keeper/idp"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/lifecycle"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionManager is the part of lifecycle.Manager the HTTP surface uses.
type SessionManager interface {
	InitializeSession(ctx context.Context, idpHint string) (bool, error)
	InitializeToken(ctx context.Context, scheduleRefresh, forceLogin bool) (lifecycle.SyncResult, error)
	CompleteLogin(ctx context.Context, code, state string) (lifecycle.SyncResult, error)
	RefreshToken(ctx context.Context, force bool) (bool, error)
	AccessToken(ctx context.Context) (string, error)
	Logout(ctx context.Context, redirectURL string) error
	UserInfo() claims.Claims
	VerifyRoles(allowed, disabled []string) bool
	State() lifecycle.State
}

var _ SessionManager = (*lifecycle.Manager)(nil)

// RoleGuard restricts a route. A nil slice means the list was not supplied.
type RoleGuard struct {
	Allowed  []string
	Disabled []string
}

type Server struct {
	env     string
	router  chi.Router
	routes  []string
	config  config.EnvConfig
	manager SessionManager
	logger  zerolog.Logger
	meGuard RoleGuard
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMeGuard sets the roles checked on the profile API route.
func WithMeGuard(g RoleGuard) Option {
	return func(s *Server) {
		s.meGuard = g
	}
}

func New(cfg config.EnvConfig, manager SessionManager, opts ...Option) *Server {
	s := &Server{
		env:     cfg.GetEnv(),
		router:  chi.NewRouter(),
		config:  cfg,
		manager: manager,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "server").Logger()

	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RegisterRoute mounts handler behind the route middleware mw, applied in order.
func (s *Server) RegisterRoute(method, pattern string, handler http.HandlerFunc, mw ...func(http.Handler) http.Handler) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, ChainMiddleware(handler, mw...))
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	s.logger.Debug().Msgf("[%s] %s", color+paddedMethod+ResetColor, path)
}

// homeURL is where the browser lands after login and logout.
func (s *Server) homeURL() string {
	return s.config.GetBaseURL() + s.config.GetBasePath()
}

// captureNavigation runs fn with a navigator that records the provider URL
// instead of visiting it, and returns that URL.
func captureNavigation(ctx context.Context, fn func(ctx context.Context) error) (string, error) {
	nav := &idp.CaptureNavigator{}
	err := fn(idp.WithNavigator(ctx, nav))
	return nav.URL(), err
}

package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-session-keeper/lifecycle"
)

// RequireSession lets the request through only with a live session. A manager
// with no session resumes from storage with check-sso, so no login is started
// from here. A refresh in flight still counts as live and is left alone. The
// validated access token is put in the request context.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if st := s.manager.State(); st != lifecycle.StateAuthenticated && st != lifecycle.StateRefreshing {
			res, err := s.manager.InitializeToken(ctx, true, false)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if !res.Authenticated() {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "no active session")
				return
			}
		}

		token, err := s.manager.AccessToken(ctx)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, contextKeyAccessToken, token)))
	})
}

// RequireRoles answers 403 when the session user fails the role check.
// It must run after RequireSession.
func (s *Server) RequireRoles(allowed, disabled []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.manager.VerifyRoles(allowed, disabled) {
				s.logger.Info().
					Str("request_id", RequestIDFromContext(r.Context())).
					Str("path", r.URL.Path).
					Msg("Role check denied access")
				writeJSONError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

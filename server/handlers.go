package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-session-keeper/claims"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
)

type sessionResponse struct {
	State         string         `json:"state"`
	Authenticated bool           `json:"authenticated"`
	User          *claims.Claims `json:"user,omitempty"`
}

// handleSession reports the session without starting one.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	resp := sessionResponse{State: s.manager.State().String()}
	if info := s.manager.UserInfo(); !info.IsZero() {
		resp.Authenticated = true
		resp.User = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get(ParamForce) == "true"
	refreshed, err := s.manager.RefreshToken(r.Context(), force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": refreshed})
}

// handleLogin starts a login, optionally pinned to one identity provider, and
// redirects the browser to the provider.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	hint := r.URL.Query().Get(ParamIdP)

	var authenticated bool
	target, err := captureNavigation(r.Context(), func(ctx context.Context) error {
		var err error
		authenticated, err = s.manager.InitializeSession(ctx, hint)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if authenticated || target == "" {
		http.Redirect(w, r, s.homeURL(), http.StatusFound)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get(ParamError); providerErr != "" {
		s.logger.Warn().
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("error", providerErr).
			Msg("Provider rejected the login")
		writeJSONError(w, http.StatusUnauthorized, providerErr, q.Get("error_description"))
		return
	}

	res, err := s.manager.CompleteLogin(r.Context(), q.Get(ParamCode), q.Get(ParamState))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res.Authenticated() {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "login did not produce a session")
		return
	}
	http.Redirect(w, r, s.homeURL(), http.StatusFound)
}

// handleLogout ends the session and returns the provider logout URL for the
// browser to follow.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	redirectURL := r.URL.Query().Get(ParamRedirectURI)
	target, err := captureNavigation(r.Context(), func(ctx context.Context) error {
		return s.manager.Logout(ctx, redirectURL)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if target == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect": target})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.UserInfo())
}

// writeError maps session errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "server_error"
	switch {
	case errors.Is(err, errors.ErrNotAuthenticated),
		errors.Is(err, errors.ErrRefreshTokenExpired),
		errors.Is(err, errors.ErrRefreshFailed):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errors.ErrInvalidState):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errors.ErrSessionSuperseded):
		status, code = http.StatusConflict, "session_superseded"
	case errors.Is(err, errors.ErrProviderInit),
		errors.Is(err, errors.ErrProviderDiscovery),
		errors.Is(err, errors.ErrLogoutFailed):
		status, code = http.StatusBadGateway, "provider_error"
	}

	ev := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).
		Str("request_id", RequestIDFromContext(r.Context())).
		Int("status", status).
		Msg("Request failed")
	writeJSONError(w, status, code, http.StatusText(status))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}

package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-session-keeper/idp"
	"github.com/jrsteele09/go-session-keeper/idp/idpfake"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/lifecycle"
	"github.com/jrsteele09/go-session-keeper/server"
	"github.com/jrsteele09/go-session-keeper/sessionstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *sessionstore.MemoryStore
	factory *idpfake.Factory
	manager *lifecycle.Manager
	handler http.Handler
}

func newFixture(t *testing.T, configure func(c *idpfake.FakeClient), opts ...server.Option) *fixture {
	t.Helper()
	cfg := config.New()
	f := &fixture{
		store:   sessionstore.NewMemoryStore(),
		factory: &idpfake.Factory{Configure: configure},
	}
	f.manager = lifecycle.New(f.store, f.factory.New, cfg, lifecycle.WithLogger(zerolog.Nop()))
	t.Cleanup(f.manager.Close)
	f.handler = server.New(cfg, f.manager, append([]server.Option{server.WithLogger(zerolog.Nop())}, opts...)...)
	return f
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func accessToken(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	rs := make([]any, 0, len(roles))
	for _, r := range roles {
		rs = append(rs, r)
	}
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":                sub,
		"preferred_username": sub,
		"exp":                time.Now().Add(time.Hour).Unix(),
		"realm_access":       map[string]any{"roles": rs},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func liveSession(t *testing.T, sub string, roles ...string) idpfake.Session {
	return idpfake.Session{
		Tokens: idp.Tokens{
			AccessToken:  accessToken(t, sub, roles...),
			RefreshToken: "refresh-" + sub,
			IDToken:      "id-" + sub,
		},
		TokenExpiry: time.Now().Add(time.Hour),
	}
}

func storedSession(t *testing.T, sub string, roles ...string) func(c *idpfake.FakeClient) {
	s := liveSession(t, sub, roles...)
	return func(c *idpfake.FakeClient) {
		c.InitAuthenticated = true
		c.InitSession = s
		c.RefreshSession = s
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestSession(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodGet, server.RouteSession)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		body := decode(t, rec)
		require.Equal(t, "uninitialized", body["state"])
		require.Equal(t, false, body["authenticated"])
		require.Empty(t, f.factory.Created())
	})

	t.Run("inbound request id is kept", func(t *testing.T) {
		f := newFixture(t, nil)
		req := httptest.NewRequest(http.MethodGet, server.RouteSession, nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	})

	t.Run("authenticated session", func(t *testing.T) {
		f := newFixture(t, storedSession(t, "jdoe", "staff"))
		_, err := f.manager.InitializeToken(context.Background(), false, false)
		require.NoError(t, err)

		body := decode(t, f.do(t, http.MethodGet, server.RouteSession))
		require.Equal(t, "authenticated", body["state"])
		require.Equal(t, true, body["authenticated"])
		user := body["user"].(map[string]any)
		require.Equal(t, "jdoe", user["sub"])
	})
}

func TestRequireSession(t *testing.T) {
	t.Run("no stored session is unauthorized", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodGet, server.RouteAPIMe)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "unauthorized", decode(t, rec)["error"])

		client := f.factory.Last()
		require.Equal(t, idp.LoadCheckSSO, client.Inits()[0].OnLoad)
		require.Empty(t, client.Logins())
	})

	t.Run("stored session is resumed", func(t *testing.T) {
		f := newFixture(t, storedSession(t, "jdoe", "staff"))
		rec := f.do(t, http.MethodGet, server.RouteAPIMe)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "jdoe", decode(t, rec)["username"])
		require.Equal(t, lifecycle.StateAuthenticated, f.manager.State())

		// the second request reuses the live session
		require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, server.RouteAPIMe).Code)
		require.Len(t, f.factory.Created(), 1)
	})

	t.Run("refresh in flight keeps the session", func(t *testing.T) {
		gate := make(chan struct{})
		stored := storedSession(t, "jdoe", "staff")
		f := newFixture(t, func(c *idpfake.FakeClient) {
			stored(c)
			c.RefreshGate = gate
		})
		require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, server.RouteAPIMe).Code)

		done := make(chan error, 1)
		go func() {
			_, err := f.manager.RefreshToken(context.Background(), true)
			done <- err
		}()
		require.Eventually(t, func() bool {
			return f.manager.State() == lifecycle.StateRefreshing
		}, time.Second, time.Millisecond)

		rec := f.do(t, http.MethodGet, server.RouteAPIMe)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "jdoe", decode(t, rec)["username"])
		require.Len(t, f.factory.Created(), 1)
		require.Len(t, f.factory.Last().Inits(), 1)

		close(gate)
		require.NoError(t, <-done)
		require.Equal(t, lifecycle.StateAuthenticated, f.manager.State())
	})

	t.Run("provider failure", func(t *testing.T) {
		f := newFixture(t, func(c *idpfake.FakeClient) { c.InitErr = fmt.Errorf("down") })
		require.Equal(t, http.StatusBadGateway, f.do(t, http.MethodGet, server.RouteAPIMe).Code)
	})
}

func TestRequireRoles(t *testing.T) {
	tests := []struct {
		name  string
		guard server.RoleGuard
		roles []string
		want  int
	}{
		{name: "no guard", roles: []string{"staff"}, want: http.StatusOK},
		{name: "allowed role", guard: server.RoleGuard{Allowed: []string{"admin"}}, roles: []string{"admin"}, want: http.StatusOK},
		{name: "missing allowed role", guard: server.RoleGuard{Allowed: []string{"admin"}}, roles: []string{"staff"}, want: http.StatusForbidden},
		{name: "disabled role", guard: server.RoleGuard{Disabled: []string{"suspended"}}, roles: []string{"suspended"}, want: http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, storedSession(t, "jdoe", tc.roles...), server.WithMeGuard(tc.guard))
			require.Equal(t, tc.want, f.do(t, http.MethodGet, server.RouteAPIMe).Code)
		})
	}
}

func TestLoginFlow(t *testing.T) {
	t.Run("login redirects to the hinted provider", func(t *testing.T) {
		f := newFixture(t, func(c *idpfake.FakeClient) {
			c.InitSession = liveSession(t, "jdoe")
		})

		rec := f.do(t, http.MethodGet, server.RouteAuthLogin+"?idp=github")
		require.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(loc.String(), idpfake.LoginURL))
		require.Equal(t, "github", loc.Query().Get("kc_idp_hint"))

		rec = f.do(t, http.MethodGet, server.RouteCallback+"?code=abc&state=xyz")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "http://localhost:8080/", rec.Header().Get("Location"))
		require.Equal(t, []string{"abc"}, f.factory.Last().CallbackCalls)

		v, ok, err := f.store.Get(context.Background(), sessionstore.KeyAccessToken)
		require.NoError(t, err)
		require.True(t, ok)
		require.NotEmpty(t, v)
	})

	t.Run("provider error on callback", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodGet, server.RouteCallback+"?error=access_denied&error_description=user+cancelled")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "access_denied", decode(t, rec)["error"])
	})

	t.Run("callback without a login", func(t *testing.T) {
		f := newFixture(t, nil)
		require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, server.RouteCallback+"?code=abc&state=xyz").Code)
	})

	t.Run("login with provider down", func(t *testing.T) {
		f := newFixture(t, func(c *idpfake.FakeClient) { c.InitErr = fmt.Errorf("down") })
		require.Equal(t, http.StatusBadGateway, f.do(t, http.MethodGet, server.RouteAuthLogin).Code)
	})
}

func TestLogout(t *testing.T) {
	t.Run("without a session", func(t *testing.T) {
		f := newFixture(t, nil)
		require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, server.RouteLogout).Code)
	})

	t.Run("returns the provider logout url", func(t *testing.T) {
		f := newFixture(t, storedSession(t, "jdoe"))
		_, err := f.manager.InitializeToken(context.Background(), true, false)
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, server.RouteLogout+"?redirect_uri="+url.QueryEscape("https://app.example.com/bye"))
		require.Equal(t, http.StatusOK, rec.Code)
		redirect, err := url.Parse(decode(t, rec)["redirect"].(string))
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(redirect.String(), idpfake.LogoutURL))
		require.Equal(t, "https://app.example.com/bye", redirect.Query().Get("post_logout_redirect_uri"))

		body := decode(t, f.do(t, http.MethodGet, server.RouteSession))
		require.Equal(t, "cleared", body["state"])
		require.Equal(t, false, body["authenticated"])
	})

	t.Run("provider failure", func(t *testing.T) {
		f := newFixture(t, func(c *idpfake.FakeClient) {
			storedSession(t, "jdoe")(c)
			c.LogoutErr = fmt.Errorf("unreachable")
		})
		require.NoError(t, f.store.Set(context.Background(), sessionstore.KeyAccessToken, "a"))
		require.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, server.RouteLogout).Code)
	})
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, storedSession(t, "jdoe"))

	rec := f.do(t, http.MethodPost, server.RouteSessionRefresh+"?force=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["refreshed"])
	require.Equal(t, []int{-1}, f.factory.Last().Updates())

	t.Run("no session", func(t *testing.T) {
		empty := newFixture(t, nil)
		require.Equal(t, http.StatusUnauthorized, empty.do(t, http.MethodPost, server.RouteSessionRefresh).Code)
	})
}

package idp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-session-keeper/idp"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func serveDoc(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestLoadSettings(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		body string
		want idp.Settings
	}{
		{
			name: "installation layout",
			body: `{"realm":"corp","auth-server-url":"https://sso.example.com/","resource":"web-app","credentials":{"secret":"s"}}`,
			want: idp.Settings{URL: "https://sso.example.com/", Realm: "corp", ClientID: "web-app", Secret: "s"},
		},
		{
			name: "adapter layout",
			body: `{"url":"https://sso.example.com","realm":"corp","clientId":"spa"}`,
			want: idp.Settings{URL: "https://sso.example.com", Realm: "corp", ClientID: "spa"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := idp.LoadSettings(ctx, nil, serveDoc(t, http.StatusOK, tc.body))
			require.NoError(t, err)
			require.Equal(t, tc.want, s)
			require.Equal(t, "https://sso.example.com/realms/corp", s.Issuer())
		})
	}

	t.Run("missing realm", func(t *testing.T) {
		_, err := idp.LoadSettings(ctx, nil, serveDoc(t, http.StatusOK, `{"url":"https://sso.example.com","clientId":"spa"}`))
		require.ErrorIs(t, err, errors.ErrInvalidSettings)
	})

	t.Run("malformed document", func(t *testing.T) {
		_, err := idp.LoadSettings(ctx, nil, serveDoc(t, http.StatusOK, `{`))
		require.ErrorIs(t, err, errors.ErrInvalidSettings)
	})

	t.Run("endpoint failure", func(t *testing.T) {
		_, err := idp.LoadSettings(ctx, nil, serveDoc(t, http.StatusInternalServerError, ``))
		require.ErrorIs(t, err, errors.ErrProviderDiscovery)
	})
}

func TestNavigators(t *testing.T) {
	ctx := context.Background()

	t.Run("http navigator accepts a redirect", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://app.example.com/", http.StatusFound)
		}))
		defer srv.Close()
		require.NoError(t, idp.HTTPNavigator{Client: srv.Client()}.Navigate(ctx, srv.URL))
	})

	t.Run("http navigator reports provider errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		require.Error(t, idp.HTTPNavigator{}.Navigate(ctx, srv.URL))
	})

	t.Run("context navigator wins over the fallback", func(t *testing.T) {
		p := newTestProvider(t)
		cfg := p.config()
		fallback := &idp.CaptureNavigator{}
		cfg.Navigator = fallback
		c := idp.NewOIDCClient(cfg)

		var got string
		nav := idp.NavigatorFunc(func(_ context.Context, target string) error {
			got = target
			return nil
		})
		require.NoError(t, c.Login(idp.WithNavigator(ctx, nav), idp.LoginOptions{}))
		require.NotEmpty(t, got)
		require.Empty(t, fallback.URL())
	})

	t.Run("log navigator", func(t *testing.T) {
		require.NoError(t, idp.LogNavigator{Logger: zerolog.Nop()}.Navigate(ctx, "https://sso.example.com/"))
	})
}

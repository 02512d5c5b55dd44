package sessionstore_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/jrsteele09/go-session-keeper/sessionstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSealedStore(t *testing.T) {
	ctx := context.Background()
	key := bytes.Repeat([]byte{7}, 32)

	t.Run("contract", func(t *testing.T) {
		s, err := sessionstore.NewSealedStore(sessionstore.NewMemoryStore(), key, zerolog.Nop())
		require.NoError(t, err)
		exerciseStore(t, s)
	})

	t.Run("values are encrypted at rest", func(t *testing.T) {
		inner := sessionstore.NewMemoryStore()
		s, err := sessionstore.NewSealedStore(inner, key, zerolog.Nop(), sessionstore.KeyLogoutGatewayURL)
		require.NoError(t, err)

		require.NoError(t, s.Set(ctx, sessionstore.KeyAccessToken, "secret-access"))
		require.NoError(t, s.Set(ctx, sessionstore.KeyLogoutGatewayURL, "https://gw.example.com"))

		raw, ok, err := inner.Get(ctx, sessionstore.KeyAccessToken)
		require.NoError(t, err)
		require.True(t, ok)
		require.NotContains(t, raw, "secret-access")

		raw, _, _ = inner.Get(ctx, sessionstore.KeyLogoutGatewayURL)
		require.Equal(t, "https://gw.example.com", raw)

		v, ok, err := s.Get(ctx, sessionstore.KeyAccessToken)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "secret-access", v)
	})

	t.Run("tampered or swapped values read as absent", func(t *testing.T) {
		inner := sessionstore.NewMemoryStore()
		s, err := sessionstore.NewSealedStore(inner, key, zerolog.Nop())
		require.NoError(t, err)

		require.NoError(t, s.Set(ctx, sessionstore.KeyAccessToken, "access"))
		sealed, _, _ := inner.Get(ctx, sessionstore.KeyAccessToken)
		require.NoError(t, inner.Set(ctx, sessionstore.KeyRefreshToken, sealed))
		require.NoError(t, inner.Set(ctx, sessionstore.KeyIDToken, "not-base64!"))

		_, ok, err := s.Get(ctx, sessionstore.KeyRefreshToken)
		require.NoError(t, err)
		require.False(t, ok)

		_, ok, err = s.Get(ctx, sessionstore.KeyIDToken)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("bad key", func(t *testing.T) {
		_, err := sessionstore.NewSealedStore(sessionstore.NewMemoryStore(), []byte("short"), zerolog.Nop())
		require.Error(t, err)

		_, err = sessionstore.ParseSealKey("zz")
		require.Error(t, err)

		k, err := sessionstore.ParseSealKey("0707070707070707070707070707070707070707070707070707070707070707")
		require.NoError(t, err)
		require.Equal(t, key, k)
	})
}

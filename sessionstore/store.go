// Package sessionstore persists the fields of a single session with a
// session-scoped lifetime.
package sessionstore

import (
	"context"
	"strconv"
)

// Keys of the session fields.
const (
	KeyAccessToken        = "kc_token"
	KeyRefreshToken       = "kc_refresh_token"
	KeyIDToken            = "kc_id_token"
	KeySessionSynced      = "session_synced"
	KeyPreventStorageSync = "prevent_storage_sync"
	KeyLogoutGatewayURL   = "logout_gateway_url"
)

// TokenKeys lists the credential keys, in the order they are written.
var TokenKeys = []string{KeyAccessToken, KeyRefreshToken, KeyIDToken}

// Store is a key/value persistence capability scoped to one session.
// Get reports ok=false for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// GetBool reads a flag written by SetBool. Absent or malformed values are false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return b, nil
}

// SetBool stores a flag as "true" or "false".
func SetBool(ctx context.Context, s Store, key string, value bool) error {
	return s.Set(ctx, key, strconv.FormatBool(value))
}

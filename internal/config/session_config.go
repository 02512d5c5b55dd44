package config

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-keeper/internal/errors"
)

const (
	idpConfigURLVar        = "IDP_CONFIG_URL"
	logoutGatewayURLVar    = "LOGOUT_GATEWAY_URL"
	clientSecretVar        = "IDP_CLIENT_SECRET"
	minEarlyRefreshVar     = "MIN_EARLY_REFRESH_SECONDS"
	refreshSafetyBufferVar = "REFRESH_SAFETY_BUFFER_SECONDS"
	navigatorVar           = "IDP_NAVIGATOR"
)

const (
	NavigatorLog  = "log"
	NavigatorHTTP = "http"
)

type SessionConfig interface {
	GetIdPConfigURL() string
	GetLogoutGatewayURL() string
	GetClientSecret() string
	GetMinEarlyRefresh() time.Duration
	GetRefreshSafetyBuffer() time.Duration
	GetNavigator() string
}

type Session struct {
	src *source
}

var _ SessionConfig = Session{}

// idpConfigURL is process-wide and may only be set once.
var idpConfigURL struct {
	mu    sync.Mutex
	value string
}

// SetIdPConfigURL pins the identity provider configuration endpoint for the whole process.
func SetIdPConfigURL(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.ErrConfigURLMissing
	}

	idpConfigURL.mu.Lock()
	defer idpConfigURL.mu.Unlock()
	if idpConfigURL.value != "" && idpConfigURL.value != url {
		return errors.ErrConfigURLAlreadySet
	}
	idpConfigURL.value = url
	return nil
}

// GetIdPConfigURL returns the pinned URL, falling back to IDP_CONFIG_URL
func (s Session) GetIdPConfigURL() string {
	idpConfigURL.mu.Lock()
	v := idpConfigURL.value
	idpConfigURL.mu.Unlock()
	if v != "" {
		return v
	}
	return s.src.get(idpConfigURLVar, "")
}

// GetLogoutGatewayURL returns the optional external logout gateway. Empty means none.
func (s Session) GetLogoutGatewayURL() string {
	return s.src.get(logoutGatewayURLVar, "")
}

func (s Session) GetClientSecret() string {
	return s.src.get(clientSecretVar, "")
}

// GetMinEarlyRefresh is the smallest margin before access token expiry at which a refresh fires
func (s Session) GetMinEarlyRefresh() time.Duration {
	return s.seconds(minEarlyRefreshVar, 10)
}

// GetRefreshSafetyBuffer is added to the remaining validity on on-demand refreshes
func (s Session) GetRefreshSafetyBuffer() time.Duration {
	return s.seconds(refreshSafetyBufferVar, 100)
}

// GetNavigator selects how provider URLs reach the user agent outside an HTTP request:
// "log" prints them, "http" visits them directly (headless logout).
func (s Session) GetNavigator() string {
	return strings.ToLower(s.src.get(navigatorVar, NavigatorLog))
}

func (s Session) seconds(name string, def int) time.Duration {
	n, err := strconv.Atoi(s.src.get(name, strconv.Itoa(def)))
	if err != nil || n < 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

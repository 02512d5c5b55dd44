// Package idp hides the identity provider behind the small capability surface
// the session lifecycle needs: init, token update, login and logout.
package idp

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// SecondsUntil is expiry - now + skew in whole seconds, truncated toward the past.
func SecondsUntil(expiry, now time.Time, skew int) int {
	return int(math.Floor(expiry.Sub(now).Seconds())) + skew
}

// LoadMode selects what Init does when no session can be resumed.
type LoadMode string

const (
	// LoadLoginRequired navigates to the provider login page.
	LoadLoginRequired LoadMode = "login-required"
	// LoadCheckSSO only reports whether a session exists.
	LoadCheckSSO LoadMode = "check-sso"
)

// PKCEMethodS256 is the only code challenge method used.
const PKCEMethodS256 = "S256"

// InitOptions is the option shape understood by OpenID-Connect/Keycloak style
// adapters. Field names follow the adapter's JSON init options.
type InitOptions struct {
	OnLoad           LoadMode `json:"onLoad"`
	CheckLoginIframe bool     `json:"checkLoginIframe"`
	TimeSkew         *int     `json:"timeSkew,omitempty"`
	Token            string   `json:"token,omitempty"`
	RefreshToken     string   `json:"refreshToken,omitempty"`
	IDToken          string   `json:"idToken,omitempty"`
	PKCEMethod       string   `json:"pkceMethod"`
}

// NewInitOptions returns the options used for every init: no login iframe,
// zero initial clock skew and S256 PKCE.
func NewInitOptions(mode LoadMode, tokens Tokens) InitOptions {
	skew := 0
	return InitOptions{
		OnLoad:           mode,
		CheckLoginIframe: false,
		TimeSkew:         &skew,
		Token:            tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		IDToken:          tokens.IDToken,
		PKCEMethod:       PKCEMethodS256,
	}
}

// Tokens are the raw session credentials. Empty strings are absent values.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
}

// Empty reports whether no token is present.
func (t Tokens) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == "" && t.IDToken == ""
}

type LoginOptions struct {
	IdPHint     string // kc_idp_hint; overrides the client's default hint
	Prompt      string // e.g. "none" or "login"
	LoginHint   string
	RedirectURL string // overrides Config.RedirectURL
}

type LogoutOptions struct {
	RedirectURL string // post_logout_redirect_uri
}

// Client is one identity provider session. A Client is replaced, never reset,
// when a new session starts.
type Client interface {
	// Init resumes a session from InitOptions tokens. With LoadLoginRequired it
	// navigates to login when no session could be resumed. It reports whether
	// the client is authenticated without a navigation having taken place.
	Init(ctx context.Context, opts InitOptions) (bool, error)
	// UpdateToken refreshes when the access token expires within minValidity
	// seconds; a negative value forces the refresh. It reports whether a refresh happened.
	UpdateToken(ctx context.Context, minValidity int) (bool, error)
	Login(ctx context.Context, opts LoginOptions) error
	Logout(ctx context.Context, opts LogoutOptions) error

	Authenticated() bool
	Token() string
	RefreshToken() string
	IDToken() string
	// TokenExpiry is the exp claim of the access token, in provider time.
	TokenExpiry() (time.Time, bool)
	// RefreshTokenExpiry is the exp claim of the refresh token, in provider time.
	RefreshTokenExpiry() (time.Time, bool)
	// TimeSkew is local minus provider clock, in seconds.
	TimeSkew() (int, bool)
}

// CallbackCompleter is implemented by clients that finish an authorization
// code flow started by Login.
type CallbackCompleter interface {
	CompleteLogin(ctx context.Context, code, state string) error
}

// Config builds one Client.
type Config struct {
	Settings     Settings
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Tokens seed the client so it can log out without an Init round trip.
	Tokens Tokens
	// IdPHint is sent as kc_idp_hint on every authorization request the client
	// builds, including the ones Init triggers itself.
	IdPHint    string
	Navigator  Navigator
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Factory creates a fresh Client.
type Factory func(cfg Config) Client

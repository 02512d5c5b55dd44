package idp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-keeper/claims"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	idpHintParam    = "kc_idp_hint"
	pendingLoginTTL = 10 * time.Minute
)

var _ Client = (*OIDCClient)(nil)
var _ CallbackCompleter = (*OIDCClient)(nil)

// pendingLogin is the PKCE and nonce state of one authorization request.
type pendingLogin struct {
	verifier    string
	nonce       string
	redirectURL string
	createdAt   time.Time
}

// OIDCClient talks to an OpenID-Connect provider with go-oidc and x/oauth2.
// Discovery happens lazily on first use.
type OIDCClient struct {
	cfg        Config
	logger     zerolog.Logger
	httpClient *http.Client

	mu         sync.Mutex
	provider   *oidc.Provider
	oauth      *oauth2.Config
	endSession string
	pending    map[string]pendingLogin

	accessToken   string
	refreshToken  string
	idToken       string
	tokenExpiry   time.Time
	hasExpiry     bool
	refreshExpiry time.Time
	hasRefreshExp bool
	timeSkew      *int
	authenticated bool
}

// NewOIDCClient satisfies Factory.
func NewOIDCClient(cfg Config) Client {
	return newOIDCClient(cfg)
}

func newOIDCClient(cfg Config) *OIDCClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	if cfg.Navigator == nil {
		cfg.Navigator = LogNavigator{Logger: cfg.Logger}
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	c := &OIDCClient{
		cfg:        cfg,
		logger:     cfg.Logger.With().Str("component", "idp").Logger(),
		httpClient: hc,
		pending:    make(map[string]pendingLogin),
	}
	c.setTokensLocked(cfg.Tokens.AccessToken, cfg.Tokens.RefreshToken, cfg.Tokens.IDToken, time.Time{})
	return c
}

func (c *OIDCClient) Init(ctx context.Context, opts InitOptions) (bool, error) {
	if _, err := c.discover(ctx); err != nil {
		return false, err
	}

	c.mu.Lock()
	if opts.TimeSkew != nil {
		skew := *opts.TimeSkew
		c.timeSkew = &skew
	}
	if opts.Token != "" || opts.RefreshToken != "" || opts.IDToken != "" {
		c.setTokensLocked(opts.Token, opts.RefreshToken, opts.IDToken, time.Time{})
	}
	canResume := c.refreshToken != ""
	c.mu.Unlock()

	if canResume {
		_, err := c.UpdateToken(ctx, -1)
		if err == nil {
			return true, nil
		}
		c.logger.Debug().Err(err).Msg("Stored session could not be resumed")
	}

	c.clearTokens()
	if opts.OnLoad == LoadLoginRequired {
		if err := c.Login(ctx, LoginOptions{}); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (c *OIDCClient) UpdateToken(ctx context.Context, minValidity int) (bool, error) {
	oauthCfg, err := c.discover(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	refreshToken := c.refreshToken
	if refreshToken == "" {
		c.mu.Unlock()
		return false, errors.ErrNoRefreshToken
	}
	now := NowTimeFunc()
	skew := 0
	if c.timeSkew != nil {
		skew = *c.timeSkew
	}
	need := minValidity < 0 || !c.hasExpiry || SecondsUntil(c.tokenExpiry, now, skew) < minValidity
	if !need {
		c.mu.Unlock()
		return false, nil
	}
	if c.hasRefreshExp && SecondsUntil(c.refreshExpiry, now, skew) < 0 {
		c.mu.Unlock()
		c.clearTokens()
		return false, errors.ErrRefreshTokenExpired
	}
	c.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return false, errors.Wrapf(err, "[OIDCClient UpdateToken] refresh grant")
	}

	rawID, _ := tok.Extra("id_token").(string)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshToken != refreshToken {
		// Logged out or replaced while the grant was in flight.
		return false, errors.ErrSessionSuperseded
	}
	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	if rawID == "" {
		rawID = c.idToken
	}
	c.setTokensLocked(tok.AccessToken, newRefresh, rawID, tok.Expiry)
	c.authenticated = true
	return true, nil
}

func (c *OIDCClient) Login(ctx context.Context, opts LoginOptions) error {
	target, err := c.AuthCodeURL(ctx, opts)
	if err != nil {
		return err
	}
	return NavigatorFrom(ctx, c.cfg.Navigator).Navigate(ctx, target)
}

// AuthCodeURL builds the authorization request and remembers its PKCE verifier and nonce.
func (c *OIDCClient) AuthCodeURL(ctx context.Context, opts LoginOptions) (string, error) {
	oauthCfg, err := c.discover(ctx)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	redirectURL := opts.RedirectURL
	if redirectURL == "" {
		redirectURL = c.cfg.RedirectURL
	}
	authOpts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	}
	if redirectURL != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("redirect_uri", redirectURL))
	}
	hint := opts.IdPHint
	if hint == "" {
		hint = c.cfg.IdPHint
	}
	if hint != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(idpHintParam, hint))
	}
	if opts.Prompt != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", opts.Prompt))
	}
	if opts.LoginHint != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}

	c.mu.Lock()
	c.pending[state] = pendingLogin{
		verifier:    verifier,
		nonce:       nonce,
		redirectURL: redirectURL,
		createdAt:   NowTimeFunc(),
	}
	c.mu.Unlock()

	return oauthCfg.AuthCodeURL(state, authOpts...), nil
}

// CompleteLogin exchanges the authorization code and verifies the ID token nonce.
func (c *OIDCClient) CompleteLogin(ctx context.Context, code, state string) error {
	oauthCfg, err := c.discover(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	pending, ok := c.pending[state]
	delete(c.pending, state)
	provider := c.provider
	c.mu.Unlock()
	if !ok || code == "" || NowTimeFunc().Sub(pending.createdAt) > pendingLoginTTL {
		return errors.ErrInvalidState
	}

	exchangeOpts := []oauth2.AuthCodeOption{oauth2.VerifierOption(pending.verifier)}
	if pending.redirectURL != "" {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam("redirect_uri", pending.redirectURL))
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := oauthCfg.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		return errors.Wrapf(err, "[OIDCClient CompleteLogin] token exchange")
	}

	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return fmt.Errorf("[OIDCClient CompleteLogin] no id_token in token response")
	}
	idToken, err := provider.Verifier(&oidc.Config{ClientID: c.cfg.Settings.ClientID}).Verify(ctx, rawID)
	if err != nil {
		return errors.Wrapf(err, "[OIDCClient CompleteLogin] id token verification")
	}
	if idToken.Nonce != pending.nonce {
		return fmt.Errorf("[OIDCClient CompleteLogin] %w: nonce mismatch", errors.ErrInvalidState)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeSkew == nil {
		skew := int(NowTimeFunc().Sub(idToken.IssuedAt).Seconds())
		c.timeSkew = &skew
	}
	c.setTokensLocked(tok.AccessToken, tok.RefreshToken, rawID, tok.Expiry)
	c.authenticated = true
	return nil
}

func (c *OIDCClient) Logout(ctx context.Context, opts LogoutOptions) error {
	if _, err := c.discover(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	endSession := c.endSession
	idToken := c.idToken
	c.mu.Unlock()
	if endSession == "" {
		return errors.ErrNoEndSession
	}

	u, err := url.Parse(endSession)
	if err != nil {
		return errors.Wrapf(err, "[OIDCClient Logout] end_session_endpoint")
	}
	q := u.Query()
	q.Set("client_id", c.cfg.Settings.ClientID)
	if opts.RedirectURL != "" {
		q.Set("post_logout_redirect_uri", opts.RedirectURL)
	}
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	u.RawQuery = q.Encode()

	c.clearTokens()
	return NavigatorFrom(ctx, c.cfg.Navigator).Navigate(ctx, u.String())
}

func (c *OIDCClient) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *OIDCClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *OIDCClient) RefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken
}

func (c *OIDCClient) IDToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idToken
}

func (c *OIDCClient) TokenExpiry() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenExpiry, c.hasExpiry
}

func (c *OIDCClient) RefreshTokenExpiry() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshExpiry, c.hasRefreshExp
}

func (c *OIDCClient) TimeSkew() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeSkew == nil {
		return 0, false
	}
	return *c.timeSkew, true
}

// discover resolves the provider once per client.
func (c *OIDCClient) discover(ctx context.Context) (*oauth2.Config, error) {
	c.mu.Lock()
	if c.oauth != nil {
		cfg := c.oauth
		c.mu.Unlock()
		return cfg, nil
	}
	c.mu.Unlock()

	if err := c.cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(context.WithoutCancel(ctx), c.httpClient), c.cfg.Settings.Issuer())
	if err != nil {
		return nil, errors.Join(errors.ErrProviderDiscovery, err)
	}
	var meta struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		c.logger.Warn().Err(err).Msg("Provider metadata has no readable end_session_endpoint")
	}

	secret := c.cfg.ClientSecret
	if secret == "" {
		secret = c.cfg.Settings.Secret
	}
	oauthCfg := &oauth2.Config{
		ClientID:     c.cfg.Settings.ClientID,
		ClientSecret: secret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  c.cfg.RedirectURL,
		Scopes:       c.cfg.Scopes,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.oauth == nil {
		c.provider = provider
		c.oauth = oauthCfg
		c.endSession = meta.EndSessionEndpoint
	}
	return c.oauth, nil
}

// setTokensLocked stores the tokens and their parsed expiries. fallbackExpiry
// is used when the access token is not a JWT.
func (c *OIDCClient) setTokensLocked(access, refresh, id string, fallbackExpiry time.Time) {
	c.accessToken = access
	c.refreshToken = refresh
	c.idToken = id

	c.tokenExpiry, c.hasExpiry = claims.ExpiresAt(access)
	if !c.hasExpiry && access != "" && !fallbackExpiry.IsZero() {
		c.tokenExpiry, c.hasExpiry = fallbackExpiry, true
	}
	c.refreshExpiry, c.hasRefreshExp = claims.ExpiresAt(refresh)
}

func (c *OIDCClient) clearTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTokensLocked("", "", "", time.Time{})
	c.authenticated = false
}



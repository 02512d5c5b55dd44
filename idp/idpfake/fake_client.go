package idpfake

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-keeper/idp"
)

// Endpoints fake logins and logouts navigate to.
const (
	LoginURL  = "https://idp.example.com/auth"
	LogoutURL = "https://idp.example.com/logout"
)

var _ idp.Client = (*FakeClient)(nil)
var _ idp.CallbackCompleter = (*FakeClient)(nil)

// Session is the token state a FakeClient reports.
type Session struct {
	Tokens        idp.Tokens
	TokenExpiry   time.Time // zero means unknown
	RefreshExpiry time.Time // zero means unknown
}

// FakeClient is a scriptable idp.Client. Exported fields are read under its lock,
// so set them before handing the client to the code under test or via Factory.Configure.
type FakeClient struct {
	mu sync.Mutex

	Config idp.Config

	// InitAuthenticated is reported by Init; InitSession is installed when true.
	InitAuthenticated bool
	InitSession       Session
	InitErr           error
	// InitSkew overrides the skew passed in InitOptions.
	InitSkew *int

	// RefreshSession is installed on every successful refresh.
	RefreshSession Session
	RefreshErr     error
	// RefreshGate, when set, blocks UpdateToken until it is closed or receives.
	RefreshGate chan struct{}

	LoginErr    error
	LogoutErr   error
	CallbackErr error

	session       Session
	skew          *int
	authenticated bool

	InitCalls     []idp.InitOptions
	UpdateCalls   []int
	LoginCalls    []idp.LoginOptions
	LogoutCalls   []idp.LogoutOptions
	CallbackCalls []string
}

func NewFakeClient(cfg idp.Config) *FakeClient {
	return &FakeClient{
		Config:  cfg,
		session: Session{Tokens: cfg.Tokens},
	}
}

func (c *FakeClient) Init(ctx context.Context, opts idp.InitOptions) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.InitCalls = append(c.InitCalls, opts)
	if c.InitErr != nil {
		return false, c.InitErr
	}

	skew := opts.TimeSkew
	if c.InitSkew != nil {
		skew = c.InitSkew
	}
	if skew != nil {
		v := *skew
		c.skew = &v
	}

	if c.InitAuthenticated {
		c.session = c.InitSession
		c.authenticated = true
		return true, nil
	}

	c.session = Session{}
	c.authenticated = false
	if opts.OnLoad == idp.LoadLoginRequired {
		// Internal login: only the configured default hint applies.
		return false, c.loginLocked(ctx, idp.LoginOptions{IdPHint: c.Config.IdPHint})
	}
	return false, nil
}

func (c *FakeClient) UpdateToken(_ context.Context, minValidity int) (bool, error) {
	c.mu.Lock()
	c.UpdateCalls = append(c.UpdateCalls, minValidity)
	gate := c.RefreshGate
	c.mu.Unlock()

	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RefreshErr != nil {
		return false, c.RefreshErr
	}
	if minValidity >= 0 && !c.session.TokenExpiry.IsZero() {
		skew := 0
		if c.skew != nil {
			skew = *c.skew
		}
		remaining := idp.SecondsUntil(c.session.TokenExpiry, idp.NowTimeFunc(), skew)
		if remaining >= minValidity {
			return false, nil
		}
	}
	c.session = c.RefreshSession
	c.authenticated = true
	return true, nil
}

func (c *FakeClient) Login(ctx context.Context, opts idp.LoginOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if opts.IdPHint == "" {
		opts.IdPHint = c.Config.IdPHint
	}
	return c.loginLocked(ctx, opts)
}

func (c *FakeClient) loginLocked(ctx context.Context, opts idp.LoginOptions) error {
	c.LoginCalls = append(c.LoginCalls, opts)
	if c.LoginErr != nil {
		return c.LoginErr
	}
	q := url.Values{}
	if opts.IdPHint != "" {
		q.Set("kc_idp_hint", opts.IdPHint)
	}
	return c.navigate(ctx, LoginURL+"?"+q.Encode())
}

func (c *FakeClient) Logout(ctx context.Context, opts idp.LogoutOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogoutCalls = append(c.LogoutCalls, opts)
	c.session = Session{}
	c.authenticated = false
	if c.LogoutErr != nil {
		return c.LogoutErr
	}
	q := url.Values{}
	if opts.RedirectURL != "" {
		q.Set("post_logout_redirect_uri", opts.RedirectURL)
	}
	return c.navigate(ctx, LogoutURL+"?"+q.Encode())
}

func (c *FakeClient) navigate(ctx context.Context, target string) error {
	nav := idp.NavigatorFrom(ctx, c.Config.Navigator)
	if nav == nil {
		return nil
	}
	return nav.Navigate(ctx, target)
}

func (c *FakeClient) CompleteLogin(_ context.Context, code, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallbackCalls = append(c.CallbackCalls, code)
	if c.CallbackErr != nil {
		return c.CallbackErr
	}
	c.session = c.InitSession
	c.authenticated = true
	if c.skew == nil {
		zero := 0
		c.skew = &zero
	}
	return nil
}

// Snapshot helpers for assertions.

func (c *FakeClient) Updates() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.UpdateCalls...)
}

func (c *FakeClient) Logins() []idp.LoginOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]idp.LoginOptions(nil), c.LoginCalls...)
}

func (c *FakeClient) Logouts() []idp.LogoutOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]idp.LogoutOptions(nil), c.LogoutCalls...)
}

func (c *FakeClient) Inits() []idp.InitOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]idp.InitOptions(nil), c.InitCalls...)
}

func (c *FakeClient) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *FakeClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Tokens.AccessToken
}

func (c *FakeClient) RefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Tokens.RefreshToken
}

func (c *FakeClient) IDToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Tokens.IDToken
}

func (c *FakeClient) TokenExpiry() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.TokenExpiry, !c.session.TokenExpiry.IsZero()
}

func (c *FakeClient) RefreshTokenExpiry() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.RefreshExpiry, !c.session.RefreshExpiry.IsZero()
}

func (c *FakeClient) TimeSkew() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.skew == nil {
		return 0, false
	}
	return *c.skew, true
}

// Factory records every client it creates. Configure scripts each new client.
type Factory struct {
	mu        sync.Mutex
	Configure func(c *FakeClient)
	created   []*FakeClient
}

func (f *Factory) New(cfg idp.Config) idp.Client {
	c := NewFakeClient(cfg)
	f.mu.Lock()
	configure := f.Configure
	f.created = append(f.created, c)
	f.mu.Unlock()
	if configure != nil {
		configure(c)
	}
	return c
}

// Created returns the clients in creation order.
func (f *Factory) Created() []*FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeClient(nil), f.created...)
}

// Last returns the most recently created client, or nil.
func (f *Factory) Last() *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

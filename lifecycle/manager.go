// Package lifecycle keeps one identity provider session alive: it resumes the
// session from storage, mirrors tokens back into storage, refreshes ahead of
// expiry and answers role checks for route guards.
//
// A Manager is created once by the composition root and shared by everything
// that needs the session. All methods are safe for concurrent use. Provider
// round trips never run under the manager lock; a generation counter makes a
// flow that was superseded by a newer initialisation or a logout unable to
// write its results.
package lifecycle

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-session-keeper/authstate"
	"github.com/jrsteele09/go-session-keeper/claims"
	"github.com/jrsteele09/go-session-keeper/idp"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/sessionstore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateRefreshing
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateCleared:
		return "cleared"
	}
	return "unknown"
}

type Status int

const (
	StatusNotAuthenticated Status = iota
	StatusAuthenticated
)

// SyncResult is the outcome of finalising an init. A user without a session
// is a StatusNotAuthenticated result, not an error.
type SyncResult struct {
	Status      Status
	AccessToken string
}

func (r SyncResult) Authenticated() bool {
	return r.Status == StatusAuthenticated
}

type Config interface {
	config.EnvConfig
	config.SessionConfig
}

// Manager is the session lifecycle manager.
type Manager struct {
	store     sessionstore.Store
	factory   idp.Factory
	cfg       Config
	clientCfg idp.Config
	logger    zerolog.Logger
	scheduler Scheduler

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	client     idp.Client
	generation uint64
	state      State
	timer      timerSlot
	projection authstate.Projection
	info       userInfoCache
}

type userInfoCache struct {
	token  string
	claims claims.Claims
	valid  bool
}

type Option func(*Manager)

// WithProjection installs the auth state projection. Without one the manager
// keeps working and simply has nothing to project into.
func WithProjection(p authstate.Projection) Option {
	return func(m *Manager) {
		m.projection = p
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithClientConfig sets the template every new provider client is built from.
// Tokens, IdPHint and Logger are filled in per client by the manager.
func WithClientConfig(c idp.Config) Option {
	return func(m *Manager) {
		m.clientCfg = c
	}
}

func New(store sessionstore.Store, factory idp.Factory, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		factory:   factory,
		cfg:       cfg,
		logger:    log.Logger,
		scheduler: realScheduler{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "lifecycle").Logger()
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	return m
}

// InitializeSession starts a new session whose logins always carry idpHint,
// including the login the provider client triggers itself during init.
func (m *Manager) InitializeSession(ctx context.Context, idpHint string) (bool, error) {
	gen := m.begin()
	if err := m.ClearSession(ctx); err != nil {
		return false, err
	}
	if err := m.store.Remove(ctx, sessionstore.KeyPreventStorageSync); err != nil {
		return false, errors.Wrapf(err, "[Manager InitializeSession] clear storage guard")
	}

	tokens, err := m.storedTokens(ctx)
	if err != nil {
		return false, err
	}
	client, ok := m.install(gen, tokens, idpHint)
	if !ok {
		return false, errors.ErrSessionSuperseded
	}

	authenticated, err := client.Init(ctx, idp.NewInitOptions(idp.LoadLoginRequired, tokens))
	if err != nil {
		m.abandon(gen)
		return false, errors.Join(errors.ErrProviderInit, err)
	}
	if !authenticated {
		m.logger.Debug().Str("idp_hint", idpHint).Msg("Login required")
		return false, nil
	}
	res, err := m.syncSessionAndScheduleTokenRefresh(ctx, gen, true)
	return res.Authenticated(), err
}

// InitializeToken resumes the session from stored tokens. forceLogin selects
// login-required instead of check-sso.
func (m *Manager) InitializeToken(ctx context.Context, scheduleRefresh, forceLogin bool) (SyncResult, error) {
	gen := m.begin()
	if err := m.store.Remove(ctx, sessionstore.KeyPreventStorageSync); err != nil {
		return SyncResult{}, errors.Wrapf(err, "[Manager InitializeToken] clear storage guard")
	}
	if err := sessionstore.SetBool(ctx, m.store, sessionstore.KeySessionSynced, false); err != nil {
		return SyncResult{}, errors.Wrapf(err, "[Manager InitializeToken] mark sync pending")
	}

	tokens, err := m.storedTokens(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	client, ok := m.install(gen, tokens, "")
	if !ok {
		return SyncResult{}, errors.ErrSessionSuperseded
	}

	mode := idp.LoadCheckSSO
	if forceLogin {
		mode = idp.LoadLoginRequired
	}
	if _, err := client.Init(ctx, idp.NewInitOptions(mode, tokens)); err != nil {
		m.abandon(gen)
		return SyncResult{}, errors.Join(errors.ErrProviderInit, err)
	}
	return m.syncSessionAndScheduleTokenRefresh(ctx, gen, scheduleRefresh)
}

// CompleteLogin finishes the authorization code flow started by the current
// client and finalises the session.
func (m *Manager) CompleteLogin(ctx context.Context, code, state string) (SyncResult, error) {
	m.mu.Lock()
	client, gen := m.client, m.generation
	m.mu.Unlock()

	completer, ok := client.(idp.CallbackCompleter)
	if client == nil || !ok {
		return SyncResult{}, errors.ErrInvalidState
	}
	if err := completer.CompleteLogin(ctx, code, state); err != nil {
		return SyncResult{}, err
	}
	return m.syncSessionAndScheduleTokenRefresh(ctx, gen, true)
}

// FinalizeAfterInit runs the sync-and-schedule step for the current client.
func (m *Manager) FinalizeAfterInit(ctx context.Context, scheduleRefresh bool) (SyncResult, error) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	return m.syncSessionAndScheduleTokenRefresh(ctx, gen, scheduleRefresh)
}

func (m *Manager) syncSessionAndScheduleTokenRefresh(ctx context.Context, gen uint64, scheduleRefresh bool) (SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.client == nil {
		return SyncResult{}, errors.ErrSessionSuperseded
	}
	if !m.client.Authenticated() {
		if err := m.clearLocked(ctx); err != nil {
			return SyncResult{}, err
		}
		m.state = StateCleared
		return SyncResult{Status: StatusNotAuthenticated}, nil
	}

	if err := m.syncLocked(ctx); err != nil {
		return SyncResult{}, err
	}
	if scheduleRefresh {
		if err := m.scheduleLocked(0); err != nil {
			return SyncResult{Status: StatusNotAuthenticated}, err
		}
	}
	return SyncResult{Status: StatusAuthenticated, AccessToken: m.client.Token()}, nil
}

// syncLocked mirrors the client tokens into storage and the projection.
func (m *Manager) syncLocked(ctx context.Context) error {
	prevent, err := sessionstore.GetBool(ctx, m.store, sessionstore.KeyPreventStorageSync)
	if err != nil {
		return errors.Wrapf(err, "[Manager sync] read storage guard")
	}
	if prevent {
		m.logger.Warn().Msg("Storage sync prevented, session is being logged out")
		return errors.ErrSessionSuperseded
	}

	tokens := idp.Tokens{
		AccessToken:  m.client.Token(),
		RefreshToken: m.client.RefreshToken(),
		IDToken:      m.client.IDToken(),
	}
	if err := m.writeTokens(ctx, tokens); err != nil {
		return err
	}
	if err := sessionstore.SetBool(ctx, m.store, sessionstore.KeySessionSynced, true); err != nil {
		return errors.Wrapf(err, "[Manager sync] mark synced")
	}

	m.state = StateAuthenticated
	if m.projection != nil {
		info := m.userInfoLocked()
		m.projection.SetAccessToken(tokens.AccessToken)
		m.projection.SetIDToken(tokens.IDToken)
		m.projection.SetRefreshToken(tokens.RefreshToken)
		m.projection.SetUserID(info.Subject)
		m.projection.SetLoginSource(info.LoginSource)
	}
	return nil
}

func (m *Manager) writeTokens(ctx context.Context, t idp.Tokens) error {
	values := map[string]string{
		sessionstore.KeyAccessToken:  t.AccessToken,
		sessionstore.KeyRefreshToken: t.RefreshToken,
		sessionstore.KeyIDToken:      t.IDToken,
	}
	for _, key := range sessionstore.TokenKeys {
		var err error
		if v := values[key]; v != "" {
			err = m.store.Set(ctx, key, v)
		} else {
			err = m.store.Remove(ctx, key)
		}
		if err != nil {
			return errors.Wrapf(err, "[Manager writeTokens] %s", key)
		}
	}
	return nil
}

func (m *Manager) storedTokens(ctx context.Context) (idp.Tokens, error) {
	values := make(map[string]string, len(sessionstore.TokenKeys))
	for _, key := range sessionstore.TokenKeys {
		v, _, err := m.store.Get(ctx, key)
		if err != nil {
			return idp.Tokens{}, errors.Wrapf(err, "[Manager storedTokens] %s", key)
		}
		values[key] = v
	}
	return idp.Tokens{
		AccessToken:  values[sessionstore.KeyAccessToken],
		RefreshToken: values[sessionstore.KeyRefreshToken],
		IDToken:      values[sessionstore.KeyIDToken],
	}, nil
}

// ClearSession removes the stored tokens and clears the projection. It is
// idempotent and safe before any projection exists.
func (m *Manager) ClearSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked(ctx)
}

func (m *Manager) clearLocked(ctx context.Context) error {
	var firstErr error
	for _, key := range sessionstore.TokenKeys {
		if err := m.store.Remove(ctx, key); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "[Manager ClearSession] %s", key)
		}
	}
	if m.projection != nil {
		m.projection.Clear()
	}
	m.info = userInfoCache{}
	return firstErr
}

// SetProjection installs or replaces the projection after construction, for
// applications whose state store comes up later than the manager.
func (m *Manager) SetProjection(p authstate.Projection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projection = p
	if p == nil || m.client == nil || m.state != StateAuthenticated {
		return
	}
	info := m.userInfoLocked()
	p.SetAccessToken(m.client.Token())
	p.SetIDToken(m.client.IDToken())
	p.SetRefreshToken(m.client.RefreshToken())
	p.SetUserID(info.Subject)
	p.SetLoginSource(info.LoginSource)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Tokens returns the tokens of the current client.
func (m *Manager) Tokens() idp.Tokens {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || m.state == StateCleared {
		return idp.Tokens{}
	}
	return idp.Tokens{
		AccessToken:  m.client.Token(),
		RefreshToken: m.client.RefreshToken(),
		IDToken:      m.client.IDToken(),
	}
}

// Close stops the refresh chain and detaches the current client.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.timer.stop()
	m.client = nil
	m.cancel()
}

// begin starts a new generation: the previous client and timer chain are dropped.
func (m *Manager) begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.timer.stop()
	m.client = nil
	m.state = StateInitializing
	m.info = userInfoCache{}
	return m.generation
}

// install builds a client for gen. It reports false when gen was superseded.
func (m *Manager) install(gen uint64, tokens idp.Tokens, idpHint string) (idp.Client, bool) {
	client := m.newClient(tokens, idpHint)
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return nil, false
	}
	m.client = client
	return client, true
}

// abandon resets a failed init back to uninitialised, unless a newer flow took over.
func (m *Manager) abandon(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	m.client = nil
	m.state = StateUninitialized
}

func (m *Manager) newClient(tokens idp.Tokens, idpHint string) idp.Client {
	cfg := m.clientCfg
	cfg.Tokens = tokens
	cfg.IdPHint = idpHint
	cfg.Logger = m.logger
	return m.factory(cfg)
}

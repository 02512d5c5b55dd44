package lifecycle

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-session-keeper/idp"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/sessionstore"
)

const logoutGatewayRedirectParam = "redirect_uri"

// Logout ends the session locally and at the provider. It does nothing when
// no access token is stored. Local state is cleared, and the storage guard
// raised, before the provider is contacted, so a refresh that lands during the
// round trip cannot bring the tokens back. A provider failure is returned as
// ErrLogoutFailed; the local session stays cleared.
func (m *Manager) Logout(ctx context.Context, redirectURL string) error {
	access, ok, err := m.store.Get(ctx, sessionstore.KeyAccessToken)
	if err != nil {
		return errors.Wrapf(err, "[Manager Logout] read access token")
	}
	if !ok || access == "" {
		return nil
	}

	tokens, err := m.storedTokens(ctx)
	if err != nil {
		return err
	}
	client := m.newClient(tokens, "")

	m.mu.Lock()
	m.generation++
	m.timer.stop()
	m.client = client
	clearErr := m.clearLocked(ctx)
	guardErr := sessionstore.SetBool(ctx, m.store, sessionstore.KeyPreventStorageSync, true)
	m.state = StateCleared
	m.mu.Unlock()
	if clearErr != nil {
		return clearErr
	}
	if guardErr != nil {
		return errors.Wrapf(guardErr, "[Manager Logout] raise storage guard")
	}

	target, err := m.logoutRedirect(ctx, redirectURL)
	if err != nil {
		return err
	}
	if err := client.Logout(ctx, idp.LogoutOptions{RedirectURL: target}); err != nil {
		m.logger.Error().Err(err).Msg("Provider logout failed, local session already cleared")
		return errors.Join(errors.ErrLogoutFailed, err)
	}
	m.logger.Info().Msg("Logged out")
	return nil
}

// logoutRedirect defaults to the application base path and routes through
// the logout gateway when one is configured.
func (m *Manager) logoutRedirect(ctx context.Context, redirectURL string) (string, error) {
	if redirectURL == "" {
		redirectURL = m.cfg.GetBaseURL() + m.cfg.GetBasePath()
	}

	gateway, _, err := m.store.Get(ctx, sessionstore.KeyLogoutGatewayURL)
	if err != nil {
		return "", errors.Wrapf(err, "[Manager Logout] read logout gateway")
	}
	if gateway == "" {
		gateway = m.cfg.GetLogoutGatewayURL()
	}
	if gateway == "" {
		return redirectURL, nil
	}

	u, err := url.Parse(gateway)
	if err != nil {
		return "", errors.Wrapf(err, "[Manager Logout] parse logout gateway")
	}
	q := u.Query()
	q.Set(logoutGatewayRedirectParam, redirectURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

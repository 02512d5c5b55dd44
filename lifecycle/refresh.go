package lifecycle

import (
	"context"
	"time"

	"github.com/jrsteele09/go-session-keeper/idp"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
)

// ScheduleRefresh arms the refresh chain so the access token is renewed
// earlySeconds before it expires. The margin never drops below the configured
// minimum. It returns ErrRefreshTokenExpired, clears the session and arms
// nothing when the session can no longer be refreshed.
func (m *Manager) ScheduleRefresh(earlySeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduleLocked(earlySeconds)
}

func (m *Manager) scheduleLocked(earlySeconds int) error {
	if m.client == nil || m.state == StateCleared {
		return errors.ErrNotAuthenticated
	}

	margin := time.Duration(earlySeconds) * time.Second
	if floor := m.cfg.GetMinEarlyRefresh(); margin < floor {
		margin = floor
	}

	now := idp.NowTimeFunc()
	skew, _ := m.client.TimeSkew()

	if refreshExpiry, ok := m.client.RefreshTokenExpiry(); ok {
		if idp.SecondsUntil(refreshExpiry, now, skew) < 0 {
			m.expireLocked("refresh token expired")
			return errors.ErrRefreshTokenExpired
		}
	}

	tokenExpiry, ok := m.client.TokenExpiry()
	if !ok {
		m.logger.Warn().Msg("Access token has no expiry, refresh not scheduled")
		return nil
	}
	expiresIn := idp.SecondsUntil(tokenExpiry, now, skew)
	if expiresIn < 0 {
		m.expireLocked("access token expired before refresh could be scheduled")
		return errors.ErrRefreshTokenExpired
	}

	delay := time.Duration(expiresIn)*time.Second - margin
	gen := m.generation
	m.timer.arm(m.scheduler, delay, func(seq uint64) {
		m.onRefreshTimer(gen, seq, earlySeconds)
	})
	m.logger.Debug().Dur("delay", delay).Dur("margin", margin).Msg("Token refresh scheduled")
	return nil
}

// onRefreshTimer forces a refresh and re-arms the chain. A timer orphaned by a
// newer init, a logout or a re-arm does nothing.
func (m *Manager) onRefreshTimer(gen, seq uint64, earlySeconds int) {
	m.mu.Lock()
	if gen != m.generation || m.client == nil || !m.timer.claim(seq) {
		m.mu.Unlock()
		return
	}
	client := m.client
	m.state = StateRefreshing
	ctx := m.baseCtx
	m.mu.Unlock()

	_, err := client.UpdateToken(ctx, -1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.client != client {
		return
	}
	if err != nil {
		m.logger.Error().Err(err).Msg("Scheduled token refresh failed")
		m.terminateLocked(ctx, "scheduled refresh failed")
		return
	}
	if err := m.syncLocked(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Refreshed tokens not synced")
		return
	}
	if err := m.scheduleLocked(earlySeconds); err != nil {
		m.logger.Warn().Err(err).Msg("Refresh chain ended")
	}
}

// RefreshToken refreshes on demand, e.g. before a sensitive API call. Without
// force it does nothing until the token expiry and clock skew are known. A
// failed refresh clears the session and returns ErrRefreshFailed or
// ErrRefreshTokenExpired.
func (m *Manager) RefreshToken(ctx context.Context, force bool) (bool, error) {
	m.mu.Lock()
	client, gen := m.client, m.generation
	if client == nil || m.state == StateCleared {
		m.mu.Unlock()
		if force {
			return false, errors.ErrNotAuthenticated
		}
		return false, nil
	}

	minValidity := -1
	if !force {
		expiry, hasExpiry := client.TokenExpiry()
		skew, hasSkew := client.TimeSkew()
		if !hasExpiry || !hasSkew {
			m.mu.Unlock()
			return false, nil
		}
		buffer := int(m.cfg.GetRefreshSafetyBuffer() / time.Second)
		minValidity = idp.SecondsUntil(expiry, idp.NowTimeFunc(), skew) + buffer
	}
	prev := m.state
	m.state = StateRefreshing
	m.mu.Unlock()

	refreshed, err := client.UpdateToken(ctx, minValidity)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.client != client {
		return false, errors.ErrSessionSuperseded
	}
	if err != nil {
		m.logger.Warn().Err(err).Bool("force", force).Msg("Token refresh failed")
		m.terminateLocked(ctx, "on-demand refresh failed")
		if errors.Is(err, errors.ErrRefreshTokenExpired) {
			return false, err
		}
		return false, errors.Join(errors.ErrRefreshFailed, err)
	}
	if !refreshed {
		m.state = prev
		return false, nil
	}

	if err := m.syncLocked(ctx); err != nil {
		return true, err
	}
	if err := m.scheduleLocked(0); err != nil {
		return true, err
	}
	return true, nil
}

// AccessToken returns a token valid for at least the minimum early-refresh
// margin, refreshing first when needed. API middleware calls it per request.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	client := m.client
	if client == nil || m.state == StateCleared || client.Token() == "" {
		m.mu.Unlock()
		return "", errors.ErrNotAuthenticated
	}
	expiry, hasExpiry := client.TokenExpiry()
	skew, _ := client.TimeSkew()
	token := client.Token()
	minValid := int(m.cfg.GetMinEarlyRefresh() / time.Second)
	m.mu.Unlock()

	if !hasExpiry || idp.SecondsUntil(expiry, idp.NowTimeFunc(), skew) >= minValid {
		return token, nil
	}
	if _, err := m.RefreshToken(ctx, true); err != nil {
		return "", err
	}
	return m.Tokens().AccessToken, nil
}

// TimerArmed reports whether a refresh timer is pending.
func (m *Manager) TimerArmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer.armed()
}

// expireLocked ends the session because a token validity window elapsed.
func (m *Manager) expireLocked(reason string) {
	m.terminateLocked(context.Background(), reason)
}

// terminateLocked stops the refresh chain, clears the session and drops the
// client. Only a new initialisation can bring the session back.
func (m *Manager) terminateLocked(ctx context.Context, reason string) {
	m.logger.Warn().Str("reason", reason).Msg("No more refreshes possible, session cleared")
	m.timer.stop()
	if err := m.clearLocked(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Failed to clear session")
	}
	m.client = nil
	m.state = StateCleared
}


package lifecycle

import (
	"github.com/jrsteele09/go-session-keeper/claims"
	"github.com/jrsteele09/go-session-keeper/internal/utils"
)

// UserInfo returns the claims of the current access token, zero once the
// session is cleared. The decoded value is cached until the token changes.
func (m *Manager) UserInfo() claims.Claims {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userInfoLocked()
}

func (m *Manager) userInfoLocked() claims.Claims {
	token := ""
	if m.client != nil && m.state != StateCleared {
		token = m.client.Token()
	}
	if !m.info.valid || m.info.token != token {
		m.info = userInfoCache{
			token:  token,
			claims: claims.Decode(token),
			valid:  true,
		}
	}
	return m.info.claims
}

// VerifyRoles is the route guard predicate. A nil slice means "not supplied".
// With neither list access is granted. allowed wins when both are supplied:
// access requires one of its roles. Otherwise access is denied when the user
// holds any of disabled.
func (m *Manager) VerifyRoles(allowed, disabled []string) bool {
	if allowed == nil && disabled == nil {
		return true
	}
	roles := m.UserInfo().Roles
	if allowed != nil {
		return utils.Intersects(roles, allowed)
	}
	return !utils.Intersects(roles, disabled)
}

package claims

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-session-keeper/internal/utils"
)

// Claims is the identity projection of an access token.
// The zero value is the "all undefined" record returned for absent or unparseable tokens.
type Claims struct {
	Subject     string   `json:"sub,omitempty"`         // Users unique ID
	Username    string   `json:"username,omitempty"`    // preferred_username
	FullName    string   `json:"name,omitempty"`        // Display name
	FirstName   string   `json:"firstname,omitempty"`   // given_name
	LastName    string   `json:"lastname,omitempty"`    // family_name
	Email       string   `json:"email,omitempty"`       // Email address
	Roles       []string `json:"roles,omitempty"`       // realm_access.roles
	LoginSource string   `json:"loginSource,omitempty"` // Identity provider the user logged in through
}

// IsZero reports whether no claim could be decoded.
func (c Claims) IsZero() bool {
	return c.Subject == "" && c.Username == "" && c.FullName == "" && c.FirstName == "" &&
		c.LastName == "" && c.Email == "" && len(c.Roles) == 0 && c.LoginSource == ""
}

// HasAnyRole reports whether the claims carry at least one of roles.
func (c Claims) HasAnyRole(roles []string) bool {
	return utils.Intersects(c.Roles, roles)
}

// Decode maps a raw access token to Claims. The signature is not verified;
// the token came from the provider over TLS and is only read for display and role checks.
func Decode(rawToken string) Claims {
	mc, ok := parse(rawToken)
	if !ok {
		return Claims{}
	}

	c := Claims{
		Subject:     str(mc, "sub"),
		Username:    str(mc, "preferred_username"),
		FullName:    str(mc, "name"),
		FirstName:   str(mc, "given_name"),
		LastName:    str(mc, "family_name"),
		Email:       str(mc, "email"),
		LoginSource: str(mc, "loginSource"),
	}
	if c.LoginSource == "" {
		c.LoginSource = str(mc, "login_source")
	}
	if realm, ok := mc["realm_access"].(map[string]any); ok {
		if roles, ok := realm["roles"].([]any); ok {
			c.Roles = utils.ToStringSlice(roles)
		}
	}
	return c
}

// ExpiresAt returns the exp claim of a JWT. ok is false for opaque or malformed tokens.
func ExpiresAt(rawToken string) (time.Time, bool) {
	return numericDate(rawToken, func(mc jwtlib.MapClaims) (*jwtlib.NumericDate, error) {
		return mc.GetExpirationTime()
	})
}

// IssuedAt returns the iat claim of a JWT.
func IssuedAt(rawToken string) (time.Time, bool) {
	return numericDate(rawToken, func(mc jwtlib.MapClaims) (*jwtlib.NumericDate, error) {
		return mc.GetIssuedAt()
	})
}

func numericDate(rawToken string, get func(jwtlib.MapClaims) (*jwtlib.NumericDate, error)) (time.Time, bool) {
	mc, ok := parse(rawToken)
	if !ok {
		return time.Time{}, false
	}
	d, err := get(mc)
	if err != nil || d == nil {
		return time.Time{}, false
	}
	return d.Time, true
}

func parse(rawToken string) (jwtlib.MapClaims, bool) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, false
	}
	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, false
	}
	mc, ok := token.Claims.(jwtlib.MapClaims)
	return mc, ok
}

func str(mc jwtlib.MapClaims, name string) string {
	s, _ := mc[name].(string)
	return s
}

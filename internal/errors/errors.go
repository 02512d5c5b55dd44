package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session keeper
var (
	// Provider errors
	ErrProviderInit      = errors.New("identity provider initialisation failed")
	ErrProviderDiscovery = errors.New("identity provider discovery failed")
	ErrInvalidSettings   = errors.New("invalid identity provider settings")
	ErrNoEndSession      = errors.New("identity provider has no end_session_endpoint")
	ErrInvalidState      = errors.New("invalid login state")

	// Session errors
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNoRefreshToken      = errors.New("no refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrRefreshFailed       = errors.New("token refresh failed")
	ErrSessionSuperseded   = errors.New("session superseded by a newer initialisation")
	ErrLogoutFailed        = errors.New("logout failed")

	// Storage errors
	ErrSealedValueCorrupt = errors.New("sealed value corrupt")
	ErrInvalidSealKey     = errors.New("invalid seal key")

	// Configuration errors
	ErrConfigURLAlreadySet = errors.New("identity provider configuration URL already set")
	ErrConfigURLMissing    = errors.New("identity provider configuration URL not set")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Join combines a sentinel with its underlying cause so both match errors.Is
func Join(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

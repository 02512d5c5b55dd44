package idp

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Navigator delivers a provider URL (login or logout) to the user agent.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target string) error

func (f NavigatorFunc) Navigate(ctx context.Context, target string) error {
	return f(ctx, target)
}

// HTTPNavigator visits the URL itself. Redirects are not followed: the
// provider acknowledging with a redirect counts as success.
type HTTPNavigator struct {
	Client *http.Client
}

func (n HTTPNavigator) Navigate(ctx context.Context, target string) error {
	base := n.Client
	if base == nil {
		base = http.DefaultClient
	}
	client := *base
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("[HTTPNavigator Navigate] %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("[HTTPNavigator Navigate] %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("[HTTPNavigator Navigate] provider returned %s", resp.Status)
	}
	return nil
}

// LogNavigator prints the URL for a human to open.
type LogNavigator struct {
	Logger zerolog.Logger
}

func (n LogNavigator) Navigate(_ context.Context, target string) error {
	n.Logger.Info().Str("url", target).Msg("Open this URL to continue")
	return nil
}

// CaptureNavigator records the last URL instead of visiting it. HTTP handlers
// use it to turn a navigation into a redirect response.
type CaptureNavigator struct {
	mu  sync.Mutex
	url string
}

func (n *CaptureNavigator) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.url = target
	return nil
}

// URL returns the captured URL, empty when nothing navigated.
func (n *CaptureNavigator) URL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.url
}

type navigatorKey struct{}

// WithNavigator overrides the client's navigator for calls made with ctx.
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey{}, nav)
}

// NavigatorFrom returns the navigator carried by ctx, or fallback.
func NavigatorFrom(ctx context.Context, fallback Navigator) Navigator {
	if nav, ok := ctx.Value(navigatorKey{}).(Navigator); ok && nav != nil {
		return nav
	}
	return fallback
}

package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-session-keeper/internal/errors"
)

// Settings locate the provider realm and the client registered in it.
type Settings struct {
	URL      string
	Realm    string
	ClientID string
	Secret   string
}

// adapterDocument accepts both the installation file layout and the JS adapter layout.
type adapterDocument struct {
	AuthServerURL string `json:"auth-server-url"`
	URL           string `json:"url"`
	Realm         string `json:"realm"`
	Resource      string `json:"resource"`
	ClientID      string `json:"clientId"`
	Credentials   struct {
		Secret string `json:"secret"`
	} `json:"credentials"`
}

// Issuer returns the realm issuer URL used for discovery.
func (s Settings) Issuer() string {
	return strings.TrimSuffix(s.URL, "/") + "/realms/" + url.PathEscape(s.Realm)
}

func (s Settings) Validate() error {
	switch {
	case s.URL == "":
		return fmt.Errorf("%w: url is required", errors.ErrInvalidSettings)
	case s.Realm == "":
		return fmt.Errorf("%w: realm is required", errors.ErrInvalidSettings)
	case s.ClientID == "":
		return fmt.Errorf("%w: client id is required", errors.ErrInvalidSettings)
	}
	return nil
}

// LoadSettings fetches the adapter configuration document from configURL.
func LoadSettings(ctx context.Context, client *http.Client, configURL string) (Settings, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "[idp LoadSettings] request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Settings{}, errors.Join(errors.ErrProviderDiscovery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Settings{}, fmt.Errorf("%w: config fetch returned %s", errors.ErrProviderDiscovery, resp.Status)
	}

	var doc adapterDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Settings{}, fmt.Errorf("%w: decode config: %w", errors.ErrInvalidSettings, err)
	}

	s := Settings{
		URL:      firstNonEmpty(doc.AuthServerURL, doc.URL),
		Realm:    doc.Realm,
		ClientID: firstNonEmpty(doc.Resource, doc.ClientID),
		Secret:   doc.Credentials.Secret,
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

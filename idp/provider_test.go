package idp_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-session-keeper/idp"
	"github.com/stretchr/testify/require"
)

const (
	testRealm    = "test"
	testClientID = "web-app"
	testKeyID    = "test-key"
)

// testProvider is a minimal OpenID provider: discovery, JWKS, token endpoint.
type testProvider struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	mu            sync.Mutex
	nonce         string
	challenge     string
	grants        []string
	rejectRefresh bool
	refreshTTL    time.Duration
	lastVerifier  string
	lastRefreshed string
}

func newTestProvider(t *testing.T) *testProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &testProvider{t: t, key: key, refreshTTL: 30 * time.Minute}
	mux := http.NewServeMux()
	mux.HandleFunc("/realms/"+testRealm+"/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("/realms/"+testRealm+"/protocol/openid-connect/certs", p.jwks)
	mux.HandleFunc("/realms/"+testRealm+"/protocol/openid-connect/token", p.token)
	p.srv = httptest.NewUnstartedServer(mux)
	p.srv.Start()
	t.Cleanup(p.srv.Close)
	return p
}

func (p *testProvider) issuer() string {
	return p.srv.URL + "/realms/" + testRealm
}

func (p *testProvider) settings() idp.Settings {
	return idp.Settings{URL: p.srv.URL, Realm: testRealm, ClientID: testClientID, Secret: "s3cret"}
}

func (p *testProvider) config() idp.Config {
	return idp.Config{
		Settings:    p.settings(),
		RedirectURL: "https://app.example.com/auth/callback",
		HTTPClient:  p.srv.Client(),
	}
}

func (p *testProvider) discovery(w http.ResponseWriter, _ *http.Request) {
	base := p.issuer() + "/protocol/openid-connect"
	writeJSON(w, map[string]any{
		"issuer":                                p.issuer(),
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"jwks_uri":                              base + "/certs",
		"end_session_endpoint":                  base + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *testProvider) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := p.key.PublicKey
	writeJSON(w, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": testKeyID,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *testProvider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	grant := r.PostForm.Get("grant_type")

	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants = append(p.grants, grant)

	switch grant {
	case "authorization_code":
		verifier := r.PostForm.Get("code_verifier")
		p.lastVerifier = verifier
		sum := sha256.Sum256([]byte(verifier))
		if r.PostForm.Get("code") != "good-code" || base64.RawURLEncoding.EncodeToString(sum[:]) != p.challenge {
			writeGrantError(w)
			return
		}
	case "refresh_token":
		p.lastRefreshed = r.PostForm.Get("refresh_token")
		if p.rejectRefresh {
			writeGrantError(w)
			return
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	now := time.Now()
	writeJSON(w, map[string]any{
		"access_token":  p.hsToken(jwtlib.MapClaims{"sub": "user-1", "exp": now.Add(5 * time.Minute).Unix()}),
		"token_type":    "Bearer",
		"expires_in":    300,
		"refresh_token": p.hsToken(jwtlib.MapClaims{"sub": "user-1", "exp": now.Add(p.refreshTTL).Unix()}),
		"id_token":      p.idToken(now, p.nonce),
	})
}

func (p *testProvider) idToken(now time.Time, nonce string) string {
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, jwtlib.MapClaims{
		"iss":   p.issuer(),
		"aud":   testClientID,
		"sub":   "user-1",
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"nonce": nonce,
	})
	tok.Header["kid"] = testKeyID
	raw, err := tok.SignedString(p.key)
	if err != nil {
		p.t.Errorf("sign id token: %v", err)
	}
	return raw
}

func (p *testProvider) hsToken(mc jwtlib.MapClaims) string {
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, mc).SignedString([]byte("realm-secret"))
	if err != nil {
		p.t.Errorf("sign token: %v", err)
	}
	return raw
}

func (p *testProvider) expect(nonce, challenge string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce = nonce
	p.challenge = challenge
}

func (p *testProvider) failRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectRefresh = true
}

func (p *testProvider) lastRefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRefreshed
}

func (p *testProvider) lastCodeVerifier() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastVerifier
}

func (p *testProvider) grantTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.grants...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeGrantError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
}

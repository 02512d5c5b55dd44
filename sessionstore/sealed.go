package sessionstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"
)

var _ Store = (*SealedStore)(nil)

// SealedStore encrypts values before handing them to the wrapped store.
// The key name is bound as additional data so values cannot be swapped between keys.
type SealedStore struct {
	inner     Store
	key       []byte
	plaintext map[string]struct{}
	logger    zerolog.Logger
}

// NewSealedStore wraps inner with XChaCha20-Poly1305 sealing. Keys listed in
// plaintext are passed through unchanged (configuration, not credentials).
func NewSealedStore(inner Store, key []byte, logger zerolog.Logger, plaintext ...string) (*SealedStore, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.ErrInvalidSealKey
	}
	pt := make(map[string]struct{}, len(plaintext))
	for _, k := range plaintext {
		pt[k] = struct{}{}
	}
	return &SealedStore{
		inner:     inner,
		key:       append([]byte(nil), key...),
		plaintext: pt,
		logger:    logger,
	}, nil
}

// ParseSealKey decodes a hex encoded key.
func ParseSealKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, errors.ErrInvalidSealKey
	}
	return key, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	if _, pass := s.plaintext[key]; pass {
		return v, true, nil
	}

	plain, err := s.open(key, v)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Discarding unreadable sealed value")
		return "", false, nil
	}
	return plain, true, nil
}

func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	if _, pass := s.plaintext[key]; pass {
		return s.inner.Set(ctx, key, value)
	}
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *SealedStore) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *SealedStore) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}

func (s *SealedStore) seal(key, value string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrapf(err, "[SealedStore seal] nonce")
	}
	out := aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *SealedStore) open(key, value string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", errors.ErrSealedValueCorrupt
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.ErrSealedValueCorrupt
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", errors.ErrSealedValueCorrupt
	}
	return string(plain), nil
}

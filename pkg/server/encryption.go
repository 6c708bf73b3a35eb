package server

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/types"
)

func (s *Server) gcm(ctx context.Context) (cipher.AEAD, error) {
	if s.encryptionKey == "" {
		log.Ctx(ctx).ErrorContext(ctx, "no encryption key configured")
		return nil, errors.New("no encryption key configured")
	}

	key := []byte(s.encryptionKey)
	if len(key) != 32 {
		log.Ctx(ctx).ErrorContext(ctx, "invalid encryption key length (must be 32 bytes)", slog.Int("length", len(key)))
		return nil, errors.New("invalid encryption key length (must be 32 bytes)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create cipher", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create gcm", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

// encryptBytes seals plaintext with the server key and prepends the nonce.
func (s *Server) encryptBytes(ctx context.Context, plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm(ctx)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Server) decryptBytes(ctx context.Context, encrypted []byte) ([]byte, error) {
	gcm, err := s.gcm(ctx)
	if err != nil {
		return nil, err
	}

	if len(encrypted) < gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed encrypted payload", slog.Int("length", len(encrypted)))
		return nil, errors.New("malformed encrypted payload")
	}

	nonce, ciphertext := encrypted[:gcm.NonceSize()], encrypted[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt payload", slog.Any("error", err))
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return plaintext, nil
}

// encryptedTokens is a pair of independently sealed vendor tokens, stored
// on the charger document.
type encryptedTokens struct {
	access  []byte
	refresh []byte
}

func (s *Server) encryptChargerTokens(ctx context.Context, creds types.ChargerCredentials) (encryptedTokens, error) {
	access, err := s.encryptToken(ctx, creds.AccessToken)
	if err != nil {
		return encryptedTokens{}, err
	}
	refresh, err := s.encryptToken(ctx, creds.RefreshToken)
	if err != nil {
		return encryptedTokens{}, err
	}
	return encryptedTokens{access: access, refresh: refresh}, nil
}

// chargerCredentials decrypts the stored vendor tokens for a charger. A
// charger without an access token is an error since no vendor call can
// succeed without one.
func (s *Server) chargerCredentials(ctx context.Context, ch types.Charger) (types.ChargerCredentials, error) {
	access, err := s.decryptToken(ctx, ch.EncryptedAccessToken)
	if err != nil {
		return types.ChargerCredentials{}, err
	}
	if access == "" {
		return types.ChargerCredentials{}, errors.New("missing charger credentials")
	}
	refresh, err := s.decryptToken(ctx, ch.EncryptedRefreshToken)
	if err != nil {
		return types.ChargerCredentials{}, err
	}
	return types.ChargerCredentials{AccessToken: access, RefreshToken: refresh}, nil
}

// encryptToken encrypts a single opaque token (OAuth access/refresh token,
// DigitalOcean API key).
func (s *Server) encryptToken(ctx context.Context, token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	return s.encryptBytes(ctx, []byte(token))
}

func (s *Server) decryptToken(ctx context.Context, encrypted []byte) (string, error) {
	if len(encrypted) == 0 {
		return "", nil
	}
	plaintext, err := s.decryptBytes(ctx, encrypted)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

package server

import (
	"context"
	"testing"

	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryption(t *testing.T) {
	srv := &Server{encryptionKey: testEncryptionKey}
	ctx := context.Background()

	t.Run("Token Round Trip", func(t *testing.T) {
		encrypted, err := srv.encryptToken(ctx, "secret-token")
		require.NoError(t, err)
		assert.NotContains(t, string(encrypted), "secret-token")

		decrypted, err := srv.decryptToken(ctx, encrypted)
		require.NoError(t, err)
		assert.Equal(t, "secret-token", decrypted)
	})

	t.Run("Empty Token Stays Empty", func(t *testing.T) {
		encrypted, err := srv.encryptToken(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, encrypted)

		decrypted, err := srv.decryptToken(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, decrypted)
	})

	t.Run("Charger Tokens Round Trip", func(t *testing.T) {
		creds := types.ChargerCredentials{AccessToken: "access", RefreshToken: "refresh"}
		encrypted, err := srv.encryptChargerTokens(ctx, creds)
		require.NoError(t, err)

		got, err := srv.chargerCredentials(ctx, types.Charger{
			EncryptedAccessToken:  encrypted.access,
			EncryptedRefreshToken: encrypted.refresh,
		})
		require.NoError(t, err)
		assert.Equal(t, creds, got)
	})

	t.Run("Missing Access Token Is An Error", func(t *testing.T) {
		_, err := srv.chargerCredentials(ctx, types.Charger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing charger credentials")
	})

	t.Run("Tampered Ciphertext Fails", func(t *testing.T) {
		encrypted, err := srv.encryptToken(ctx, "secret-token")
		require.NoError(t, err)
		encrypted[len(encrypted)-1] ^= 0xff

		_, err = srv.decryptToken(ctx, encrypted)
		assert.Error(t, err)
	})

	t.Run("Short Ciphertext Fails", func(t *testing.T) {
		_, err := srv.decryptToken(ctx, []byte("short"))
		assert.Error(t, err)
	})

	t.Run("Wrong Key Length Fails", func(t *testing.T) {
		bad := &Server{encryptionKey: "too-short"}
		_, err := bad.encryptToken(ctx, "secret-token")
		assert.Error(t, err)
	})

	t.Run("No Key Fails", func(t *testing.T) {
		bad := &Server{}
		_, err := bad.encryptToken(ctx, "secret-token")
		assert.Error(t, err)
	})
}

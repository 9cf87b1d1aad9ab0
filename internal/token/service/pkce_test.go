package service

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
)

func challengeFor(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func TestVerifyPKCE(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	tests := []struct {
		name      string
		verifier  string
		challenge string
		method    string
		wantErr   bool
	}{
		{
			name:      "valid S256 pair",
			verifier:  verifier,
			challenge: challengeFor(verifier),
			method:    "S256",
			wantErr:   false,
		},
		{
			name:      "plain method is never accepted",
			verifier:  verifier,
			challenge: verifier,
			method:    "plain",
			wantErr:   true,
		},
		{
			name:      "mismatched challenge",
			verifier:  verifier,
			challenge: challengeFor("some-other-verifier-that-is-long-enough-to-pass"),
			method:    "S256",
			wantErr:   true,
		},
		{
			name:      "verifier too short",
			verifier:  "short",
			challenge: challengeFor("short"),
			method:    "S256",
			wantErr:   true,
		},
		{
			name:      "verifier too long",
			verifier:  strings.Repeat("a", 129),
			challenge: challengeFor(strings.Repeat("a", 129)),
			method:    "S256",
			wantErr:   true,
		},
		{
			name:      "verifier with invalid characters",
			verifier:  strings.Repeat("a", 42) + "!",
			challenge: challengeFor(strings.Repeat("a", 42) + "!"),
			method:    "S256",
			wantErr:   true,
		},
		{
			name:      "empty method",
			verifier:  verifier,
			challenge: challengeFor(verifier),
			method:    "",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPKCE(tt.verifier, tt.challenge, tt.method)

			if tt.wantErr {
				assert.ErrorIs(t, err, tokenDomain.ErrPKCEInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRefreshTokenService(t *testing.T) {
	service := NewRefreshTokenService()

	t.Run("generates unique tokens", func(t *testing.T) {
		plain1, hash1, err := service.GenerateToken()
		assert.NoError(t, err)
		plain2, hash2, err := service.GenerateToken()
		assert.NoError(t, err)

		assert.NotEqual(t, plain1, plain2)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("hash is deterministic and matches generated hash", func(t *testing.T) {
		plain, hash, err := service.GenerateToken()
		assert.NoError(t, err)

		assert.Equal(t, hash, service.HashToken(plain))
		assert.Equal(t, service.HashToken(plain), service.HashToken(plain))
	})

	t.Run("hash does not reveal the token", func(t *testing.T) {
		plain, hash, err := service.GenerateToken()
		assert.NoError(t, err)

		assert.NotContains(t, hash, plain)
		assert.Len(t, hash, 64)
	})
}

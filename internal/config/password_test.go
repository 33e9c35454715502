package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPasswordConfigDefaults(t *testing.T) {
	t.Setenv("BCRYPT_COST", "")
	t.Setenv("PASSWORD_PEPPER", "")

	cfg, err := NewPasswordConfig()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Empty(t, cfg.Pepper)
}

func TestNewPasswordConfigCostBounds(t *testing.T) {
	tests := []struct {
		cost    string
		want    int
		wantErr bool
	}{
		{cost: "10", want: 10},
		{cost: "14", want: 14},
		{cost: "9", wantErr: true},
		{cost: "15", wantErr: true},
		{cost: "0", wantErr: true},
		{cost: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.cost, func(t *testing.T) {
			t.Setenv("BCRYPT_COST", tt.cost)

			cfg, err := NewPasswordConfig()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.BcryptCost)
		})
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	cfg := &PasswordConfig{BcryptCost: 10}

	hash, err := cfg.HashPassword("hunter2-hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.True(t, cfg.VerifyPassword("hunter2-hunter2", hash))
	assert.False(t, cfg.VerifyPassword("wrong-password", hash))
	assert.False(t, cfg.VerifyPassword("hunter2-hunter2", ""))
	assert.False(t, cfg.VerifyPassword("hunter2-hunter2", "not-a-hash"))
}

func TestHashPasswordSaltsEachCall(t *testing.T) {
	cfg := &PasswordConfig{BcryptCost: 10}

	first, err := cfg.HashPassword("same-password")
	require.NoError(t, err)
	second, err := cfg.HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, cfg.VerifyPassword("same-password", first))
	assert.True(t, cfg.VerifyPassword("same-password", second))
}

func TestPepperBindsHashes(t *testing.T) {
	peppered := &PasswordConfig{BcryptCost: 10, Pepper: "side-secret"}
	plain := &PasswordConfig{BcryptCost: 10}

	hash, err := peppered.HashPassword("pw")
	require.NoError(t, err)

	assert.True(t, peppered.VerifyPassword("pw", hash))
	// Without the pepper the same password no longer matches.
	assert.False(t, plain.VerifyPassword("pw", hash))
}

func TestHashPasswordRejectsOver72Bytes(t *testing.T) {
	cfg := &PasswordConfig{BcryptCost: 10}

	// bcrypt errors instead of truncating past its 72-byte limit.
	hash, err := cfg.HashPassword(strings.Repeat("a", 100))
	assert.Error(t, err)
	assert.Empty(t, hash)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/securedash/internal/auth"
	"github.com/hnrobert/securedash/internal/credstore"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8501", cfg.ListenAddr)
	assert.Equal(t, "config.yaml", cfg.StorePath)
	assert.Equal(t, ".", cfg.DataDir)
	assert.Equal(t, []string{"admin"}, cfg.Admins)
	assert.Equal(t, auth.RegistrationPreAuthorized, cfg.RegistrationMode)
	assert.Empty(t, cfg.DisabledOps)
	assert.False(t, cfg.SecureCookie)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, auth.DefaultGeneratedPasswordLength, cfg.TempPasswordLength)
	assert.True(t, cfg.IsAdmin("admin"))
	assert.False(t, cfg.IsAdmin("jsmith"))
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"SECUREDASH_LISTEN":        "127.0.0.1:9000",
		"SECUREDASH_CONFIG":        "/srv/securedash/config.yaml",
		"SECUREDASH_ADMINS":        "Admin, ops ,",
		"SECUREDASH_REGISTRATION":  "OPEN",
		"SECUREDASH_DISABLED_OPS":  "forgot_password, update_details",
		"SECUREDASH_SECURE_COOKIE": "true",
		"SECUREDASH_BCRYPT_COST":   "4",

		"SECUREDASH_TEMP_PASSWORD_LENGTH": "20",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "/srv/securedash/config.yaml", cfg.StorePath)
	assert.Equal(t, []string{"admin", "ops"}, cfg.Admins)
	assert.Equal(t, auth.RegistrationOpen, cfg.RegistrationMode)
	assert.Equal(t, []auth.Op{auth.OpForgotPassword, auth.OpUpdateDetails}, cfg.DisabledOps)
	assert.True(t, cfg.SecureCookie)
	assert.Equal(t, 4, cfg.BcryptCost)
	assert.Equal(t, 20, cfg.TempPasswordLength)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"mode":          {"SECUREDASH_REGISTRATION": "invite"},
		"op":            {"SECUREDASH_DISABLED_OPS": "teleport"},
		"login":         {"SECUREDASH_DISABLED_OPS": "login"},
		"cost low":      {"SECUREDASH_BCRYPT_COST": "2"},
		"cost high":     {"SECUREDASH_BCRYPT_COST": "40"},
		"cost not int":  {"SECUREDASH_BCRYPT_COST": "ten"},
		"bool":          {"SECUREDASH_SECURE_COOKIE": "maybe"},
		"empty storage": {"SECUREDASH_CONFIG": "  "},
		"temp pw short": {"SECUREDASH_TEMP_PASSWORD_LENGTH": "4"},
		"temp pw long":  {"SECUREDASH_TEMP_PASSWORD_LENGTH": "100"},
	}
	for name, environ := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(environ)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestAuthOptions(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"SECUREDASH_REGISTRATION": "closed",
		"SECUREDASH_DISABLED_OPS": "forgot_username",
		"SECUREDASH_BCRYPT_COST":  "4",

		"SECUREDASH_TEMP_PASSWORD_LENGTH": "16",
	})
	require.NoError(t, err)

	hash, err := cfg.Hasher().Hash("secret1")
	require.NoError(t, err)
	cs := &credstore.ConfigStore{
		Credentials: credstore.Credentials{Usernames: map[string]credstore.Account{
			"jsmith": {Name: "John Smith", Email: "john.smith@example.com", PasswordHash: hash},
		}},
		Cookie: credstore.CookiePolicy{Name: "c", Key: "k", ExpiryDays: 1},
	}
	a := auth.FromStore(cs, cfg.AuthOptions()...)

	fp, err := a.ForgotPassword("jsmith")
	require.NoError(t, err)
	assert.Len(t, fp.NewPassword, 16)

	assert.False(t, a.Supports(auth.OpForgotUsername))
	assert.True(t, a.Supports(auth.OpForgotPassword))
	_, err = a.Register(auth.RegisterRequest{
		Username: "new", Name: "New", Email: "new@example.com",
		Password: "secret1", PasswordConfirm: "secret1",
	})
	assert.ErrorIs(t, err, auth.ErrRegistrationClosed)
}

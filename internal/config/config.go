// Package config reads the daemon's runtime settings from the environment.
// Account data lives in the credential store, not here.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"

	"github.com/hnrobert/securedash/internal/auth"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	minTempPasswordLength = 8
	maxTempPasswordLength = 64
)

type Config struct {
	ListenAddr string `env:"SECUREDASH_LISTEN" envDefault:":8501"`
	StorePath  string `env:"SECUREDASH_CONFIG" envDefault:"config.yaml"`
	// DataDir holds the logs/ directory.
	DataDir string `env:"SECUREDASH_DATA_DIR" envDefault:"."`

	Admins           []string              `env:"SECUREDASH_ADMINS" envDefault:"admin" envSeparator:","`
	RegistrationMode auth.RegistrationMode `env:"SECUREDASH_REGISTRATION" envDefault:"preauthorized"`
	DisabledOps      []auth.Op             `env:"SECUREDASH_DISABLED_OPS" envSeparator:","`

	SecureCookie bool `env:"SECUREDASH_SECURE_COOKIE" envDefault:"false"`
	BcryptCost   int  `env:"SECUREDASH_BCRYPT_COST" envDefault:"10"`
	// TempPasswordLength is the length of passwords issued by the forgot
	// password flow.
	TempPasswordLength int `env:"SECUREDASH_TEMP_PASSWORD_LENGTH" envDefault:"12"`

	// NoticeFile optionally replaces the built-in dashboard notice (markdown).
	NoticeFile string `env:"SECUREDASH_NOTICE_FILE"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses with environ supplying the variables.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %w", ErrInvalid, err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	mode, err := auth.ParseRegistrationMode(string(c.RegistrationMode))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c.RegistrationMode = mode

	ops := make([]auth.Op, 0, len(c.DisabledOps))
	for _, raw := range c.DisabledOps {
		if strings.TrimSpace(string(raw)) == "" {
			continue
		}
		op, err := auth.ParseOp(string(raw))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if op == auth.OpLogin {
			return fmt.Errorf("%w: login cannot be disabled", ErrInvalid)
		}
		ops = append(ops, op)
	}
	c.DisabledOps = ops

	admins := make([]string, 0, len(c.Admins))
	for _, a := range c.Admins {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			admins = append(admins, a)
		}
	}
	c.Admins = admins

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("%w: bcrypt cost %d out of range %d..%d", ErrInvalid, c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.TempPasswordLength < minTempPasswordLength || c.TempPasswordLength > maxTempPasswordLength {
		return fmt.Errorf("%w: temporary password length %d out of range %d..%d", ErrInvalid, c.TempPasswordLength, minTempPasswordLength, maxTempPasswordLength)
	}
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("%w: store path is empty", ErrInvalid)
	}
	return nil
}

func (c Config) IsAdmin(username string) bool {
	return slices.Contains(c.Admins, username)
}

func (c Config) Hasher() auth.Hasher {
	return auth.NewBcryptHasher(c.BcryptCost)
}

// AuthOptions turns the settings into options for auth.FromStore.
func (c Config) AuthOptions() []auth.Option {
	return []auth.Option{
		auth.WithHasher(c.Hasher()),
		auth.WithRegistrationMode(c.RegistrationMode),
		auth.WithDisabled(c.DisabledOps...),
		auth.WithGeneratedPasswordLength(c.TempPasswordLength),
	}
}

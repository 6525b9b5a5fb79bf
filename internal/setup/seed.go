// Package setup builds the initial credential store for a new deployment.
package setup

import (
	"fmt"

	"github.com/hnrobert/securedash/internal/auth"
	"github.com/hnrobert/securedash/internal/credstore"
)

const (
	DefaultCookieName = "securedash_auth_cookie"
	DefaultExpiryDays = 30
)

// DemoAccount is a seed user with its plaintext password. The password only
// ever reaches the hasher.
type DemoAccount struct {
	Username string
	Name     string
	Email    string
	Password string
}

var DemoAccounts = []DemoAccount{
	{Username: "admin", Name: "Administrator", Email: "admin@example.com", Password: "admin123"},
	{Username: "jsmith", Name: "John Smith", Email: "john.smith@example.com", Password: "password456"},
	{Username: "mjones", Name: "Mary Jones", Email: "mary.jones@example.com", Password: "securepass789"},
}

// Seed returns a store holding accounts with hashed passwords, a random
// cookie signing key and the admin address pre-authorized.
func Seed(h auth.Hasher, accounts []DemoAccount) (*credstore.ConfigStore, error) {
	key, err := auth.NewRandomSecretB64(32)
	if err != nil {
		return nil, fmt.Errorf("generating cookie key: %w", err)
	}
	cs := &credstore.ConfigStore{
		Credentials:   credstore.Credentials{Usernames: map[string]credstore.Account{}},
		Cookie:        credstore.CookiePolicy{Name: DefaultCookieName, Key: key, ExpiryDays: DefaultExpiryDays},
		PreAuthorized: []string{"admin@example.com"},
	}
	for _, a := range accounts {
		if !auth.ValidUsername(a.Username) {
			return nil, fmt.Errorf("invalid username %q", a.Username)
		}
		hash, err := h.Hash(a.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password for %s: %w", a.Username, err)
		}
		credstore.UpsertAccount(cs, a.Username, credstore.Account{Name: a.Name, Email: a.Email, PasswordHash: hash})
	}
	return cs, nil
}

// Init writes the seed store to path. An existing file is kept unless force
// is set. It reports whether it wrote.
func Init(store *credstore.Store, h auth.Hasher, force bool) (bool, error) {
	cs, err := Seed(h, DemoAccounts)
	if err != nil {
		return false, err
	}
	if force {
		if err := store.Save(cs); err != nil {
			return false, err
		}
		return true, nil
	}
	return store.Ensure(cs)
}

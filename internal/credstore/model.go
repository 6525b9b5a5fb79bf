package credstore

import (
	"fmt"
	"sort"
	"strings"
)

// Account is one entry under credentials.usernames. PasswordHash holds the
// hash produced by the authenticator, never a plaintext password.
type Account struct {
	Name         string `yaml:"name"`
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password"`

	// Keys written by other tools (roles, failed_login_attempts, ...).
	Extra map[string]any `yaml:",inline"`
}

type Credentials struct {
	Usernames map[string]Account `yaml:"usernames"`

	Extra map[string]any `yaml:",inline"`
}

// CookiePolicy governs the session token issued at login.
type CookiePolicy struct {
	Name       string `yaml:"name"`
	Key        string `yaml:"key"`
	ExpiryDays int    `yaml:"expiry_days"`

	Extra map[string]any `yaml:",inline"`
}

const (
	MinExpiryDays = 1
	MaxExpiryDays = 365
)

// ConfigStore is the whole on-disk document.
type ConfigStore struct {
	Credentials   Credentials  `yaml:"credentials"`
	Cookie        CookiePolicy `yaml:"cookie"`
	PreAuthorized []string     `yaml:"pre_authorized"`

	Extra map[string]any `yaml:",inline"`
}

// Validate reports the first structural problem that would make the document
// unusable by the authenticator.
func (c *ConfigStore) Validate() error {
	if strings.TrimSpace(c.Cookie.Name) == "" {
		return fmt.Errorf("cookie.name is required")
	}
	if strings.TrimSpace(c.Cookie.Key) == "" {
		return fmt.Errorf("cookie.key is required")
	}
	if c.Cookie.ExpiryDays < MinExpiryDays || c.Cookie.ExpiryDays > MaxExpiryDays {
		return fmt.Errorf("cookie.expiry_days must be between %d and %d, got %d", MinExpiryDays, MaxExpiryDays, c.Cookie.ExpiryDays)
	}
	seen := make(map[string]string, len(c.Credentials.Usernames))
	for username := range c.Credentials.Usernames {
		if strings.TrimSpace(username) == "" {
			return fmt.Errorf("credentials.usernames contains an empty username")
		}
		folded := strings.ToLower(username)
		if other, dup := seen[folded]; dup {
			return fmt.Errorf("credentials.usernames has %q and %q, which differ only in case", other, username)
		}
		seen[folded] = username
	}
	return nil
}

func (c *ConfigStore) normalize() {
	if c.Credentials.Usernames == nil {
		c.Credentials.Usernames = map[string]Account{}
	}
	if c.PreAuthorized == nil {
		c.PreAuthorized = []string{}
	}
}

// Key returns the key username is stored under. Keys are matched exactly
// first and then without regard to case, so hand-edited entries such as
// "JSmith" still resolve.
func (c *ConfigStore) Key(username string) (string, bool) {
	if _, ok := c.Credentials.Usernames[username]; ok {
		return username, true
	}
	for k := range c.Credentials.Usernames {
		if strings.EqualFold(k, username) {
			return k, true
		}
	}
	return "", false
}

// Account returns the record stored at username, compared as Key does.
func (c *ConfigStore) Account(username string) (Account, bool) {
	k, ok := c.Key(username)
	if !ok {
		return Account{}, false
	}
	return c.Credentials.Usernames[k], true
}

// Usernames returns all usernames in lexical order.
func (c *ConfigStore) Usernames() []string {
	out := make([]string, 0, len(c.Credentials.Usernames))
	for u := range c.Credentials.Usernames {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// UsernameByEmail finds the account registered with email (case-insensitive).
func (c *ConfigStore) UsernameByEmail(email string) (string, bool) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", false
	}
	for _, u := range c.Usernames() {
		if strings.EqualFold(c.Credentials.Usernames[u].Email, email) {
			return u, true
		}
	}
	return "", false
}

func (c *ConfigStore) IsPreAuthorized(email string) bool {
	email = strings.TrimSpace(email)
	for _, e := range c.PreAuthorized {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

// RemovePreAuthorized drops email from the pre-authorized list once it has
// been used to register.
func (c *ConfigStore) RemovePreAuthorized(email string) bool {
	email = strings.TrimSpace(email)
	for i, e := range c.PreAuthorized {
		if strings.EqualFold(e, email) {
			c.PreAuthorized = append(c.PreAuthorized[:i:i], c.PreAuthorized[i+1:]...)
			return true
		}
	}
	return false
}

// UpsertAccount inserts or replaces the account at username. An existing
// entry whose key differs only in case is replaced under its own key. The
// change is only durable once the store is passed to Store.Save.
func UpsertAccount(c *ConfigStore, username string, acct Account) {
	c.normalize()
	if k, ok := c.Key(username); ok {
		username = k
	}
	c.Credentials.Usernames[username] = acct
}

// Clone returns a deep copy so cached snapshots cannot be mutated through
// the returned value.
func (c *ConfigStore) Clone() *ConfigStore {
	out := &ConfigStore{
		Credentials: Credentials{
			Extra: cloneMap(c.Credentials.Extra),
		},
		Cookie: c.Cookie,
		Extra:  cloneMap(c.Extra),
	}
	out.Cookie.Extra = cloneMap(c.Cookie.Extra)
	if c.PreAuthorized != nil {
		out.PreAuthorized = make([]string, len(c.PreAuthorized))
		copy(out.PreAuthorized, c.PreAuthorized)
	}
	if c.Credentials.Usernames != nil {
		out.Credentials.Usernames = make(map[string]Account, len(c.Credentials.Usernames))
		for u, a := range c.Credentials.Usernames {
			a.Extra = cloneMap(a.Extra)
			out.Credentials.Usernames[u] = a
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hnrobert/securedash/internal/credstore"
)

type Op string

const (
	OpLogin          Op = "login"
	OpLogout         Op = "logout"
	OpRegister       Op = "register"
	OpForgotPassword Op = "forgot_password"
	OpForgotUsername Op = "forgot_username"
	OpChangePassword Op = "change_password"
	OpUpdateDetails  Op = "update_details"
)

var AllOps = []Op{OpLogin, OpLogout, OpRegister, OpForgotPassword, OpForgotUsername, OpChangePassword, OpUpdateDetails}

func ParseOp(s string) (Op, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, op := range AllOps {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown authenticator operation %q", s)
}

type RegistrationMode string

const (
	RegistrationClosed        RegistrationMode = "closed"
	RegistrationPreAuthorized RegistrationMode = "preauthorized"
	RegistrationOpen          RegistrationMode = "open"
)

func ParseRegistrationMode(s string) (RegistrationMode, error) {
	switch m := RegistrationMode(strings.ToLower(strings.TrimSpace(s))); m {
	case RegistrationClosed, RegistrationPreAuthorized, RegistrationOpen:
		return m, nil
	}
	return "", fmt.Errorf("invalid registration mode %q", s)
}

// Authenticator is everything the web layer needs from the authentication
// collaborator. None of the methods write the credential store.
type Authenticator interface {
	Supports(op Op) bool
	CookieName() string
	TTL() time.Duration

	Login(username, password string) (LoginResult, error)
	Verify(token string) (*Session, error)
	Logout(token string) error
	Register(req RegisterRequest) (RegisterResult, error)
	ForgotPassword(username string) (ForgotPasswordResult, error)
	ForgotUsername(email string) (ForgotUsernameResult, error)
	ChangePassword(username string, req ChangePasswordRequest) (AccountUpdate, error)
	UpdateDetails(username string, req UpdateDetailsRequest) (AccountUpdate, error)
}

type LoginResult struct {
	Username  string
	Name      string
	Email     string
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

type RegisterRequest struct {
	Username        string `validate:"required,username"`
	Name            string `validate:"required,max=100"`
	Email           string `validate:"required,email,max=254"`
	Password        string `validate:"required,min=6,max=72"`
	PasswordConfirm string `validate:"required,eqfield=Password"`
}

type RegisterResult struct {
	Username string
	Account  credstore.Account
	// PreAuthorizedEmail is set when the registration used up a
	// pre-authorized entry.
	PreAuthorizedEmail string
}

// Apply adds the new account to a freshly loaded store, re-checking
// uniqueness and the pre-authorized entry against it.
func (r RegisterResult) Apply(cs *credstore.ConfigStore) error {
	if _, exists := cs.Account(r.Username); exists {
		return ErrUsernameTaken
	}
	if _, taken := cs.UsernameByEmail(r.Account.Email); taken {
		return ErrEmailTaken
	}
	if r.PreAuthorizedEmail != "" && !cs.RemovePreAuthorized(r.PreAuthorizedEmail) {
		return ErrNotPreAuthorized
	}
	credstore.UpsertAccount(cs, r.Username, r.Account)
	return nil
}

type ForgotPasswordResult struct {
	Username     string
	Email        string
	NewPassword  string
	PasswordHash string
}

func (r ForgotPasswordResult) Apply(cs *credstore.ConfigStore) error {
	acct, ok := cs.Account(r.Username)
	if !ok {
		return ErrUnknownUser
	}
	acct.PasswordHash = r.PasswordHash
	credstore.UpsertAccount(cs, r.Username, acct)
	return nil
}

type ForgotUsernameResult struct {
	Username string
	Email    string
}

type ChangePasswordRequest struct {
	CurrentPassword    string `validate:"required"`
	NewPassword        string `validate:"required,min=6,max=72,nefield=CurrentPassword"`
	NewPasswordConfirm string `validate:"required,eqfield=NewPassword"`
}

type UpdateDetailsRequest struct {
	Name  string `validate:"required,max=100"`
	Email string `validate:"required,email,max=254"`
}

// AccountUpdate carries the fields of an existing account that an operation
// changed. Apply copies them onto the freshly loaded record and keeps any
// other keys that record has.
type AccountUpdate struct {
	Username     string
	Name         string
	Email        string
	PasswordHash string
}

func (u AccountUpdate) Apply(cs *credstore.ConfigStore) error {
	acct, ok := cs.Account(u.Username)
	if !ok {
		return ErrUnknownUser
	}
	if u.Email != "" {
		if other, taken := cs.UsernameByEmail(u.Email); taken && other != u.Username {
			return ErrEmailTaken
		}
		acct.Email = u.Email
	}
	if u.Name != "" {
		acct.Name = u.Name
	}
	if u.PasswordHash != "" {
		acct.PasswordHash = u.PasswordHash
	}
	credstore.UpsertAccount(cs, u.Username, acct)
	return nil
}

// Local is the in-process Authenticator: bcrypt password hashes and HS256
// signed session tokens keyed by the cookie policy.
type Local struct {
	// view holds the credentials keyed by lowercased username.
	view       *credstore.ConfigStore
	cookieName string
	key        []byte
	ttl        time.Duration

	hasher      Hasher
	mode        RegistrationMode
	disabled    map[Op]bool
	revocations *Revocations
	validate    *validator.Validate
	now         func() time.Time
	genLen      int
}

type Option func(*Local)

func WithHasher(h Hasher) Option {
	return func(a *Local) { a.hasher = h }
}

func WithRegistrationMode(m RegistrationMode) Option {
	return func(a *Local) { a.mode = m }
}

// WithDisabled switches operations off; they return *UnsupportedError.
func WithDisabled(ops ...Op) Option {
	return func(a *Local) {
		for _, op := range ops {
			a.disabled[op] = true
		}
	}
}

// WithRevocations shares a revocation list between authenticators built for
// different requests.
func WithRevocations(r *Revocations) Option {
	return func(a *Local) { a.revocations = r }
}

func WithClock(now func() time.Time) Option {
	return func(a *Local) { a.now = now }
}

const DefaultGeneratedPasswordLength = 12

// WithGeneratedPasswordLength sets the length of passwords issued by
// ForgotPassword.
func WithGeneratedPasswordLength(n int) Option {
	return func(a *Local) { a.genLen = n }
}

// New builds an authenticator over a credentials snapshot. The map is only
// read. Usernames are matched without regard to case.
func New(credentials map[string]credstore.Account, cookieName, cookieKey string, expiryDays int, preAuthorized []string, opts ...Option) *Local {
	a := &Local{
		view: &credstore.ConfigStore{
			Credentials:   credstore.Credentials{Usernames: lowercaseKeys(credentials)},
			PreAuthorized: preAuthorized,
		},
		cookieName: cookieName,
		key:        []byte(cookieKey),
		ttl:        time.Duration(expiryDays) * 24 * time.Hour,
		mode:       RegistrationPreAuthorized,
		disabled:   map[Op]bool{},
		now:        time.Now,
		genLen:     DefaultGeneratedPasswordLength,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.hasher == nil {
		a.hasher = NewBcryptHasher(0)
	}
	if a.revocations == nil {
		a.revocations = NewRevocations()
	}
	a.validate = defaultValidator
	return a
}

// FromStore is New fed from a loaded ConfigStore.
func FromStore(cs *credstore.ConfigStore, opts ...Option) *Local {
	return New(cs.Credentials.Usernames, cs.Cookie.Name, cs.Cookie.Key, cs.Cookie.ExpiryDays, cs.PreAuthorized, opts...)
}

func (a *Local) Supports(op Op) bool {
	return !a.disabled[op]
}

func (a *Local) CookieName() string { return a.cookieName }

func (a *Local) TTL() time.Duration { return a.ttl }

func (a *Local) require(op Op) error {
	if a.disabled[op] {
		return &UnsupportedError{Op: op}
	}
	return nil
}

func normalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// lowercaseKeys copies credentials under lowercased keys. When two keys fold
// to the same name the already-lowercase one wins.
func lowercaseKeys(credentials map[string]credstore.Account) map[string]credstore.Account {
	out := make(map[string]credstore.Account, len(credentials))
	for u, acct := range credentials {
		k := strings.ToLower(u)
		if _, dup := out[k]; dup && u != k {
			continue
		}
		out[k] = acct
	}
	return out
}

func (a *Local) Login(username, password string) (LoginResult, error) {
	if err := a.require(OpLogin); err != nil {
		return LoginResult{}, err
	}
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	acct, ok := a.view.Credentials.Usernames[username]
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := a.hasher.Verify(acct.PasswordHash, password); err != nil {
		return LoginResult{}, err
	}
	tok, claims, err := SignHS256(a.key, username, acct.Name, acct.Email, a.now(), a.ttl)
	if err != nil {
		return LoginResult{}, fmt.Errorf("signing session token: %w", err)
	}
	return LoginResult{
		Username:  username,
		Name:      acct.Name,
		Email:     acct.Email,
		Token:     tok,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks a session token and returns the session it stands for. Name
// and email come from the current credentials, not from the token.
func (a *Local) Verify(token string) (*Session, error) {
	now := a.now()
	claims, err := ParseHS256(a.key, token, now)
	if err != nil {
		return nil, err
	}
	if a.revocations.IsRevoked(claims.ID, now) {
		return nil, ErrInvalidToken
	}
	acct, ok := a.view.Credentials.Usernames[claims.Username]
	if !ok {
		return nil, ErrInvalidToken
	}
	s := SessionFromClaims(claims)
	s.Name = acct.Name
	s.Email = acct.Email
	return s, nil
}

func (a *Local) Logout(token string) error {
	if err := a.require(OpLogout); err != nil {
		return err
	}
	now := a.now()
	claims, err := ParseHS256(a.key, token, now)
	if err != nil {
		return err
	}
	a.revocations.Revoke(claims.ID, claims.ExpiresAt.Time, now)
	return nil
}

func (a *Local) Register(req RegisterRequest) (RegisterResult, error) {
	if err := a.require(OpRegister); err != nil {
		return RegisterResult{}, err
	}
	req.Username = normalizeUsername(req.Username)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := checkStruct(a.validate, req); err != nil {
		return RegisterResult{}, err
	}

	var consumed string
	switch a.mode {
	case RegistrationClosed:
		return RegisterResult{}, ErrRegistrationClosed
	case RegistrationPreAuthorized:
		if !a.view.IsPreAuthorized(req.Email) {
			return RegisterResult{}, ErrNotPreAuthorized
		}
		consumed = req.Email
	}

	if _, exists := a.view.Credentials.Usernames[req.Username]; exists {
		return RegisterResult{}, ErrUsernameTaken
	}
	if a.emailOwner(req.Email) != "" {
		return RegisterResult{}, ErrEmailTaken
	}
	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{
		Username:           req.Username,
		Account:            credstore.Account{Name: req.Name, Email: req.Email, PasswordHash: hash},
		PreAuthorizedEmail: consumed,
	}, nil
}

func (a *Local) ForgotPassword(username string) (ForgotPasswordResult, error) {
	if err := a.require(OpForgotPassword); err != nil {
		return ForgotPasswordResult{}, err
	}
	username = normalizeUsername(username)
	if username == "" {
		return ForgotPasswordResult{}, &InputError{Field: "Username", Message: "Username is required."}
	}
	acct, ok := a.view.Credentials.Usernames[username]
	if !ok {
		return ForgotPasswordResult{}, ErrUnknownUser
	}
	pw, err := GeneratePassword(a.genLen)
	if err != nil {
		return ForgotPasswordResult{}, fmt.Errorf("generating password: %w", err)
	}
	hash, err := a.hasher.Hash(pw)
	if err != nil {
		return ForgotPasswordResult{}, err
	}
	return ForgotPasswordResult{Username: username, Email: acct.Email, NewPassword: pw, PasswordHash: hash}, nil
}

func (a *Local) ForgotUsername(email string) (ForgotUsernameResult, error) {
	if err := a.require(OpForgotUsername); err != nil {
		return ForgotUsernameResult{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return ForgotUsernameResult{}, &InputError{Field: "Email", Message: "Email is required."}
	}
	u := a.emailOwner(email)
	if u == "" {
		return ForgotUsernameResult{}, ErrUnknownEmail
	}
	return ForgotUsernameResult{Username: u, Email: a.view.Credentials.Usernames[u].Email}, nil
}

func (a *Local) ChangePassword(username string, req ChangePasswordRequest) (AccountUpdate, error) {
	if err := a.require(OpChangePassword); err != nil {
		return AccountUpdate{}, err
	}
	acct, ok := a.view.Credentials.Usernames[username]
	if !ok {
		return AccountUpdate{}, ErrUnknownUser
	}
	if err := checkStruct(a.validate, req); err != nil {
		return AccountUpdate{}, err
	}
	if err := a.hasher.Verify(acct.PasswordHash, req.CurrentPassword); err != nil {
		return AccountUpdate{}, err
	}
	hash, err := a.hasher.Hash(req.NewPassword)
	if err != nil {
		return AccountUpdate{}, err
	}
	return AccountUpdate{Username: username, PasswordHash: hash}, nil
}

func (a *Local) UpdateDetails(username string, req UpdateDetailsRequest) (AccountUpdate, error) {
	if err := a.require(OpUpdateDetails); err != nil {
		return AccountUpdate{}, err
	}
	if _, ok := a.view.Credentials.Usernames[username]; !ok {
		return AccountUpdate{}, ErrUnknownUser
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := checkStruct(a.validate, req); err != nil {
		return AccountUpdate{}, err
	}
	if owner := a.emailOwner(req.Email); owner != "" && owner != username {
		return AccountUpdate{}, ErrEmailTaken
	}
	return AccountUpdate{Username: username, Name: req.Name, Email: req.Email}, nil
}

func (a *Local) emailOwner(email string) string {
	u, _ := a.view.UsernameByEmail(email)
	return u
}

var _ Authenticator = (*Local)(nil)

package auth

import (
	"errors"
	"fmt"
	"time"
)

type Status int

const (
	StatusUnauthenticated Status = iota
	StatusPending
	StatusAuthenticated
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusPending:
		return "pending"
	case StatusAuthenticated:
		return "authenticated"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var ErrInvalidTransition = errors.New("invalid session transition")

// Session is the per-request view of who is signed in. It is built by the
// HTTP middleware from the session cookie and handed to every page handler;
// nothing about it outlives the request.
type Session struct {
	Status   Status
	Username string
	Name     string
	Email    string

	TokenID   string
	ExpiresAt time.Time
}

func NewSession() *Session {
	return &Session{Status: StatusUnauthenticated}
}

// SessionFromClaims restores an authenticated session from a verified token.
func SessionFromClaims(c *Claims) *Session {
	s := &Session{
		Status:   StatusAuthenticated,
		Username: c.Username,
		Name:     c.Name,
		Email:    c.Email,
		TokenID:  c.ID,
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

func (s *Session) Authenticated() bool {
	return s != nil && s.Status == StatusAuthenticated
}

// Submit records that credentials for username were sent. Allowed from
// unauthenticated and failed (retry).
func (s *Session) Submit(username string) error {
	if s.Status != StatusUnauthenticated && s.Status != StatusFailed {
		return fmt.Errorf("%w: submit from %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusPending
	s.Username = username
	s.Name, s.Email, s.TokenID = "", "", ""
	s.ExpiresAt = time.Time{}
	return nil
}

func (s *Session) Succeed(res LoginResult) error {
	if s.Status != StatusPending {
		return fmt.Errorf("%w: succeed from %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusAuthenticated
	s.Username = res.Username
	s.Name = res.Name
	s.Email = res.Email
	s.TokenID = res.TokenID
	s.ExpiresAt = res.ExpiresAt
	return nil
}

func (s *Session) Fail() error {
	if s.Status != StatusPending {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusFailed
	return nil
}

func (s *Session) Logout() error {
	if s.Status != StatusAuthenticated {
		return fmt.Errorf("%w: logout from %s", ErrInvalidTransition, s.Status)
	}
	*s = Session{Status: StatusUnauthenticated}
	return nil
}

package auth

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupported        = errors.New("operation not supported")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownUser        = errors.New("unknown user")
	ErrUnknownEmail       = errors.New("no account with that email")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already registered")
	ErrRegistrationClosed = errors.New("registration is closed")
	ErrNotPreAuthorized   = errors.New("email is not pre-authorized")
)

// UnsupportedError is returned by operations this authenticator was built
// without. It matches ErrUnsupported.
type UnsupportedError struct {
	Op Op
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, ErrUnsupported)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// InputError describes a rejected form field. It matches ErrInvalidInput.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IsUnsupported reports whether err means "this flow is switched off" as
// opposed to a failure inside the flow.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

func HumanAuthError(err error) string {
	var inErr *InputError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &inErr):
		return inErr.Message
	case errors.Is(err, ErrUnsupported):
		return "This feature is not available. Please contact your administrator."
	case errors.Is(err, ErrInvalidCredentials):
		return "Username or password is incorrect."
	case errors.Is(err, ErrUnsupportedHash):
		return "This account uses a password format that cannot be verified. Ask an administrator to reset it."
	case errors.Is(err, ErrPasswordTooLong):
		return "Password is too long."
	case errors.Is(err, ErrUnknownUser):
		return "Username not found."
	case errors.Is(err, ErrUnknownEmail):
		return "Email not found."
	case errors.Is(err, ErrUsernameTaken):
		return "That username is already taken."
	case errors.Is(err, ErrEmailTaken):
		return "That email is already registered."
	case errors.Is(err, ErrRegistrationClosed):
		return "Registration is disabled by the administrator."
	case errors.Is(err, ErrNotPreAuthorized):
		return "This email is not pre-authorized to register."
	default:
		return fmt.Sprintf("Request failed: %v", err)
	}
}

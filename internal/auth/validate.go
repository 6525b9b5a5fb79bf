package auth

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var usernameRe = regexp.MustCompile(`^[a-z_][a-z0-9_.-]{0,31}$`)

// ValidUsername accepts lowercase letters, digits, underscore, dot and dash,
// starting with a letter or underscore, at most 32 characters.
func ValidUsername(u string) bool {
	return usernameRe.MatchString(u)
}

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return ValidUsername(fl.Field().String())
	})
	return v
}

// checkStruct runs the validate tags on s and converts the first failure into
// an *InputError with a message fit for the form.
func checkStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &InputError{Field: fe.Field(), Message: fieldMessage(fe)}
}

func fieldMessage(fe validator.FieldError) string {
	label := fe.Field()
	switch fe.Field() {
	case "PasswordConfirm", "NewPasswordConfirm":
		if fe.Tag() == "eqfield" {
			return "Passwords do not match."
		}
		label = "Password confirmation"
	case "NewPassword":
		label = "New password"
	case "CurrentPassword":
		label = "Current password"
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", label)
	case "email":
		return "Email address is not valid."
	case "username":
		return "Invalid username. Use lowercase letters, digits, dot, underscore or dash, starting with a letter or underscore."
	case "min":
		return fmt.Sprintf("%s must be at least %s characters.", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", label, fe.Param())
	case "nefield":
		return "New and current passwords are the same."
	default:
		return fmt.Sprintf("%s is invalid.", label)
	}
}

// ValidateForm checks the validate tags of a request built outside an
// Authenticator, such as the manual registration form.
func ValidateForm(s any) error {
	return checkStruct(defaultValidator, s)
}

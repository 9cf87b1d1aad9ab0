// Package validation provides custom validation rules shared by the HTTP DTOs.
package validation

import (
	"strings"

	validation "github.com/jellydator/validation"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput so
// the HTTP layer can map them uniformly.
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// NotBlank validates that a string is not empty after trimming whitespace.
// validation.Required alone accepts strings of spaces.
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

package domain

import (
	"github.com/sallyport/gateway/internal/errors"
)

// Principal domain errors.
var (
	// ErrPrincipalNotFound indicates a principal with the specified ID or subject was not found.
	ErrPrincipalNotFound = errors.Wrap(errors.ErrNotFound, "principal not found")

	// ErrPrincipalInactive indicates the principal exists but has been deactivated.
	ErrPrincipalInactive = errors.Wrap(errors.ErrForbidden, "principal is not active")
)

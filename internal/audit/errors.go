package audit

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the writer, reader and actor resolver. Callers
// classify with errors.Is; every returned error wraps exactly one of these.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation failed")
	ErrProfileNotFound = errors.New("profile not found")
	ErrPersistence     = errors.New("persistence failure")
	ErrRecordNotFound  = errors.New("audit record not found")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

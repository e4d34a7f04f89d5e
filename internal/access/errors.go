package access

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing catalog row or subject.
	ErrNotFound = errors.New("access: not found")
	// ErrConflict indicates a unique-constraint violation on create.
	ErrConflict = errors.New("access: conflict")
	// ErrAuthentication indicates a bad client or subject credential. The
	// message is deliberately generic so callers cannot distinguish an
	// unknown subject from a wrong secret.
	ErrAuthentication = errors.New("access: authentication failed")
	// ErrAuthorization indicates the caller's gate denied the operation.
	ErrAuthorization = errors.New("access: forbidden")
	// ErrInvalidGrant indicates a refresh token that is unknown, revoked,
	// expired, or reused.
	ErrInvalidGrant = errors.New("access: invalid grant")
)

// ValidationError reports the first failing field of a validator chain.
// Validation always runs before any write, so a ValidationError never
// accompanies a partial mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("access: validation failed on %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

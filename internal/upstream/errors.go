package upstream

import (
	"errors"
	"fmt"
)

// AuthError marks an upstream response that rejected the current
// credential. The guard reacts by invalidating the session and forcing
// one re-login before giving up on the attempt.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "authentication rejected"
	}
	return fmt.Sprintf("authentication rejected: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Auth wraps err as an AuthError.
func Auth(err error) error { return &AuthError{Err: err} }

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

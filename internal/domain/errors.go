package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrAlreadyBlocked = errors.New("user already blocked")
	ErrNotBlocked     = errors.New("user not blocked")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrConflict       = errors.New("conflict")
)

// IsBusiness reports whether err is one of the typed rule violations that may
// be returned to clients verbatim.
func IsBusiness(err error) bool {
	for _, target := range []error{ErrNotFound, ErrForbidden, ErrAlreadyBlocked, ErrNotBlocked, ErrInvalidPayload, ErrConflict} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Package errs holds the sentinel errors shared by the share session
// components. Handlers map them to HTTP status codes, callers match them
// with errors.Is.
package errs

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNameConflict    = errors.New("name already shared")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrEmptyFileSet    = errors.New("no files to share")
	ErrInvalidState    = errors.New("operation not valid in current state")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockedOut       = errors.New("too many failed authorization attempts")
)

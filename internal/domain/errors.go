package domain

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w", err) and
// transport layers map them with errors.Is.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrConflict       = errors.New("conflict")
	ErrInvalidState   = errors.New("invalid state")
	ErrAuthorization  = errors.New("not authorized")
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
)

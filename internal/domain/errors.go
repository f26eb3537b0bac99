package domain

import "errors"

// Error kinds surfaced to clients. Wrap them with fmt.Errorf("%w: detail", Err...)
// so callers can classify with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrAccessDenied     = errors.New("access denied")
	ErrRateLimited      = errors.New("rate limited")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrNotFound         = errors.New("not found")
	ErrTransportFailure = errors.New("transport failure")
)

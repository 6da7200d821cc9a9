package httpapi

import "errors"

var (
	// ErrUnauthenticated means the request carried no usable bearer token.
	ErrUnauthenticated = errors.New("httpapi: unauthenticated")
	// ErrForbidden means the request failed a signature check, such as a
	// tampered tracking link.
	ErrForbidden = errors.New("httpapi: forbidden")
	// ErrNotFound means the requested resource does not exist, or exists
	// but is scoped to a different merchant (the two are deliberately
	// indistinguishable to the caller).
	ErrNotFound = errors.New("httpapi: not found")
	// ErrValidation means the request body failed a field-level check.
	ErrValidation = errors.New("httpapi: validation failed")
)

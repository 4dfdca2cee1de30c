package vault

import "errors"

var (
	// ErrNotFound is returned when no secret exists for the requested owner or reference.
	ErrNotFound = errors.New("vault secret not found")
	// ErrUnavailable is returned when the backend cannot be reached or times out. It is retryable.
	ErrUnavailable = errors.New("vault unavailable")
	// ErrInvalidOwner is returned for an empty owner id.
	ErrInvalidOwner = errors.New("vault owner id required")
	// ErrEmptySecret is returned when storing an empty plaintext.
	ErrEmptySecret = errors.New("vault secret is empty")
)

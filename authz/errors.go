package authz

import "errors"

var (
	// ErrNotFound is returned when a user has no permission record.
	ErrNotFound = errors.New("permissions not found")
	// ErrInvalidIdentifier is returned for user ids outside ^[a-zA-Z0-9_-]{1,50}$.
	ErrInvalidIdentifier = errors.New("invalid user identifier")
	// ErrInvalidPermission is returned for empty or malformed permission names.
	ErrInvalidPermission = errors.New("invalid permission name")
	// ErrUnknownPermission is returned in strict mode for names missing from the catalog.
	ErrUnknownPermission = errors.New("unknown permission")
	// ErrForbidden is returned by Authorize when no held permission grants the action.
	ErrForbidden = errors.New("action not permitted")
	// ErrUnavailable wraps storage and transport failures.
	ErrUnavailable = errors.New("permission service unavailable")
	// ErrInvalidClient is returned when service client credentials do not match.
	ErrInvalidClient = errors.New("invalid client credentials")
	// ErrInvalidScope is returned when a client requests a scope it was not granted.
	ErrInvalidScope = errors.New("invalid scope")
)

package jwt

import "errors"

var (
	// ErrExpired is returned when exp is not after the verifying clock.
	ErrExpired = errors.New("token expired")
	// ErrNotYetValid is returned when nbf or iat lies in the future.
	ErrNotYetValid = errors.New("token not yet valid")
	// ErrInvalidSignature is returned when the MAC does not verify or the
	// header names a different algorithm.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrMalformed is returned when the compact form cannot be decoded.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalid covers every other claim failure (issuer, audience, subject).
	ErrInvalid = errors.New("token invalid")
	// ErrWrongType is returned when a token of one type is presented where another is required.
	ErrWrongType = errors.New("token type mismatch")
	// ErrInvalidSubject is returned when issuing a token without a subject.
	ErrInvalidSubject = errors.New("token subject required")
	// ErrMissingSecret is returned when the signing secret is absent or too short.
	ErrMissingSecret = errors.New("signing secret missing or shorter than 16 bytes")
)

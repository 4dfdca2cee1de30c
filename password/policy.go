package password

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

// ErrPolicy is returned when a candidate password does not meet the signup policy.
var ErrPolicy = errors.New("password does not meet policy")

// Policy describes what a new password must look like. The zero value is
// not useful; start from [DefaultPolicy].
type Policy struct {
	MinLength     int
	MaxLength     int
	RequireLetter bool
	RequireDigit  bool
	AllowSpaces   bool
}

// DefaultPolicy is 8 to 16 characters with at least one letter and one
// digit and no whitespace.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     8,
		MaxLength:     16,
		RequireLetter: true,
		RequireDigit:  true,
	}
}

// Check returns nil when candidate satisfies p, or an error wrapping
// [ErrPolicy] naming the first rule it breaks. Lengths count runes.
func (p Policy) Check(candidate string) error {
	if !utf8.ValidString(candidate) {
		return policyError("must be valid UTF-8")
	}
	n := utf8.RuneCountInString(candidate)
	if p.MinLength > 0 && n < p.MinLength {
		return policyError("too short")
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return policyError("too long")
	}

	var letter, digit bool
	for _, r := range candidate {
		switch {
		case unicode.IsSpace(r):
			if !p.AllowSpaces {
				return policyError("must not contain spaces")
			}
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if p.RequireLetter && !letter {
		return policyError("must contain a letter")
	}
	if p.RequireDigit && !digit {
		return policyError("must contain a digit")
	}
	return nil
}

type policyErr struct{ reason string }

func (e *policyErr) Error() string { return ErrPolicy.Error() + ": " + e.reason }
func (e *policyErr) Unwrap() error { return ErrPolicy }

func policyError(reason string) error { return &policyErr{reason: reason} }

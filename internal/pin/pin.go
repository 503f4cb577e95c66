package pin

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidFormat rejects anything outside the policy's digit bounds.
var ErrInvalidFormat = errors.New("PIN must be 4-6 digits")

// Policy holds the configured PIN length bounds and validates raw input
// against them. The zero Policy is not usable; build one with NewPolicy.
type Policy struct {
	pattern *regexp.Regexp
}

// NewPolicy compiles a validator for decimal PINs of minLen to maxLen digits.
// Bounds come from PIN_MIN_LEN / PIN_MAX_LEN and are range-checked by
// config.Validate before they reach here.
func NewPolicy(minLen, maxLen int) Policy {
	return Policy{
		pattern: regexp.MustCompile(fmt.Sprintf(`^[0-9]{%d,%d}$`, minLen, maxLen)),
	}
}

// New validates the raw string against the policy and returns a Code, or
// ErrInvalidFormat.
func (p Policy) New(raw string) (Code, error) {
	if !p.pattern.MatchString(raw) {
		return Code{}, ErrInvalidFormat
	}
	return Code{digits: raw}, nil
}

var defaultPolicy = NewPolicy(4, 6)

// Code is an immutable, syntactically valid PIN. It carries no semantic
// meaning; matching against a stored hash is the auth service's job.
type Code struct {
	digits string
}

// New validates against the default 4-6 digit policy.
func New(raw string) (Code, error) {
	return defaultPolicy.New(raw)
}

// String returns the original digits.
func (c Code) String() string {
	return c.digits
}

// Redacted is used anywhere a PIN could leak into logs or errors.
func (c Code) Redacted() string {
	return fmt.Sprintf("<pin:%d digits>", len(c.digits))
}

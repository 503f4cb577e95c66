package service

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the auth services. The three 401-class values are
// distinct so logs can tell them apart, but the handler layer must render
// them with one identical body; an attacker learns nothing about which check
// failed.
var (
	// ErrInvalidPinFormat rejects PINs outside the 4-6 digit shape. Safe to
	// reveal: the policy is public.
	ErrInvalidPinFormat = errors.New("PIN must be 4-6 digits")

	// ErrInvalidPin means the binding exists but the PIN did not verify.
	ErrInvalidPin = errors.New("invalid credentials")

	// ErrNoBinding means no PIN is set up for the (user, device) pair.
	ErrNoBinding = errors.New("invalid credentials")

	// ErrInvalidRefresh covers unknown, revoked, expired and concurrently
	// rotated refresh tokens.
	ErrInvalidRefresh = errors.New("invalid credentials")

	// ErrInvalidDevice rejects empty or oversized device ids and names.
	ErrInvalidDevice = errors.New("invalid device")

	// ErrUsernameTaken is the register conflict.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInternal hides storage and crypto failures from clients.
	ErrInternal = errors.New("internal error")
)

// RateLimitedError reports an active lockout; RetryAfter feeds the
// Retry-After header.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry after %ds", int(e.RetryAfter.Seconds()))
}

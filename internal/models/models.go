package models

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every store implementation. Services branch on
// these with errors.Is; the concrete repositories wrap them with detail.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrBindingNotFound  = errors.New("device binding not found")
	ErrRefreshNotFound  = errors.New("refresh token not found")
	ErrRotationConflict = errors.New("refresh token already rotated")
)

// -------------------- USER --------------------

type User struct {
	UserBucket    int        `db:"user_bucket"`
	UserID        string     `db:"user_id"`
	Username      string     `db:"username"`
	PasswordHash  string     `db:"password_hash"`
	PasswordSalt  string     `db:"password_salt"`
	PepperVersion int        `db:"pepper_version"`
	HashAlgorithm string     `db:"hash_algorithm"`
	Role          string     `db:"role"`
	CreatedAt     time.Time  `db:"created_at"`
	LastLogin     *time.Time `db:"last_login"`
}

// -------------------- DEVICE BINDING --------------------

// DeviceBinding associates a user, a client-supplied device id, a hashed PIN
// and a hashed device token. (user_id, device_id) is the primary key; a second
// setup for the same pair replaces the whole row.
type DeviceBinding struct {
	UserID              string     `db:"user_id"`
	DeviceID            string     `db:"device_id"`
	DeviceNameEncrypted []byte     `db:"device_name_encrypted"`
	DeviceNameKeyID     string     `db:"device_name_key_id"`
	PINHash             string     `db:"pin_hash"`
	PINSalt             string     `db:"pin_salt"`
	PepperVersion       int        `db:"pepper_version"`
	HashAlgorithm       string     `db:"hash_algorithm"`
	DeviceTokenHash     string     `db:"device_token_hash"`
	CreatedAt           time.Time  `db:"created_at"`
	LastUsedAt          *time.Time `db:"last_used_at"`
}

// -------------------- REFRESH TOKEN --------------------

// RefreshToken is stored by the SHA-256 digest of its plaintext; the plaintext
// leaves the service exactly once, in the issuing response. A token is valid
// iff stored, not revoked and not expired.
type RefreshToken struct {
	TokenHash string    `db:"token_hash"`
	UserID    string    `db:"user_id"`
	DeviceID  string    `db:"device_id"`
	IssuedAt  time.Time `db:"issued_at"`
	ExpiresAt time.Time `db:"expires_at"`
	Revoked   bool      `db:"revoked"`
}

func (t *RefreshToken) ActiveAt(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// -------------------- LOCKOUT --------------------

// LockState is the answer to a lockout check for a (user_id, device_id) pair.
type LockState struct {
	Locked     bool
	RetryAfter time.Duration
}

// AttemptState is the counter state after recording a failed PIN attempt.
type AttemptState struct {
	Failures   int
	Locked     bool
	RetryAfter time.Duration
}

// -------------------- SECURITY EVENT --------------------

type SecurityEvent struct {
	EventBucket int       `db:"event_bucket" json:"event_bucket"`
	EventID     string    `db:"event_id" json:"event_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	DeviceID    string    `db:"device_id" json:"device_id"`
	EventTime   time.Time `db:"event_time" json:"event_time"`
	EventType   string    `db:"event_type" json:"event_type"`
	RequestID   string    `db:"request_id" json:"request_id"`
	Details     string    `db:"details" json:"details"`
}

// Event types emitted by the auth services.
const (
	EventRegister         = "register"
	EventLogin            = "login"
	EventPinSetup         = "pin_setup"
	EventPinLoginOK       = "pin_login_ok"
	EventPinLoginFail     = "pin_login_fail"
	EventLockout          = "lockout"
	EventRotationConflict = "rotation_conflict"
	EventBindingRevoked   = "binding_revoked"
	EventLogout           = "logout"
)

// -------------------- REPOSITORY INTERFACES --------------------

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateLastLogin(ctx context.Context, userID string, ts time.Time) error
}

// DeviceBindingRepository defines the interface for device binding operations.
type DeviceBindingRepository interface {
	Upsert(ctx context.Context, binding *DeviceBinding) error
	Get(ctx context.Context, userID, deviceID string) (*DeviceBinding, error)
	TouchLastUsed(ctx context.Context, userID, deviceID string, ts time.Time) error
	Delete(ctx context.Context, userID, deviceID string) error
}

// RefreshTokenRepository defines the interface for refresh token operations.
// Rotate must be atomic: of two concurrent rotations of the same token hash,
// exactly one succeeds and the other gets ErrRotationConflict.
type RefreshTokenRepository interface {
	Store(ctx context.Context, token *RefreshToken) error
	FindActive(ctx context.Context, tokenHash string) (*RefreshToken, error)
	Rotate(ctx context.Context, oldHash string, newToken *RefreshToken) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// -------------------- CACHE INTERFACES --------------------

// LockoutCache tracks failed PIN attempts per (user_id, device_id) pair.
// RecordFailure must be a read-modify-write under the key, not get-then-set.
type LockoutCache interface {
	Check(ctx context.Context, userID, deviceID string) (*LockState, error)
	RecordFailure(ctx context.Context, userID, deviceID string) (*AttemptState, error)
	Reset(ctx context.Context, userID, deviceID string) error
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pin-auth-service/internal/encryption"
	"pin-auth-service/internal/hashing"
	"pin-auth-service/internal/models"
	"pin-auth-service/internal/pin"
	"pin-auth-service/internal/token"
	"pin-auth-service/internal/util"
)

const maxDeviceFieldLen = 128

// EventRecorder receives security events off the critical path.
type EventRecorder interface {
	Record(event models.SecurityEvent)
}

// TokenPair is what a successful login or refresh hands back to the client.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// PinAuthService implements device-bound PIN setup and PIN re-authentication.
type PinAuthService struct {
	bindings models.DeviceBindingRepository
	tokens   models.RefreshTokenRepository
	users    models.UserRepository
	lockout  models.LockoutCache
	policy   pin.Policy
	hasher   *hashing.Hasher
	minter   *token.Minter
	crypto   *encryption.Manager
	events   EventRecorder

	now func() time.Time
}

func NewPinAuthService(
	bindings models.DeviceBindingRepository,
	tokens models.RefreshTokenRepository,
	users models.UserRepository,
	lockout models.LockoutCache,
	policy pin.Policy,
	hasher *hashing.Hasher,
	minter *token.Minter,
	crypto *encryption.Manager,
	events EventRecorder,
) *PinAuthService {
	return &PinAuthService{
		bindings: bindings,
		tokens:   tokens,
		users:    users,
		lockout:  lockout,
		policy:   policy,
		hasher:   hasher,
		minter:   minter,
		crypto:   crypto,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetupPin binds a PIN and a fresh device token to (userID, deviceID). A
// repeat call for the same pair replaces the previous binding entirely; the
// old PIN and device token stop working. The plaintext device token is
// returned exactly once.
func (s *PinAuthService) SetupPin(ctx context.Context, userID, rawPin, deviceID, deviceName string) (string, error) {
	code, err := s.policy.New(rawPin)
	if err != nil {
		return "", ErrInvalidPinFormat
	}

	// The length bound applies to the sanitized form, which is what gets
	// stored; escaping can only grow the string.
	deviceName = util.SanitizeInput(deviceName)
	if deviceID == "" || len(deviceID) > maxDeviceFieldLen || len(deviceName) > maxDeviceFieldLen {
		return "", ErrInvalidDevice
	}

	hashResult, err := s.hasher.HashPIN(code.String())
	if err != nil {
		util.Error("Failed to hash PIN", zap.String("user_id", userID), zap.Error(err))
		return "", ErrInternal
	}

	deviceToken, err := token.NewOpaqueToken()
	if err != nil {
		util.Error("Failed to mint device token", zap.String("user_id", userID), zap.Error(err))
		return "", ErrInternal
	}

	nameEncrypted, nameKeyID, err := s.crypto.EncryptDeviceName(ctx, deviceName)
	if err != nil {
		util.Error("Failed to encrypt device name", zap.String("user_id", userID), zap.Error(err))
		return "", ErrInternal
	}

	binding := &models.DeviceBinding{
		UserID:              userID,
		DeviceID:            deviceID,
		DeviceNameEncrypted: nameEncrypted,
		DeviceNameKeyID:     nameKeyID,
		PINHash:             hashResult.Hash,
		PINSalt:             hashResult.Salt,
		PepperVersion:       hashResult.PepperVersion,
		HashAlgorithm:       hashResult.Algorithm,
		DeviceTokenHash:     hashing.DigestToken(deviceToken),
		CreatedAt:           s.now(),
	}

	if err := s.bindings.Upsert(ctx, binding); err != nil {
		return "", ErrInternal
	}

	// A fresh binding starts with a clean slate.
	if err := s.lockout.Reset(ctx, userID, deviceID); err != nil {
		util.Warn("Failed to reset lockout counter after PIN setup",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
	}

	s.record(ctx, models.EventPinSetup, userID, deviceID, "")

	util.Info("PIN bound to device",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID))

	return deviceToken, nil
}

// PinLogin exchanges (PIN, deviceID, refresh token) for a fresh token pair.
// The check order is part of the contract: the refresh token is validated
// before any PIN work, so an invalid refresh never touches the failure
// counter, and a rotation lost to a concurrent login is not a PIN failure
// either.
func (s *PinAuthService) PinLogin(ctx context.Context, rawPin, deviceID, refreshToken string) (*TokenPair, error) {
	code, err := s.policy.New(rawPin)
	if err != nil {
		return nil, ErrInvalidPinFormat
	}

	if refreshToken == "" {
		return nil, ErrInvalidRefresh
	}

	oldToken, err := s.tokens.FindActive(ctx, hashing.DigestToken(refreshToken))
	if err != nil {
		if errors.Is(err, models.ErrRefreshNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, ErrInternal
	}
	userID := oldToken.UserID

	lock, err := s.lockout.Check(ctx, userID, deviceID)
	if err != nil {
		return nil, ErrInternal
	}
	if lock.Locked {
		return nil, &RateLimitedError{RetryAfter: lock.RetryAfter}
	}

	binding, err := s.bindings.Get(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, models.ErrBindingNotFound) {
			return nil, s.countFailure(ctx, userID, deviceID, ErrNoBinding)
		}
		return nil, ErrInternal
	}

	ok, err := s.hasher.VerifyPIN(code.String(), &hashing.HashResult{
		Hash:          binding.PINHash,
		Salt:          binding.PINSalt,
		PepperVersion: binding.PepperVersion,
		Algorithm:     binding.HashAlgorithm,
	})
	if err != nil {
		util.Error("PIN verification failed",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, ErrInternal
	}
	if !ok {
		return nil, s.countFailure(ctx, userID, deviceID, ErrInvalidPin)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, ErrInternal
	}

	now := s.now()
	newRefresh, err := token.NewOpaqueToken()
	if err != nil {
		return nil, ErrInternal
	}

	newToken := &models.RefreshToken{
		TokenHash: hashing.DigestToken(newRefresh),
		UserID:    userID,
		DeviceID:  deviceID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.minter.RefreshTTL()),
	}

	if err := s.tokens.Rotate(ctx, oldToken.TokenHash, newToken); err != nil {
		if errors.Is(err, models.ErrRotationConflict) || errors.Is(err, models.ErrRefreshNotFound) {
			// Lost the race to a concurrent login. Not a PIN failure.
			s.record(ctx, models.EventRotationConflict, userID, deviceID, "")
			return nil, ErrInvalidRefresh
		}
		return nil, ErrInternal
	}

	access, err := s.minter.MintAccess(userID, deviceID, user.Role, now)
	if err != nil {
		util.Error("Failed to mint access token",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, ErrInternal
	}

	if err := s.lockout.Reset(ctx, userID, deviceID); err != nil {
		util.Warn("Failed to reset lockout counter after login",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
	if err := s.bindings.TouchLastUsed(ctx, userID, deviceID, now); err != nil {
		util.Warn("Failed to touch device binding",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
	}

	s.record(ctx, models.EventPinLoginOK, userID, deviceID, "")

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		ExpiresIn:    int64(s.minter.AccessTTL().Seconds()),
	}, nil
}

// countFailure records one failed attempt and decides what the caller should
// see: 429 if this failure tripped the lock, otherwise the given 401-class
// error. Counter failures degrade to the 401 rather than blocking login
// entirely.
func (s *PinAuthService) countFailure(ctx context.Context, userID, deviceID string, authErr error) error {
	state, err := s.lockout.RecordFailure(ctx, userID, deviceID)
	if err != nil {
		util.Error("Failed to record PIN failure",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return authErr
	}

	s.record(ctx, models.EventPinLoginFail, userID, deviceID, "")

	if state.Locked {
		s.record(ctx, models.EventLockout, userID, deviceID, "")
		return &RateLimitedError{RetryAfter: state.RetryAfter}
	}
	return authErr
}

func (s *PinAuthService) record(ctx context.Context, eventType, userID, deviceID, details string) {
	if s.events == nil {
		return
	}
	s.events.Record(models.SecurityEvent{
		UserID:    userID,
		DeviceID:  deviceID,
		EventTime: s.now(),
		EventType: eventType,
		RequestID: middleware.GetReqID(ctx),
		Details:   details,
	})
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pin-auth-service/internal/hashing"
	"pin-auth-service/internal/models"
	"pin-auth-service/internal/token"
	"pin-auth-service/internal/util"
)

const (
	minPasswordLen = 8
	maxUsernameLen = 64
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("password too short")
	ErrBadCredentials  = errors.New("invalid credentials")
)

// UserService covers the account surface around the PIN flow: registration,
// password login, plain refresh rotation, logout and device revocation.
type UserService struct {
	users    models.UserRepository
	tokens   models.RefreshTokenRepository
	bindings models.DeviceBindingRepository
	lockout  models.LockoutCache
	hasher   *hashing.Hasher
	minter   *token.Minter
	events   EventRecorder

	now func() time.Time
}

func NewUserService(
	users models.UserRepository,
	tokens models.RefreshTokenRepository,
	bindings models.DeviceBindingRepository,
	lockout models.LockoutCache,
	hasher *hashing.Hasher,
	minter *token.Minter,
	events EventRecorder,
) *UserService {
	return &UserService{
		users:    users,
		tokens:   tokens,
		bindings: bindings,
		lockout:  lockout,
		hasher:   hasher,
		minter:   minter,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a user with an argon2id password digest.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = util.SanitizeInput(username)
	if username == "" || len(username) > maxUsernameLen {
		return nil, ErrInvalidUsername
	}
	if len(password) < minPasswordLen {
		return nil, ErrInvalidPassword
	}

	hashResult, err := s.hasher.HashPassword(password)
	if err != nil {
		util.Error("Failed to hash password", zap.Error(err))
		return nil, ErrInternal
	}

	user := &models.User{
		UserID:        uuid.New().String(),
		Username:      username,
		PasswordHash:  hashResult.Hash,
		PasswordSalt:  hashResult.Salt,
		PepperVersion: hashResult.PepperVersion,
		HashAlgorithm: hashResult.Algorithm,
		Role:          "user",
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, models.ErrUserExists) {
			return nil, ErrUsernameTaken
		}
		return nil, ErrInternal
	}

	s.record(ctx, models.EventRegister, user.UserID, "")

	return user, nil
}

// Login verifies a password and issues a fresh access/refresh pair. The
// refresh token from here is what pin_login later consumes.
func (s *UserService) Login(ctx context.Context, username, password, deviceID string) (*TokenPair, error) {
	user, err := s.users.GetUserByUsername(ctx, util.SanitizeInput(username))
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, ErrInternal
	}

	ok, err := s.hasher.VerifyPassword(password, &hashing.HashResult{
		Hash:          user.PasswordHash,
		Salt:          user.PasswordSalt,
		PepperVersion: user.PepperVersion,
		Algorithm:     user.HashAlgorithm,
	})
	if err != nil {
		util.Error("Password verification failed",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return nil, ErrInternal
	}
	if !ok {
		return nil, ErrBadCredentials
	}

	now := s.now()
	pair, err := s.issuePair(ctx, user, deviceID, now)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.UserID, now); err != nil {
		util.Warn("Failed to update last login",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}

	s.record(ctx, models.EventLogin, user.UserID, deviceID)

	return pair, nil
}

// Refresh rotates a refresh token without any PIN involvement. Same
// single-use guarantee as pin_login: the old token is burned first.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
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

	user, err := s.users.GetUserByID(ctx, oldToken.UserID)
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
		UserID:    oldToken.UserID,
		DeviceID:  oldToken.DeviceID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.minter.RefreshTTL()),
	}

	if err := s.tokens.Rotate(ctx, oldToken.TokenHash, newToken); err != nil {
		if errors.Is(err, models.ErrRotationConflict) || errors.Is(err, models.ErrRefreshNotFound) {
			s.record(ctx, models.EventRotationConflict, oldToken.UserID, oldToken.DeviceID)
			return nil, ErrInvalidRefresh
		}
		return nil, ErrInternal
	}

	access, err := s.minter.MintAccess(user.UserID, oldToken.DeviceID, user.Role, now)
	if err != nil {
		return nil, ErrInternal
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		ExpiresIn:    int64(s.minter.AccessTTL().Seconds()),
	}, nil
}

// Logout burns every refresh token the user holds, on all devices.
func (s *UserService) Logout(ctx context.Context, userID string) error {
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return ErrInternal
	}
	s.record(ctx, models.EventLogout, userID, "")
	return nil
}

// RevokeDevice removes the PIN binding for a device and clears its failure
// counter; the device returns to the unbound state. The two mutations are
// independent, so they run concurrently.
func (s *UserService) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	if deviceID == "" || len(deviceID) > maxDeviceFieldLen {
		return ErrInvalidDevice
	}

	if _, err := s.bindings.Get(ctx, userID, deviceID); err != nil {
		if errors.Is(err, models.ErrBindingNotFound) {
			return models.ErrBindingNotFound
		}
		return ErrInternal
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.bindings.Delete(gctx, userID, deviceID)
	})
	g.Go(func() error {
		return s.lockout.Reset(gctx, userID, deviceID)
	})
	if err := g.Wait(); err != nil {
		util.Error("Failed to revoke device",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return ErrInternal
	}

	s.record(ctx, models.EventBindingRevoked, userID, deviceID)

	return nil
}

func (s *UserService) issuePair(ctx context.Context, user *models.User, deviceID string, now time.Time) (*TokenPair, error) {
	refresh, err := token.NewOpaqueToken()
	if err != nil {
		return nil, ErrInternal
	}

	stored := &models.RefreshToken{
		TokenHash: hashing.DigestToken(refresh),
		UserID:    user.UserID,
		DeviceID:  deviceID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.minter.RefreshTTL()),
	}
	if err := s.tokens.Store(ctx, stored); err != nil {
		return nil, ErrInternal
	}

	access, err := s.minter.MintAccess(user.UserID, deviceID, user.Role, now)
	if err != nil {
		return nil, ErrInternal
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.minter.AccessTTL().Seconds()),
	}, nil
}

func (s *UserService) record(ctx context.Context, eventType, userID, deviceID string) {
	if s.events == nil {
		return
	}
	s.events.Record(models.SecurityEvent{
		UserID:    userID,
		DeviceID:  deviceID,
		EventTime: s.now(),
		EventType: eventType,
		RequestID: middleware.GetReqID(ctx),
	})
}

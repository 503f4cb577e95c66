package service

import (
	"pin-auth-service/internal/encryption"
	"pin-auth-service/internal/hashing"
	"pin-auth-service/internal/models"
	"pin-auth-service/internal/pin"
	"pin-auth-service/internal/token"
)

// ServiceFactory creates and manages service instances.
type ServiceFactory struct {
	users    models.UserRepository
	bindings models.DeviceBindingRepository
	tokens   models.RefreshTokenRepository
	lockout  models.LockoutCache
	policy   pin.Policy
	hasher   *hashing.Hasher
	minter   *token.Minter
	crypto   *encryption.Manager
	events   EventRecorder

	userService    *UserService
	pinAuthService *PinAuthService
}

// NewServiceFactory creates a new service factory.
func NewServiceFactory(
	users models.UserRepository,
	bindings models.DeviceBindingRepository,
	tokens models.RefreshTokenRepository,
	lockout models.LockoutCache,
	policy pin.Policy,
	hasher *hashing.Hasher,
	minter *token.Minter,
	crypto *encryption.Manager,
	events EventRecorder,
) *ServiceFactory {
	return &ServiceFactory{
		users:    users,
		bindings: bindings,
		tokens:   tokens,
		lockout:  lockout,
		policy:   policy,
		hasher:   hasher,
		minter:   minter,
		crypto:   crypto,
		events:   events,
	}
}

// UserService returns the user service instance (singleton).
func (f *ServiceFactory) UserService() *UserService {
	if f.userService == nil {
		f.userService = NewUserService(
			f.users,
			f.tokens,
			f.bindings,
			f.lockout,
			f.hasher,
			f.minter,
			f.events,
		)
	}
	return f.userService
}

// PinAuthService returns the PIN auth service instance (singleton).
func (f *ServiceFactory) PinAuthService() *PinAuthService {
	if f.pinAuthService == nil {
		f.pinAuthService = NewPinAuthService(
			f.bindings,
			f.tokens,
			f.users,
			f.lockout,
			f.policy,
			f.hasher,
			f.minter,
			f.crypto,
			f.events,
		)
	}
	return f.pinAuthService
}

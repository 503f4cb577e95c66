package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pin-auth-service/internal/config"
	"pin-auth-service/internal/encryption"
	"pin-auth-service/internal/hashing"
	"pin-auth-service/internal/models"
	"pin-auth-service/internal/pin"
	"pin-auth-service/internal/token"
)

type userFixture struct {
	svc     *UserService
	pinSvc  *PinAuthService
	tokens  *fakeTokens
	binds   *fakeBindings
	lockout *fakeLockout
	clock   *time.Time
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 8 * 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.PepperSecret = "test-pepper"
	cfg.JWT.Issuer = "pin-auth-service"
	cfg.JWT.SigningKey = "test-signing-key"
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = 30 * 24 * time.Hour

	clock := time.Now().UTC().Truncate(time.Second)
	now := func() time.Time { return clock }

	users := newFakeUsers()
	tokens := newFakeTokens(now)
	binds := newFakeBindings()
	lockout := newFakeLockout(5, 15*time.Minute, 15*time.Minute, now)
	hasher := hashing.NewHasher(cfg)
	minter := token.NewMinter(cfg)
	events := &recordedEvents{}

	svc := NewUserService(users, tokens, binds, lockout, hasher, minter, events)
	svc.now = now

	pinSvc := NewPinAuthService(binds, tokens, users, lockout, pin.NewPolicy(4, 6),
		hasher, minter, encryption.NewManager(cfg, nil), events)
	pinSvc.now = now

	return &userFixture{
		svc:     svc,
		pinSvc:  pinSvc,
		tokens:  tokens,
		binds:   binds,
		lockout: lockout,
		clock:   &clock,
	}
}

func TestRegisterAndLogin(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()

	user, err := fx.svc.Register(ctx, "alice", "correct horse battery")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.UserID == "" {
		t.Fatal("empty user id")
	}
	if user.PasswordHash == "correct horse battery" || user.PasswordHash == "" {
		t.Errorf("password stored badly: %q", user.PasswordHash)
	}

	pair, err := fx.svc.Login(ctx, "alice", "correct horse battery", "device-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token pair")
	}

	if _, err := fx.svc.Login(ctx, "alice", "wrong password!", "device-1"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("wrong password: got %v, want ErrBadCredentials", err)
	}
	if _, err := fx.svc.Login(ctx, "nobody", "correct horse battery", "device-1"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("unknown user: got %v, want ErrBadCredentials", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Register(ctx, "", "long enough pass"); !errors.Is(err, ErrInvalidUsername) {
		t.Errorf("empty username: got %v", err)
	}
	if _, err := fx.svc.Register(ctx, "bob", "short"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("short password: got %v", err)
	}

	if _, err := fx.svc.Register(ctx, "carol", "long enough pass"); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.svc.Register(ctx, "carol", "another password"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate username: got %v, want ErrUsernameTaken", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Register(ctx, "alice", "correct horse battery"); err != nil {
		t.Fatal(err)
	}
	pair, err := fx.svc.Login(ctx, "alice", "correct horse battery", "device-1")
	if err != nil {
		t.Fatal(err)
	}

	next, err := fx.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("refresh token not rotated")
	}

	// Old token is single-use here too.
	if _, err := fx.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefresh) {
		t.Errorf("reused refresh: got %v, want ErrInvalidRefresh", err)
	}
	if _, err := fx.svc.Refresh(ctx, "garbage"); !errors.Is(err, ErrInvalidRefresh) {
		t.Errorf("garbage refresh: got %v, want ErrInvalidRefresh", err)
	}
}

func TestLogoutRevokesEverything(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()

	user, err := fx.svc.Register(ctx, "alice", "correct horse battery")
	if err != nil {
		t.Fatal(err)
	}
	pair1, _ := fx.svc.Login(ctx, "alice", "correct horse battery", "device-1")
	pair2, _ := fx.svc.Login(ctx, "alice", "correct horse battery", "device-2")

	if err := fx.svc.Logout(ctx, user.UserID); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	for _, rt := range []string{pair1.RefreshToken, pair2.RefreshToken} {
		if _, err := fx.svc.Refresh(ctx, rt); !errors.Is(err, ErrInvalidRefresh) {
			t.Errorf("refresh after logout: got %v, want ErrInvalidRefresh", err)
		}
	}
}

func TestRevokeDevice(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()

	user, err := fx.svc.Register(ctx, "alice", "correct horse battery")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := fx.pinSvc.SetupPin(ctx, user.UserID, "1234", "device-1", "phone"); err != nil {
		t.Fatal(err)
	}

	if err := fx.svc.RevokeDevice(ctx, user.UserID, "device-1"); err != nil {
		t.Fatalf("RevokeDevice: %v", err)
	}

	if _, err := fx.binds.Get(ctx, user.UserID, "device-1"); !errors.Is(err, models.ErrBindingNotFound) {
		t.Errorf("binding still present after revoke: %v", err)
	}

	// Revoking an unbound device reports not found.
	if err := fx.svc.RevokeDevice(ctx, user.UserID, "device-1"); !errors.Is(err, models.ErrBindingNotFound) {
		t.Errorf("second revoke: got %v, want ErrBindingNotFound", err)
	}
}

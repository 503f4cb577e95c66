package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pin-auth-service/internal/config"
	"pin-auth-service/internal/encryption"
	"pin-auth-service/internal/hashing"
	"pin-auth-service/internal/models"
	"pin-auth-service/internal/pin"
	"pin-auth-service/internal/token"
)

// ---------- in-memory fakes ----------

type fakeBindings struct {
	mu   sync.Mutex
	rows map[string]*models.DeviceBinding
}

func newFakeBindings() *fakeBindings {
	return &fakeBindings{rows: make(map[string]*models.DeviceBinding)}
}

func bindKey(userID, deviceID string) string { return userID + "/" + deviceID }

func (f *fakeBindings) Upsert(_ context.Context, b *models.DeviceBinding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.rows[bindKey(b.UserID, b.DeviceID)] = &cp
	return nil
}

func (f *fakeBindings) Get(_ context.Context, userID, deviceID string) (*models.DeviceBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.rows[bindKey(userID, deviceID)]
	if !ok {
		return nil, models.ErrBindingNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBindings) TouchLastUsed(_ context.Context, userID, deviceID string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.rows[bindKey(userID, deviceID)]; ok {
		b.LastUsedAt = &ts
	}
	return nil
}

func (f *fakeBindings) Delete(_ context.Context, userID, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, bindKey(userID, deviceID))
	return nil
}

type fakeTokens struct {
	mu   sync.Mutex
	rows map[string]*models.RefreshToken
	now  func() time.Time
}

func newFakeTokens(now func() time.Time) *fakeTokens {
	return &fakeTokens{rows: make(map[string]*models.RefreshToken), now: now}
}

func (f *fakeTokens) Store(_ context.Context, t *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.rows[t.TokenHash] = &cp
	return nil
}

func (f *fakeTokens) FindActive(_ context.Context, tokenHash string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[tokenHash]
	if !ok || !t.ActiveAt(f.now()) {
		return nil, models.ErrRefreshNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTokens) Rotate(_ context.Context, oldHash string, newToken *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.rows[oldHash]
	if !ok {
		return models.ErrRefreshNotFound
	}
	if old.Revoked {
		return models.ErrRotationConflict
	}
	old.Revoked = true
	cp := *newToken
	f.rows[newToken.TokenHash] = &cp
	return nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.rows {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

type fakeUsers struct {
	mu   sync.Mutex
	rows map[string]*models.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{rows: make(map[string]*models.User)} }

func (f *fakeUsers) CreateUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.Username == u.Username {
			return models.ErrUserExists
		}
	}
	cp := *u
	f.rows[u.UserID] = &cp
	return nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[userID]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.rows {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, userID string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.rows[userID]; ok {
		u.LastLogin = &ts
	}
	return nil
}

// fakeLockout mirrors the Redis cache semantics: windowed counter, lock with
// TTL, atomic record-and-maybe-lock.
type fakeLockout struct {
	mu          sync.Mutex
	maxFailures int
	window      time.Duration
	lockout     time.Duration
	now         func() time.Time

	fails     map[string]int
	failUntil map[string]time.Time
	lockUntil map[string]time.Time
}

func newFakeLockout(maxFailures int, window, lockout time.Duration, now func() time.Time) *fakeLockout {
	return &fakeLockout{
		maxFailures: maxFailures,
		window:      window,
		lockout:     lockout,
		now:         now,
		fails:       make(map[string]int),
		failUntil:   make(map[string]time.Time),
		lockUntil:   make(map[string]time.Time),
	}
}

func (f *fakeLockout) Check(_ context.Context, userID, deviceID string) (*models.LockState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := bindKey(userID, deviceID)
	if until, ok := f.lockUntil[key]; ok && f.now().Before(until) {
		return &models.LockState{Locked: true, RetryAfter: until.Sub(f.now())}, nil
	}
	return &models.LockState{}, nil
}

func (f *fakeLockout) RecordFailure(_ context.Context, userID, deviceID string) (*models.AttemptState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := bindKey(userID, deviceID)
	now := f.now()

	if until, ok := f.failUntil[key]; !ok || now.After(until) {
		f.fails[key] = 0
		f.failUntil[key] = now.Add(f.window)
	}
	f.fails[key]++

	state := &models.AttemptState{Failures: f.fails[key]}
	if state.Failures >= f.maxFailures {
		f.lockUntil[key] = now.Add(f.lockout)
		delete(f.fails, key)
		delete(f.failUntil, key)
		state.Locked = true
		state.RetryAfter = f.lockout
	}
	return state, nil
}

func (f *fakeLockout) Reset(_ context.Context, userID, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := bindKey(userID, deviceID)
	delete(f.fails, key)
	delete(f.failUntil, key)
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (r *recordedEvents) Record(e models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// ---------- fixture ----------

type fixture struct {
	svc      *PinAuthService
	users    *fakeUsers
	bindings *fakeBindings
	tokens   *fakeTokens
	lockout  *fakeLockout
	events   *recordedEvents
	minter   *token.Minter
	clock    *time.Time
}

func (fx *fixture) advance(d time.Duration) {
	*fx.clock = fx.clock.Add(d)
}

func newFixture(t *testing.T) *fixture {
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

	// Real wall-clock start: ParseAccess validates exp against time.Now, so a
	// token minted at the fixture clock must still be live when parsed.
	clock := time.Now().UTC().Truncate(time.Second)
	now := func() time.Time { return clock }

	users := newFakeUsers()
	bindings := newFakeBindings()
	tokens := newFakeTokens(now)
	lockout := newFakeLockout(5, 15*time.Minute, 15*time.Minute, now)
	events := &recordedEvents{}
	minter := token.NewMinter(cfg)

	svc := NewPinAuthService(
		bindings, tokens, users, lockout,
		pin.NewPolicy(4, 6),
		hashing.NewHasher(cfg), minter,
		encryption.NewManager(cfg, nil),
		events,
	)
	svc.now = now

	users.rows["user-1"] = &models.User{UserID: "user-1", Username: "alice", Role: "user"}

	return &fixture{
		svc:      svc,
		users:    users,
		bindings: bindings,
		tokens:   tokens,
		lockout:  lockout,
		events:   events,
		minter:   minter,
		clock:    &clock,
	}
}

// seedRefresh stores an active refresh token for user-1 and returns its plaintext.
func (fx *fixture) seedRefresh(t *testing.T) string {
	t.Helper()
	plaintext, err := token.NewOpaqueToken()
	if err != nil {
		t.Fatal(err)
	}
	err = fx.tokens.Store(context.Background(), &models.RefreshToken{
		TokenHash: hashing.DigestToken(plaintext),
		UserID:    "user-1",
		DeviceID:  "device-1",
		IssuedAt:  *fx.clock,
		ExpiresAt: fx.clock.Add(30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	return plaintext
}

func (fx *fixture) setupPin(t *testing.T, pin, deviceID string) string {
	t.Helper()
	deviceToken, err := fx.svc.SetupPin(context.Background(), "user-1", pin, deviceID, "test phone")
	if err != nil {
		t.Fatalf("SetupPin: %v", err)
	}
	return deviceToken
}

// ---------- setup_pin ----------

func TestSetupPinReturnsDeviceToken(t *testing.T) {
	fx := newFixture(t)

	deviceToken := fx.setupPin(t, "1234", "device-1")
	if deviceToken == "" {
		t.Fatal("empty device token")
	}

	binding, err := fx.bindings.Get(context.Background(), "user-1", "device-1")
	if err != nil {
		t.Fatal(err)
	}
	if binding.DeviceTokenHash != hashing.DigestToken(deviceToken) {
		t.Error("stored device token hash does not match the returned plaintext")
	}
	if binding.PINHash == "" || binding.PINHash == "1234" {
		t.Errorf("PIN stored badly: %q", binding.PINHash)
	}
	if len(binding.DeviceNameEncrypted) == 0 {
		t.Error("device name not encrypted")
	}
}

func TestSetupPinRejectsBadInput(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.SetupPin(ctx, "user-1", "12a4", "device-1", ""); !errors.Is(err, ErrInvalidPinFormat) {
		t.Errorf("bad PIN: got %v, want ErrInvalidPinFormat", err)
	}
	if _, err := fx.svc.SetupPin(ctx, "user-1", "1234", "", ""); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("empty device id: got %v, want ErrInvalidDevice", err)
	}

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := fx.svc.SetupPin(ctx, "user-1", "1234", string(long), ""); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("oversized device id: got %v, want ErrInvalidDevice", err)
	}
}

func TestSetupPinHonorsConfiguredBounds(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.svc.policy = pin.NewPolicy(6, 8)

	if _, err := fx.svc.SetupPin(ctx, "user-1", "1234", "device-1", ""); !errors.Is(err, ErrInvalidPinFormat) {
		t.Errorf("PIN below configured minimum: got %v, want ErrInvalidPinFormat", err)
	}
	if _, err := fx.svc.SetupPin(ctx, "user-1", "12345678", "device-1", ""); err != nil {
		t.Errorf("eight digit PIN within bounds: %v", err)
	}
}

func TestSetupPinRejectsNameExpandedBySanitizing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// 128 ampersands pass a raw length check but escape to five times that;
	// the stored form is what the bound protects.
	raw := make([]byte, 128)
	for i := range raw {
		raw[i] = '&'
	}
	if _, err := fx.svc.SetupPin(ctx, "user-1", "1234", "device-1", string(raw)); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("name oversized after sanitizing: got %v, want ErrInvalidDevice", err)
	}
}

// ---------- pin_login happy path ----------

func TestPinLoginSuccess(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.setupPin(t, "123456", "device-1")
	refresh := fx.seedRefresh(t)

	pair, err := fx.svc.PinLogin(ctx, "123456", "device-1", refresh)
	if err != nil {
		t.Fatalf("PinLogin: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty tokens in pair")
	}
	if pair.RefreshToken == refresh {
		t.Error("refresh token was not rotated")
	}

	claims, err := fx.minter.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q, want user-1", claims.Subject)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 15*time.Minute {
		t.Errorf("access lifetime = %v, want 15m", got)
	}

	binding, _ := fx.bindings.Get(ctx, "user-1", "device-1")
	if binding.LastUsedAt == nil {
		t.Error("last_used_at not touched")
	}
}

func TestPinLoginRejectsBadPinFormatFirst(t *testing.T) {
	fx := newFixture(t)

	// Format check runs before everything; even the refresh token is not
	// looked at.
	_, err := fx.svc.PinLogin(context.Background(), "abc", "device-1", "whatever")
	if !errors.Is(err, ErrInvalidPinFormat) {
		t.Errorf("got %v, want ErrInvalidPinFormat", err)
	}
}

// ---------- refresh token invariants ----------

func TestRefreshTokenSingleUse(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.setupPin(t, "1234", "device-1")
	refresh := fx.seedRefresh(t)

	if _, err := fx.svc.PinLogin(ctx, "1234", "device-1", refresh); err != nil {
		t.Fatalf("first login: %v", err)
	}

	_, err := fx.svc.PinLogin(ctx, "1234", "device-1", refresh)
	if !errors.Is(err, ErrInvalidRefresh) {
		t.Errorf("reused refresh: got %v, want ErrInvalidRefresh", err)
	}
}

func TestInvalidRefreshDoesNotTouchCounter(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.setupPin(t, "1234", "device-1")

	for i := 0; i < 10; i++ {
		_, err := fx.svc.PinLogin(ctx, "1234", "device-1", "bogus-refresh-token")
		if !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidRefresh", i, err)
		}
	}

	// Ten invalid-refresh attempts must not have locked the device.
	refresh := fx.seedRefresh(t)
	if _, err := fx.svc.PinLogin(ctx, "1234", "device-1", refresh); err != nil {
		t.Errorf("login after invalid refresh spam: %v", err)
	}
}

func TestConcurrentRotationExactlyOneWins(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.setupPin(t, "1234", "device-1")
	refresh := fx.seedRefresh(t)

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.PinLogin(ctx, "1234", "device-1", refresh)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidRefresh):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if conflicts != attempts-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, attempts-1)
	}

	// A lost rotation race is not a PIN failure.
	if n := fx.events.count(models.EventPinLoginFail); n != 0 {
		t.Errorf("rotation conflicts counted as PIN failures: %d", n)
	}
}

// ---------- lockout invariants ----------

func failOnce(t *testing.T, fx *fixture, deviceID, refresh string) error {
	t.Helper()
	_, err := fx.svc.PinLogin(context.Background(), "999999", deviceID, refresh)
	return err
}

func TestLockoutAfterMaxFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.setupPin(t, "1234", "device-1")
	refresh := fx.seedRefresh(t)

	for i := 0; i < 4; i++ {
		if err := failOnce(t, fx, "device-1", refresh); !errors.Is(err, ErrInvalidPin) {
			t.Fatalf("failure %d: got %v, want ErrInvalidPin", i+1, err)
		}
	}

	// Fifth failure crosses the threshold and must itself be the 429.
	err := failOnce(t, fx, "device-1", refresh)
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("fifth failure: got %v, want RateLimitedError", err)
	}
	if rl.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", rl.RetryAfter)
	}

	// Even the correct PIN is refused while locked.
	_, err = fx.svc.PinLogin(ctx, "1234", "device-1", refresh)
	if !errors.As(err, &rl) {
		t.Errorf("correct PIN while locked: got %v, want RateLimitedError", err)
	}

	if n := fx.events.count(models.EventLockout); n != 1 {
		t.Errorf("lockout events = %d, want 1", n)
	}
}

func TestLockoutExpires(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.setupPin(t, "1234", "device-1")
	refresh := fx.seedRefresh(t)

	for i := 0; i < 5; i++ {
		failOnce(t, fx, "device-1", refresh)
	}

	fx.advance(16 * time.Minute)

	if _, err := fx.svc.PinLogin(ctx, "1234", "device-1", refresh); err != nil {
		t.Errorf("login after lockout expiry: %v", err)
	}
}

func TestWindowExpiryForgetsFailures(t *testing.T) {
	fx := newFixture(t)

	fx.setupPin(t, "1234", "device-1")
	refresh := fx.seedRefresh(t)

	for i := 0; i < 4; i++ {
		failOnce(t, fx, "device-1", refresh)
	}

	fx.advance(16 * time.Minute)

	// The window has passed; this is failure 1 of a fresh window, not 5 of 5.
	err := failOnce(t, fx, "device-1", refresh)
	if !errors.Is(err, ErrInvalidPin) {
		t.Errorf("got %v, want ErrInvalidPin (no lockout)", err)
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.setupPin(t, "1234", "device-1")
	refresh := fx.seedRefresh(t)

	for i := 0; i < 4; i++ {
		failOnce(t, fx, "device-1", refresh)
	}

	pair, err := fx.svc.PinLogin(ctx, "1234", "device-1", refresh)
	if err != nil {
		t.Fatalf("login at 4 failures: %v", err)
	}

	// Four more failures on the rotated token: if the counter survived the
	// success, the fourth here would be the fifth overall and lock.
	for i := 0; i < 4; i++ {
		if err := failOnce(t, fx, "device-1", pair.RefreshToken); !errors.Is(err, ErrInvalidPin) {
			t.Fatalf("post-success failure %d: got %v, want ErrInvalidPin", i+1, err)
		}
	}
}

func TestLockoutIsPerDevice(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.setupPin(t, "1234", "device-1")
	fx.setupPin(t, "1234", "device-2")
	refresh1 := fx.seedRefresh(t)

	for i := 0; i < 5; i++ {
		failOnce(t, fx, "device-1", refresh1)
	}

	// device-1 is locked; device-2 for the same user is not.
	refresh2 := fx.seedRefresh(t)
	if _, err := fx.svc.PinLogin(ctx, "1234", "device-2", refresh2); err != nil {
		t.Errorf("device-2 login while device-1 locked: %v", err)
	}
}

func TestMissingBindingCountsAsFailure(t *testing.T) {
	fx := newFixture(t)

	// No binding for device-9, but the refresh token is real.
	refresh := fx.seedRefresh(t)

	for i := 0; i < 4; i++ {
		_, err := fx.svc.PinLogin(context.Background(), "1234", "device-9", refresh)
		if !errors.Is(err, ErrNoBinding) {
			t.Fatalf("attempt %d: got %v, want ErrNoBinding", i+1, err)
		}
	}

	_, err := fx.svc.PinLogin(context.Background(), "1234", "device-9", refresh)
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Errorf("fifth no-binding attempt: got %v, want RateLimitedError", err)
	}
}

// ---------- binding replacement ----------

func TestRebindReplacesPinAndDeviceToken(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first := fx.setupPin(t, "1234", "device-1")
	second := fx.setupPin(t, "567890", "device-1")

	if first == second {
		t.Error("rebind returned the same device token")
	}

	binding, _ := fx.bindings.Get(ctx, "user-1", "device-1")
	if binding.DeviceTokenHash == hashing.DigestToken(first) {
		t.Error("old device token still valid after rebind")
	}

	refresh := fx.seedRefresh(t)
	if _, err := fx.svc.PinLogin(ctx, "1234", "device-1", refresh); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("old PIN after rebind: got %v, want ErrInvalidPin", err)
	}

	refresh2 := fx.seedRefresh(t)
	if _, err := fx.svc.PinLogin(ctx, "567890", "device-1", refresh2); err != nil {
		t.Errorf("new PIN after rebind: %v", err)
	}
}

// ---------- expiry ----------

func TestExpiredRefreshRejected(t *testing.T) {
	fx := newFixture(t)

	fx.setupPin(t, "1234", "device-1")
	refresh := fx.seedRefresh(t)

	fx.advance(31 * 24 * time.Hour)

	_, err := fx.svc.PinLogin(context.Background(), "1234", "device-1", refresh)
	if !errors.Is(err, ErrInvalidRefresh) {
		t.Errorf("expired refresh: got %v, want ErrInvalidRefresh", err)
	}
}

// ---------- sanity: distinct pairs per login ----------

func TestSequentialLoginsYieldDistinctTokens(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.setupPin(t, "1234", "device-1")
	refresh := fx.seedRefresh(t)

	seen := map[string]bool{refresh: true}
	for i := 0; i < 5; i++ {
		pair, err := fx.svc.PinLogin(ctx, "1234", "device-1", refresh)
		if err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
		if seen[pair.RefreshToken] {
			t.Fatalf("login %d returned a previously seen refresh token", i)
		}
		seen[pair.RefreshToken] = true
		refresh = pair.RefreshToken
		// Keep iat moving so access tokens differ too.
		fx.advance(time.Second)
	}
	if len(seen) != 6 {
		t.Errorf("distinct refresh tokens = %d, want 6", len(seen))
	}
}

package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pin-auth-service/internal/client"
	"pin-auth-service/internal/config"
	"pin-auth-service/internal/models"
	"pin-auth-service/internal/util"
)

const (
	failPrefix = "pin_fail:"
	lockPrefix = "pin_lock:"
)

// recordFailureScript increments the failure counter and trips the lock in a
// single round trip. Running it as one script keeps concurrent failures from
// racing past the threshold: N simultaneous wrong PINs count as N.
//
// KEYS[1] = counter key, KEYS[2] = lock key
// ARGV[1] = window seconds, ARGV[2] = max failures, ARGV[3] = lockout seconds
// Returns {failures, locked}.
const recordFailureScript = `
local fails = redis.call('INCR', KEYS[1])
if fails == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
if fails >= tonumber(ARGV[2]) then
    redis.call('SET', KEYS[2], '1', 'EX', ARGV[3])
    redis.call('DEL', KEYS[1])
    return {fails, 1}
end
return {fails, 0}
`

// LockoutCache tracks failed PIN attempts per (user, device) pair in Redis.
// The counter key expires with the sliding window; the lock key's TTL is the
// client's Retry-After.
type LockoutCache struct {
	client      *client.RedisClient
	maxFailures int
	window      time.Duration
	lockout     time.Duration
}

func NewLockoutCache(redisClient *client.RedisClient, cfg *config.Config) *LockoutCache {
	return &LockoutCache{
		client:      redisClient,
		maxFailures: cfg.Pin.MaxFailures,
		window:      cfg.Pin.Window,
		lockout:     cfg.Pin.Lockout,
	}
}

func failKey(userID, deviceID string) string {
	return fmt.Sprintf("%s%s:%s", failPrefix, userID, deviceID)
}

func lockKey(userID, deviceID string) string {
	return fmt.Sprintf("%s%s:%s", lockPrefix, userID, deviceID)
}

// Check reports whether the pair is locked out and for how much longer.
func (c *LockoutCache) Check(ctx context.Context, userID, deviceID string) (*models.LockState, error) {
	ttl, err := c.client.TTL(ctx, lockKey(userID, deviceID))
	if err != nil {
		util.Error("Failed to check lockout state",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to check lockout state: %w", err)
	}

	// TTL < 0 means the lock key does not exist.
	if ttl <= 0 {
		return &models.LockState{}, nil
	}

	return &models.LockState{
		Locked:     true,
		RetryAfter: ttl,
	}, nil
}

// RecordFailure counts one failed attempt and trips the lock when the
// threshold is reached within the window.
func (c *LockoutCache) RecordFailure(ctx context.Context, userID, deviceID string) (*models.AttemptState, error) {
	result, err := c.client.Eval(ctx, recordFailureScript,
		[]string{failKey(userID, deviceID), lockKey(userID, deviceID)},
		int(c.window.Seconds()), c.maxFailures, int(c.lockout.Seconds()))
	if err != nil {
		util.Error("Failed to record PIN failure",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record PIN failure: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 2 {
		return nil, fmt.Errorf("unexpected result format from lockout script")
	}

	state := &models.AttemptState{
		Failures: int(resultSlice[0].(int64)),
		Locked:   resultSlice[1].(int64) == 1,
	}
	if state.Locked {
		state.RetryAfter = c.lockout
		util.Warn("PIN lockout tripped",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Int("failures", state.Failures))
	}

	return state, nil
}

// Reset clears the failure counter after a successful PIN login. The lock key
// is left alone; an active lockout runs its full course.
func (c *LockoutCache) Reset(ctx context.Context, userID, deviceID string) error {
	if err := c.client.Del(ctx, failKey(userID, deviceID)); err != nil {
		util.Error("Failed to reset PIN failure counter",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return fmt.Errorf("failed to reset PIN failure counter: %w", err)
	}

	util.Debug("PIN failure counter reset",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID))

	return nil
}

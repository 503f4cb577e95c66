package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"pin-auth-service/internal/config"
)

// Manager assigns users and security events to stable murmur3 buckets so
// that table partitions stay bounded as the user base grows.
type Manager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	bm := &Manager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// UserBucket returns the consistent bucket for a user id (0 to userBuckets-1).
func (bm *Manager) UserBucket(userID string) int {
	return bm.getBucket(userID, bm.userBuckets)
}

// EventBucket returns the bucket a security event partition key falls in.
func (bm *Manager) EventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// DateBucket returns the UTC date partition for audit events.
func (bm *Manager) DateBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

func (bm *Manager) UserBuckets() int  { return bm.userBuckets }
func (bm *Manager) EventBuckets() int { return bm.eventBuckets }

func (bm *Manager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *Manager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

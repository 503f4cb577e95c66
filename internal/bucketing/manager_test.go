package bucketing

import (
	"fmt"
	"testing"
	"time"

	"pin-auth-service/internal/config"
)

func testManager() *Manager {
	cfg := &config.Config{}
	cfg.Bucketing.UserBuckets = 64
	cfg.Bucketing.EventBuckets = 16
	return NewManager(cfg)
}

func TestUserBucketIsStable(t *testing.T) {
	bm := testManager()

	first := bm.UserBucket("user-42")
	for i := 0; i < 100; i++ {
		if got := bm.UserBucket("user-42"); got != first {
			t.Fatalf("bucket changed between calls: %d then %d", first, got)
		}
	}
}

func TestBucketsStayInRange(t *testing.T) {
	bm := testManager()

	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("user-%d", i)
		if b := bm.UserBucket(id); b < 0 || b >= 64 {
			t.Fatalf("UserBucket(%q) = %d, out of range", id, b)
		}
		if b := bm.EventBucket(id); b < 0 || b >= 16 {
			t.Fatalf("EventBucket(%q) = %d, out of range", id, b)
		}
	}
}

func TestBucketsSpread(t *testing.T) {
	bm := testManager()

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		seen[bm.UserBucket(fmt.Sprintf("user-%d", i))] = true
	}
	// 1000 ids over 64 buckets should hit most of them.
	if len(seen) < 32 {
		t.Errorf("only %d of 64 buckets used", len(seen))
	}
}

func TestDateBucket(t *testing.T) {
	bm := testManager()

	at := time.Date(2025, 3, 9, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	if got := bm.DateBucket(at); got != "2025-03-10" {
		t.Errorf("DateBucket = %q, want UTC date 2025-03-10", got)
	}
}

package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"security-service/internal/config"
)

// BucketingManager assigns deterministic partition buckets for ClickHouse
// so per-user event reads touch a single partition range.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// UserBucket returns a consistent bucket for a user id (0 to userBuckets-1)
func (bm *BucketingManager) UserBucket(userID string) int {
	return bm.bucket(userID, bm.userBuckets)
}

// EventBucket returns the bucket an event row is written under.
func (bm *BucketingManager) EventBucket(identifier string) int {
	return bm.bucket(identifier, bm.eventBuckets)
}

// DateBucket returns the event_date partition value.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) bucket(identifier string, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(identifier))

	return int(hasher.Sum64() % uint64(buckets))
}

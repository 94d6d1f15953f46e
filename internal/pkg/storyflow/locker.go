package storyflow

import (
	"context"
	"fmt"
	"time"

	"github.com/magictales/storyforge/internal/pkg/cache"
)

// Locker serializes step work per story: at most one in-flight advance per
// story at any time. The TTL bounds how long a crashed holder blocks others.
type Locker interface {
	Acquire(ctx context.Context, storyID uint, ttl time.Duration) (bool, error)
	Release(ctx context.Context, storyID uint) error
}

// FailureTracker remembers which step a story last failed on, so Failed(n)
// is observable between the failure and the resume. The persisted step stays
// the single source of truth for where resumption continues.
type FailureTracker interface {
	MarkFailed(ctx context.Context, storyID uint, step int, reason string) error
	ClearFailed(ctx context.Context, storyID uint) error
	FailedStep(ctx context.Context, storyID uint) (int, bool)
}

const (
	lockKeyPrefix    = "storyflow:lock:"
	failureKeyPrefix = "storyflow:failed:"
	failureTTL       = 24 * time.Hour
)

// redisLocker implements Locker and FailureTracker on the shared cache.
type redisLocker struct{}

// NewRedisLocker returns the cache-backed locker used in production.
func NewRedisLocker() Locker {
	return &redisLocker{}
}

// NewRedisFailureTracker returns the cache-backed failure tracker.
func NewRedisFailureTracker() FailureTracker {
	return &redisLocker{}
}

func (r *redisLocker) Acquire(ctx context.Context, storyID uint, ttl time.Duration) (bool, error) {
	return cache.AcquireLock(ctx, fmt.Sprintf("%s%d", lockKeyPrefix, storyID), ttl)
}

func (r *redisLocker) Release(ctx context.Context, storyID uint) error {
	return cache.ReleaseLock(ctx, fmt.Sprintf("%s%d", lockKeyPrefix, storyID))
}

func (r *redisLocker) MarkFailed(ctx context.Context, storyID uint, step int, reason string) error {
	key := fmt.Sprintf("%s%d", failureKeyPrefix, storyID)
	if err := cache.GetClient().HSet(ctx, key, "step", step, "reason", reason).Err(); err != nil {
		return err
	}
	return cache.GetClient().Expire(ctx, key, failureTTL).Err()
}

func (r *redisLocker) ClearFailed(ctx context.Context, storyID uint) error {
	return cache.GetClient().Del(ctx, fmt.Sprintf("%s%d", failureKeyPrefix, storyID)).Err()
}

func (r *redisLocker) FailedStep(ctx context.Context, storyID uint) (int, bool) {
	key := fmt.Sprintf("%s%d", failureKeyPrefix, storyID)
	step, err := cache.GetClient().HGet(ctx, key, "step").Int()
	if err != nil {
		return 0, false
	}
	return step, true
}

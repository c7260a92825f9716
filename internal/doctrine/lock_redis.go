package doctrine

import (
	"context"
	"fmt"
	"time"

	"compliance-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisLocker serializes rule mutations across API nodes using an owner-checked
// redis lock. Acquire polls with backoff until the context expires.
type RedisLocker struct {
	rdb *redis.Client

	// TTL bounds a crashed holder's lock. Must exceed the longest mutation.
	TTL time.Duration
	// RetryInterval is the poll interval while the lock is held elsewhere.
	RetryInterval time.Duration
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, TTL: 10 * time.Second, RetryInterval: 25 * time.Millisecond}
}

func (l *RedisLocker) WithRuleLock(ctx context.Context, ruleID string, fn func(ctx context.Context) error) error {
	if l.rdb == nil {
		return fmt.Errorf("doctrine: redis locker not configured")
	}
	key := "doctrine:rule_lock:" + ruleID

	var token string
	for {
		t, ok, err := utils.AcquireMutationLock(ctx, l.rdb, key, l.TTL)
		if err != nil {
			return err
		}
		if ok {
			token = t
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for rule %s lock", ErrCancelled, ruleID)
		case <-time.After(l.RetryInterval):
		}
	}
	defer func() {
		// Best-effort; TTL reclaims the lock if release fails.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseMutationLock(releaseCtx, l.rdb, key, token)
	}()

	return fn(ctx)
}

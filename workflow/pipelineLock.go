package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/benefits_backend/config"
	"github.com/bsm/redislock"
)

const pipelineLockTTL = 60 * time.Second

// AcquireUploadLock serializes pipeline runs per upload across instances:
// each Upload is processed by at most one in-flight run at a time. The
// returned release func is always safe to call. Without a configured locker
// the lock degrades to a no-op (single-instance deployments).
func AcquireUploadLock(ctx context.Context, uploadID string) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("pipeline:upload:%s", uploadID)
	lock, err := locker.Obtain(ctx, key, pipelineLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(250*time.Millisecond), 8),
	})
	if err != nil {
		return func() {}, fmt.Errorf("could not acquire pipeline lock for upload %s: %w", uploadID, err)
	}
	return func() {
		_ = lock.Release(context.Background())
	}, nil
}

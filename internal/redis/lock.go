package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("owner lock not acquired")
)

const defaultRetryInterval = 25 * time.Millisecond

// OwnerLocker serializes appointment creation per owner across api instances.
// It satisfies appointment.Locker.
type OwnerLocker struct {
	client        *redis.Client
	ttl           time.Duration
	wait          time.Duration
	retryInterval time.Duration
}

// NewOwnerLocker creates a locker that uses a per owner Redis key. A busy
// lock is polled for up to wait before giving up.
func NewOwnerLocker(client *redis.Client, ttl, wait time.Duration) *OwnerLocker {
	return &OwnerLocker{
		client:        client,
		ttl:           ttl,
		wait:          wait,
		retryInterval: defaultRetryInterval,
	}
}

func ownerLockKey(ownerID uuid.UUID) string {
	return fmt.Sprintf("lock:owner:%s", ownerID.String())
}

func (l *OwnerLocker) WithOwnerLock(ctx context.Context, ownerID uuid.UUID, fn func(ctx context.Context) error) error {
	key := ownerLockKey(ownerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release must run even if the caller's context is already done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *OwnerLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire owner lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *OwnerLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release owner lock: %w", err)
	}
	return nil
}

package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	lockTTL          = 10 * time.Second
	lockRetryDelay   = 15 * time.Millisecond
	lockWaitDeadline = 5 * time.Second
)

var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// DigestLock serializes the open/append/close critical section of a digest
// aggregation window across workers. Lock keys carry an owner token so a
// stale holder cannot release another worker's lock.
type DigestLock struct {
	client *goredis.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewDigestLock(client *goredis.Client) (*DigestLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &DigestLock{client: client, sleep: sleepWithContext}, nil
}

// WithLock runs fn while holding the window lock for key, waiting briefly if
// another worker holds it.
func (l *DigestLock) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("digest lock is not initialized")
	}
	normalized := strings.TrimSpace(key)
	if normalized == "" {
		return fmt.Errorf("lock key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token, err := l.acquire(ctx, normalized)
	if err != nil {
		return err
	}
	defer l.release(normalized, token)

	return fn(ctx)
}

func (l *DigestLock) acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(lockWaitDeadline)

	for {
		acquired, err := l.client.SetNX(ctx, lockKey(key), token, lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("failed to acquire digest lock: %w", err)
		}
		if acquired {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for digest lock %q", key)
		}
		if err := l.sleep(ctx, lockRetryDelay); err != nil {
			return "", err
		}
	}
}

func (l *DigestLock) release(key, token string) {
	// Release on a fresh context so cancellation cannot leak the lock until
	// its TTL expires.
	releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = unlockScript.Run(releaseCtx, l.client, []string{lockKey(key)}, token).Err()
}

func lockKey(key string) string {
	return "digestlock:" + key
}

package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker elects a single poller per cycle across instances. Installments are still claimed
// one by one, so a lost or expired lock never causes a second charge.
type Locker interface {
	// Acquire returns a release func when the lock was taken, or ok=false when another holder has it.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// LocalLocker keeps cycles in one process from overlapping, such as the ticker and a manual
// poll. Used when no Redis is configured.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}
	return release, true, nil
}

const pollLockKey = "installments:poller:lock"

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
	key    string
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, key: pollLockKey}
}

func (l *RedisLocker) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	set, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire poller lock: %w", err)
	}
	if !set {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release poller lock: %w", err)
		}
		return nil
	}

	return release, true, nil
}

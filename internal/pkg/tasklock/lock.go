package tasklock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const keyPrefix = "generation:lock:"

// Locker is a best-effort mutual exclusion per generation task. A nil Locker,
// or one without a Redis client, grants every lock.
type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
		ttl:    ttl,
	}
}

// Lease is a held lock. Release is safe to call on a zero Lease.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// TryAcquire returns ok=false when another holder owns the lock.
// Redis errors fail open: the database guard remains authoritative.
func (l *Locker) TryAcquire(ctx context.Context, taskID string) (Lease, bool, error) {
	if l == nil || l.client == nil {
		return Lease{}, true, nil
	}
	if taskID == "" {
		return Lease{}, false, errors.New("tasklock: empty task id")
	}

	key := keyPrefix + taskID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return Lease{}, true, err
	}
	if !ok {
		return Lease{}, false, nil
	}
	return Lease{locker: l, key: key, token: token}, true, nil
}

// Release drops the lock if it is still owned by this lease.
func (le Lease) Release(ctx context.Context) error {
	if le.locker == nil || le.locker.client == nil || le.token == "" {
		return nil
	}
	return le.locker.script.Run(ctx, le.locker.client, []string{le.key}, le.token).Err()
}

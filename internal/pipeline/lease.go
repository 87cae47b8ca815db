package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLeaseKey is the Redis key holding the run lease.
const DefaultLeaseKey = "pipeline:run:lease"

// Lease is an exclusive, expiring claim on the right to mutate the store.
// Holders identify themselves with their run id.
type Lease interface {
	// Acquire claims the lease for ttl. It reports false when another holder
	// has it.
	Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	// Release gives the lease up if holder still owns it.
	Release(ctx context.Context, holder string) error
	// Holder returns the current holder, empty when the lease is free.
	Holder(ctx context.Context) (string, error)
}

// releaseScript deletes the key only when it still names the caller, so a
// holder whose lease expired cannot free a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease stores the lease in a single Redis key with a TTL, so a crashed
// holder's lease expires on its own.
type RedisLease struct {
	client *redis.Client
	key    string
}

// NewRedisLease constructs a RedisLease. An empty key selects DefaultLeaseKey.
func NewRedisLease(client *redis.Client, key string) *RedisLease {
	if key == "" {
		key = DefaultLeaseKey
	}
	return &RedisLease{client: client, key: key}
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("pipeline: acquire lease: %w", err)
	}
	return ok, nil
}

// Release implements Lease.
func (l *RedisLease) Release(ctx context.Context, holder string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, holder).Err(); err != nil {
		return fmt.Errorf("pipeline: release lease: %w", err)
	}
	return nil
}

// Holder implements Lease.
func (l *RedisLease) Holder(ctx context.Context) (string, error) {
	holder, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pipeline: read lease: %w", err)
	}
	return holder, nil
}

// LocalLease is an in-process Lease for single-instance deployments and
// tests.
type LocalLease struct {
	mu      sync.Mutex
	holder  string
	expires time.Time
	now     func() time.Time
}

// NewLocalLease constructs a LocalLease. A nil clock defaults to time.Now.
func NewLocalLease(now func() time.Time) *LocalLease {
	if now == nil {
		now = time.Now
	}
	return &LocalLease{now: now}
}

// Acquire implements Lease.
func (l *LocalLease) Acquire(_ context.Context, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" && l.now().Before(l.expires) {
		return false, nil
	}
	l.holder = holder
	l.expires = l.now().Add(ttl)
	return true, nil
}

// Release implements Lease.
func (l *LocalLease) Release(_ context.Context, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == holder {
		l.holder = ""
	}
	return nil
}

// Holder implements Lease.
func (l *LocalLease) Holder(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == "" || !l.now().Before(l.expires) {
		return "", nil
	}
	return l.holder, nil
}

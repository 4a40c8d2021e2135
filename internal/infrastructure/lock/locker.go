package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Locker grants exclusive ownership of a key. The returned function releases it.
type Locker interface {
	Obtain(ctx context.Context, key, owner string) (release func(), err error)
}

// RedisLocker hands out DistributedLocks; it is used when several bot
// processes share one ledger.
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 100 * time.Millisecond,
		maxRetries:    30,
	}
}

func (r *RedisLocker) Obtain(ctx context.Context, key, owner string) (func(), error) {
	l := NewDistributedLock(r.client, key, owner, r.ttl)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// the lock expires by itself if this fails
		_ = l.Unlock(context.Background())
	}, nil
}

// LocalLocker is an in-process Locker with non-blocking semantics: a second
// Obtain on a held key fails with ErrLockFailed.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]string)}
}

func (l *LocalLocker) Obtain(ctx context.Context, key, owner string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, ErrLockFailed
	}
	l.held[key] = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key] == owner {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}, nil
}

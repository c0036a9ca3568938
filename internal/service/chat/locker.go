package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker serializes history writes per session key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed lock. Entries are dropped once nobody holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

const (
	defaultLockTTL   = 10 * time.Second
	defaultLockRetry = 25 * time.Millisecond
	lockKeyPrefix    = "mindcare:lock:session:"
)

// 只有持有者本人才能释放锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a cross-instance lock built on SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	log    *zap.SugaredLogger
}

// NewRedisLocker returns a locker whose leases expire after ttl.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, log *zap.SugaredLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		retry:  defaultLockRetry,
		log:    log.With("component", "redis-locker"),
	}
}

// Lock retries until the lease is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := lockKeyPrefix + key
	owner := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, owner, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, owner).Err(); err != nil {
				l.log.Warnw("failed to release session lock", "key", key, "error", err)
			}
		})
	}, nil
}

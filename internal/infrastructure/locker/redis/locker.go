package redislocker

import (
	"context"
	"fmt"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const identityLockKey = "moneypot:identity-lock"

// Deletes the key only if it still holds our token, so an expired lock
// taken over by another process is never released by the previous owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Option func(*locker)

// WithTTL sets how long a lock survives if its owner dies before releasing
// it. It must exceed the submission deadline.
func WithTTL(ttl time.Duration) Option {
	return func(l *locker) {
		l.ttl = ttl
	}
}

func WithRetryDelay(delay time.Duration) Option {
	return func(l *locker) {
		l.retryDelay = delay
	}
}

type locker struct {
	rdb        *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
}

// NewLocker returns an IdentityLocker shared by every process connected to
// the same redis instance.
func NewLocker(rdb *redis.Client, opts ...Option) ports.IdentityLocker {
	l := &locker{
		rdb:        rdb,
		ttl:        2 * time.Minute,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *locker) Lock(ctx context.Context, identity string) (func(), error) {
	key := lockKey(identity)
	token := uuid.New().String()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire lock for %s: %w", identity, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}

	return func() {
		// The caller's ctx may already be expired, release regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err(); err != nil {
			log.WithError(err).Warnf("failed to release lock for %s", identity)
		}
	}, nil
}

func (l *locker) Close() {
	if err := l.rdb.Close(); err != nil {
		log.WithError(err).Warn("failed to close redis client")
	}
}

func lockKey(identity string) string {
	if addr, err := domain.NormalizeAddress(identity); err == nil {
		identity = addr
	}
	return fmt.Sprintf("%s:%s", identityLockKey, identity)
}

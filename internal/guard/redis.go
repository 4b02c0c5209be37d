package guard

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrLockTimeout = errors.New("guard: lock not acquired")

// 토큰이 일치할 때만 삭제
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a lease lock shared by every instance talking to the same Redis.
// The lease expires after TTL so a crashed holder cannot wedge a game.
type RedisLocker struct {
	rdb     redis.UniversalClient
	prefix  string
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{rdb: rdb, prefix: "wager:lock:", ttl: ttl, wait: ttl, backoff: 10 * time.Millisecond}
}

func (l *RedisLocker) key(k string) string { return l.prefix + k }

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	delay := l.backoff
	for {
		ok, err := l.rdb.SetNX(ctx, l.key(key), token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, 250*time.Millisecond)
	}

	return func() {
		// release must survive a cancelled request context
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{l.key(key)}, token).Err(); err != nil {
			obslog.L().Warn("lock_release_failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

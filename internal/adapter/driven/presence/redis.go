package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// RedisConfig controls the redis client. Zero values get safe defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var acquireScript = redis.NewScript(`
-- KEYS[1] = busy key, ARGV[1] = call id, ARGV[2] = ttl_ms
local cur = redis.call('GET', KEYS[1])
if not cur then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
if cur == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
-- KEYS[1] = busy key, ARGV[1] = call id
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLock shares the busy state between server instances. The TTL bounds
// how long a crashed instance can keep a user busy.
type RedisLock struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLock(rdb *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLock{rdb: rdb, prefix: "yacall:busy:", ttl: ttl}
}

func (l *RedisLock) key(userID domain.UserID) string {
	return l.prefix + userID.String()
}

func (l *RedisLock) Acquire(ctx context.Context, userID domain.UserID, callID domain.CallID) (bool, error) {
	res, err := acquireScript.Run(ctx, l.rdb, []string{l.key(userID)}, callID.String(), l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire busy lock: %w", err)
	}
	return res == 1, nil
}

func (l *RedisLock) Release(ctx context.Context, userID domain.UserID, callID domain.CallID) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key(userID)}, callID.String()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release busy lock: %w", err)
	}
	return nil
}

package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTimeout = errors.New("lock wait timed out")

const pollInterval = 50 * time.Millisecond

// Locker serializes work on a named key. Lock blocks until the key is held,
// the context ends or the implementation gives up.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlocker, error)
}

type Unlocker interface {
	Unlock(ctx context.Context) error
}

type RedisLock struct {
	client *redis.Client
	key    string
	token  string
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func TryLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*RedisLock, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &RedisLock{client: client, key: key, token: token}, true, nil
}

func (l *RedisLock) Unlock(ctx context.Context) error {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.token).Result()
	return err
}

// RedisLocker shares locks between every proxy instance pointed at the same
// Redis, which matters when they also share one S3 bucket.
type RedisLocker struct {
	Client  *redis.Client
	Prefix  string
	TTL     time.Duration
	MaxWait time.Duration
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (Unlocker, error) {
	lockKey := r.Prefix + "lock:" + key
	deadline := time.Now().Add(r.MaxWait)

	for {
		l, ok, err := TryLock(ctx, r.Client, lockKey, r.TTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	_, err := rand.Read(buf)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

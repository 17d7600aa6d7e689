package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leasePrefix = "genjobs:lease:"

// compare-and-delete / compare-and-expire, so a holder never touches a lease
// that was re-acquired by someone else after expiry.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Leases hands out per-job poll ownership across replicas.
type Leases struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Leases {
	return &Leases{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewFromClient(rdb *redis.Client) *Leases {
	return &Leases{rdb: rdb}
}

func (l *Leases) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *Leases) Close() error {
	return l.rdb.Close()
}

// Acquire returns a token when the lease on key was free.
func (l *Leases) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, leasePrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Refresh extends a held lease; false means it was lost.
func (l *Leases) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.rdb, []string{leasePrefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return n == 1, nil
}

func (l *Leases) Release(ctx context.Context, key, token string) error {
	err := releaseScript.Run(ctx, l.rdb, []string{leasePrefix + key}, token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

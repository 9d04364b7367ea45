package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TickLock lets one of several scheduler instances scan per interval. Claims stay atomic without it.
type TickLock interface {
	Acquire(ctx context.Context) (bool, error)
}

// RedisTickLock takes a SETNX key that expires after TTL. The key is not released after the scan,
// so other instances skip until it expires.
type RedisTickLock struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
	owner  string
}

func NewRedisTickLock(client *redis.Client, key string, ttl time.Duration) *RedisTickLock {
	if key == "" {
		key = "campaign-mailer:scheduler:tick"
	}
	return &RedisTickLock{Client: client, Key: key, TTL: ttl, owner: uuid.NewString()}
}

func (l *RedisTickLock) Acquire(ctx context.Context) (bool, error) {
	return l.Client.SetNX(ctx, l.Key, l.owner, l.TTL).Result()
}

// Owner is the value this instance writes into the lock key.
func (l *RedisTickLock) Owner() string {
	return l.owner
}

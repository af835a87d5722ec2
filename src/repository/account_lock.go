package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockHeld = errors.New("account lock is held by another payment")

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AccountLock serializes submissions per smart account across processes
type AccountLock struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewAccountLock(redis *redis.Client, prefix string, ttl time.Duration) *AccountLock {
	return &AccountLock{
		redis:  redis,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (l *AccountLock) key(account common.Address) string {
	return fmt.Sprintf("%s:%s", l.prefix, strings.ToLower(account.Hex()))
}

// Acquire takes the lock for account. The returned release func only removes
// the lock if it was not taken over after expiry.
func (l *AccountLock) Acquire(ctx context.Context, account common.Address) (func(context.Context) error, error) {
	key := l.key(account)
	token := uuid.NewString()

	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire account lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.redis, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("failed to release account lock: %w", err)
		}
		return nil
	}
	return release, nil
}

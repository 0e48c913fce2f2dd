// Package lockx provides the single-holder redis lease that keeps a
// scheduled fleet sweep and a manual update-all from syncing the same
// ranges concurrently. The lease expires on its own: a crashed holder
// never needs manual cleanup, at the cost of a second runner starting
// once the TTL lapses mid-sync.
package lockx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release compares the holder token before deleting so a holder whose
// lease already expired cannot free a lease re-acquired by someone else.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Lock is proof of holding a lease; only its holder token makes Release
// effective.
type Lock struct {
	Key   string
	Token string
}

// Acquire takes the lease if free. The second return is false when
// another holder has it; that is not an error.
func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, bool, error) {
	if client == nil {
		return nil, false, errors.New("redis client not initialized")
	}
	if ttl <= 0 {
		return nil, false, errors.New("lease ttl must be > 0")
	}
	token := uuid.NewString()
	acquired, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !acquired {
		return nil, false, err
	}
	return &Lock{Key: key, Token: token}, true, nil
}

func Release(ctx context.Context, client *redis.Client, lock *Lock) error {
	if client == nil {
		return errors.New("redis client not initialized")
	}
	if lock == nil {
		return errors.New("lock is nil")
	}
	return client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Token).Err()
}

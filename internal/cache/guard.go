package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/foodorder/internal/checkout"
)

var _ checkout.Guard = (*CheckoutGuard)(nil)

// releaseScript deletes the lock only while it still holds our token, so an
// expired lock taken over by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CheckoutGuard serializes checkouts of a user across replicas with a Redis
// lock. The lock expires after ttl if its holder dies.
type CheckoutGuard struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewCheckoutGuard returns a CheckoutGuard. ttl should outlive a checkout.
func NewCheckoutGuard(rdb redis.UniversalClient, ttl time.Duration) *CheckoutGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CheckoutGuard{rdb: rdb, ttl: ttl}
}

func guardKey(userID int64) string {
	return "checkout:lock:" + strconv.FormatInt(userID, 10)
}

// Acquire takes the user's lock or returns checkout.ErrCheckoutInProgress.
func (g *CheckoutGuard) Acquire(ctx context.Context, userID int64) (func(), error) {
	key := guardKey(userID)
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "acquire checkout lock")
	}
	if !ok {
		return nil, checkout.ErrCheckoutInProgress
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.rdb, []string{key}, token).Err()
	}, nil
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

const lockPrefix = "docpipe:lock:"

// Lock hands out leases stored as Redis keys with a PX expiry. Every lease
// carries its own token, so a lease that lapsed and was re-taken elsewhere
// can never delete the new holder's key.
type Lock struct {
	client *redis.Client
}

// NewLock creates a new Redis-backed distributed lock.
func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client}
}

// TryAcquire sets the lock key with NX semantics.
func (l *Lock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (driven.Lease, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: lock %s needs a positive ttl", domain.ErrInvalidInput, name)
	}

	key := lockPrefix + name
	token := uuid.NewString()
	err := l.client.SetArgs(ctx, key, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return &lease{client: l.client, name: name, key: key, token: token}, nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

type lease struct {
	client *redis.Client
	name   string
	key    string
	token  string

	once sync.Once
	err  error
}

func (ls *lease) Name() string { return ls.name }

func (ls *lease) Release(ctx context.Context) error {
	ls.once.Do(func() {
		err := compareAndDelete.Run(ctx, ls.client, []string{ls.key}, ls.token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			ls.err = fmt.Errorf("release lock %s: %w", ls.name, err)
		}
	})
	return ls.err
}

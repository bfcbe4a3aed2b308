package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Connect establishes a connection to Redis
func Connect(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	client := redis.NewClient(opt)

	// Verify connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}

	return client, nil
}

// Lease is a short-lived exclusive claim shared by every instance of the
// service, used so only one instance runs a given sweep per interval.
type Lease struct {
	rdb    *redis.Client
	prefix string
	owner  string
}

func NewLease(rdb *redis.Client, prefix, owner string) *Lease {
	return &Lease{rdb: rdb, prefix: prefix, owner: owner}
}

// Acquire claims name for ttl. It reports false when another owner holds it.
// A nil Lease always acquires.
func (l *Lease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	ok, err := l.rdb.SetNX(ctx, l.prefix+name, l.owner, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "acquire lease %s", name)
	}
	return ok, nil
}

// Holder returns the current owner of name, or "" when unclaimed.
func (l *Lease) Holder(ctx context.Context, name string) (string, error) {
	if l == nil || l.rdb == nil {
		return "", nil
	}
	owner, err := l.rdb.Get(ctx, l.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, errors.Wrapf(err, "read lease %s", name)
}

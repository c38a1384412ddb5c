package redislocker

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// LockExpiry is the time after which a lock expires in Redis if its holder
// stops extending it, e.g. because the process crashed.
var LockExpiry = 8 * time.Second

type LockerOption func(l *RedisLocker)

func WithLogger(logger *slog.Logger) LockerOption {
	return func(l *RedisLocker) {
		l.Logger = logger
	}
}

// WithKeyPrefix sets the prefix of the Redis keys used for the mutexes and
// the pub/sub channels.
func WithKeyPrefix(prefix string) LockerOption {
	return func(l *RedisLocker) {
		l.KeyPrefix = prefix
	}
}

// NewFromClient creates a locker using an existing Redis client.
func NewFromClient(client redis.UniversalClient, lockerOptions ...LockerOption) (*RedisLocker, error) {
	rs := redsync.New(goredis.NewPool(client))

	locker := &RedisLocker{
		KeyPrefix: DefaultKeyPrefix,
		CreateMutex: func(id string) MutexLock {
			return rs.NewMutex(id, redsync.WithExpiry(LockExpiry), redsync.WithTries(1))
		},
	}
	for _, option := range lockerOptions {
		option(locker)
	}

	if locker.Logger == nil {
		locker.Logger = slog.Default()
	}
	if locker.Exchange == nil {
		locker.Exchange = &RedisLockExchange{
			Client:                      client,
			LockExchangeChannelTemplate: locker.KeyPrefix + "release_request_%s",
			LockReleaseChannelTemplate:  locker.KeyPrefix + "released_%s",
		}
	}

	return locker, nil
}

// New connects to the Redis server at uri, e.g. redis://localhost:6379/0, and
// creates a locker using it.
func New(uri string, lockerOptions ...LockerOption) (*RedisLocker, error) {
	connection, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(connection)
	if res := client.Ping(context.Background()); res.Err() != nil {
		return nil, res.Err()
	}
	return NewFromClient(client, lockerOptions...)
}

// Package redisprefs provides a settings store backed by Redis.
//
// Every namespace is stored as a Redis hash whose fields are the keys of the
// namespace. The hash name is the namespace with KeyPrefix prepended, which
// allows multiple deployments to share one Redis database.
package redisprefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tus/doctree/pkg/bridge"
)

// DefaultKeyPrefix is prepended to the namespace to form the hash name.
const DefaultKeyPrefix = "doctree:settings:"

type RedisStore struct {
	Client redis.UniversalClient
	// KeyPrefix is prepended to every namespace. Defaults to DefaultKeyPrefix.
	KeyPrefix string
}

type StoreOption func(store *RedisStore)

// WithKeyPrefix sets the prefix of the hash names.
func WithKeyPrefix(prefix string) StoreOption {
	return func(store *RedisStore) {
		store.KeyPrefix = prefix
	}
}

// NewFromClient creates a store using an existing Redis client.
func NewFromClient(client redis.UniversalClient, options ...StoreOption) *RedisStore {
	store := &RedisStore{
		Client:    client,
		KeyPrefix: DefaultKeyPrefix,
	}
	for _, option := range options {
		option(store)
	}
	return store
}

// New connects to the Redis server at uri, e.g. redis://localhost:6379/0,
// and checks that it is reachable.
func New(uri string, options ...StoreOption) (*RedisStore, error) {
	connection, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(connection)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redisprefs: failed to connect to %s: %w", connection.Addr, err)
	}
	return NewFromClient(client, options...), nil
}

// UseIn sets this store as the settings store in the passed composer.
func (store *RedisStore) UseIn(composer *bridge.Composer) {
	composer.UseSettings(store)
}

func (store *RedisStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	value, err := store.Client.HGet(ctx, store.KeyPrefix+namespace, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return value, true, nil
}

func (store *RedisStore) Set(ctx context.Context, namespace, key, value string) error {
	return store.Client.HSet(ctx, store.KeyPrefix+namespace, key, value).Err()
}

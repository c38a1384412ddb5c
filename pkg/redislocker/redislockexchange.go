package redislocker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tus/doctree/pkg/bridge"
)

var (
	// DefaultLockExchangeChannelTemplate is the default Redis channel pattern
	// for sending lock release requests. The %s is replaced with the lock ID.
	DefaultLockExchangeChannelTemplate = DefaultKeyPrefix + "release_request_%s"

	// DefaultLockReleaseChannelTemplate is the default Redis channel pattern
	// for notifying that a lock has been released. The %s is replaced with the
	// lock ID.
	DefaultLockReleaseChannelTemplate = DefaultKeyPrefix + "released_%s"
)

// RedisLockExchange implements LockExchange using Redis pub/sub messaging.
type RedisLockExchange struct {
	Client redis.UniversalClient

	// LockExchangeChannelTemplate is the template for channel names used to
	// request lock releases. If empty, DefaultLockExchangeChannelTemplate is
	// used.
	LockExchangeChannelTemplate string

	// LockReleaseChannelTemplate is the template for channel names used to
	// announce released locks. If empty, DefaultLockReleaseChannelTemplate is
	// used.
	LockReleaseChannelTemplate string
}

// LockExchangeChannel returns the channel name for requesting the release of
// the given lock.
func (e *RedisLockExchange) LockExchangeChannel(id string) string {
	template := e.LockExchangeChannelTemplate
	if template == "" {
		template = DefaultLockExchangeChannelTemplate
	}
	return fmt.Sprintf(template, id)
}

// LockReleaseChannel returns the channel name for announcing that the given
// lock has been released.
func (e *RedisLockExchange) LockReleaseChannel(id string) string {
	template := e.LockReleaseChannelTemplate
	if template == "" {
		template = DefaultLockReleaseChannelTemplate
	}
	return fmt.Sprintf(template, id)
}

// Listen waits for a release request for the given lock and invokes the
// callback once. It returns early if the context is cancelled.
func (e *RedisLockExchange) Listen(ctx context.Context, id string, callback func()) {
	psub := e.Client.Subscribe(ctx, e.LockExchangeChannel(id))
	defer psub.Close()

	select {
	case <-psub.Channel():
		callback()
	case <-ctx.Done():
	}
}

// Request asks the holder of the lock to release it and waits until the
// release has been announced. bridge.ErrLockTimeout is returned if the
// context is done before.
func (e *RedisLockExchange) Request(ctx context.Context, id string) error {
	psub := e.Client.Subscribe(ctx, e.LockReleaseChannel(id))
	defer psub.Close()

	// Wait for the subscription to be active, otherwise the announcement may
	// be missed.
	if _, err := psub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return bridge.ErrLockTimeout
		}
		return err
	}

	if err := e.Client.Publish(ctx, e.LockExchangeChannel(id), id).Err(); err != nil {
		if ctx.Err() != nil {
			return bridge.ErrLockTimeout
		}
		return err
	}

	select {
	case <-psub.Channel():
		return nil
	case <-ctx.Done():
		return bridge.ErrLockTimeout
	}
}

// Release announces that the lock has been released.
func (e *RedisLockExchange) Release(ctx context.Context, id string) error {
	return e.Client.Publish(ctx, e.LockReleaseChannel(id), id).Err()
}

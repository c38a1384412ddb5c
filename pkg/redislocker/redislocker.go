// Package redislocker provides a distributed locker using Redis.
//
// Locks are implemented as redsync mutexes, which expire after LockExpiry
// unless they are extended by their holder. While a lock is held, it is
// extended in the background. Release requests are exchanged using Redis
// pub/sub, so bridges running on different machines can ask each other to
// give up a lock.
package redislocker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tus/doctree/pkg/bridge"
)

// DefaultKeyPrefix is prepended to the lock IDs to form the Redis keys.
const DefaultKeyPrefix = "doctree:lock:"

type LockExchange interface {
	Listen(ctx context.Context, id string, callback func())
	Request(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

type MutexLock interface {
	TryLockContext(context.Context) error
	ExtendContext(context.Context) (bool, error)
	UnlockContext(context.Context) (bool, error)
	Until() time.Time
}

type RedisLocker struct {
	// KeyPrefix is prepended to every lock ID. Defaults to DefaultKeyPrefix.
	KeyPrefix   string
	CreateMutex func(id string) MutexLock
	Exchange    LockExchange
	Logger      *slog.Logger
}

// UseIn sets this locker as the locker in the passed composer.
func (locker *RedisLocker) UseIn(composer *bridge.Composer) {
	composer.UseLocker(locker)
}

func (locker *RedisLocker) NewLock(id string) (bridge.Lock, error) {
	mutex := locker.CreateMutex(locker.KeyPrefix + id)
	return &redisLock{
		id:       id,
		mutex:    mutex,
		exchange: locker.Exchange,
		logger:   locker.Logger.With("lock_id", id),
	}, nil
}

type redisLock struct {
	id       string
	mutex    MutexLock
	ctx      context.Context
	cancel   context.CancelCauseFunc
	exchange LockExchange
	logger   *slog.Logger
}

func (l *redisLock) Lock(ctx context.Context, releaseRequested func()) error {
	l.logger.Debug("LockAcquiring")
	if err := l.requestLock(ctx); err != nil {
		return err
	}
	if releaseRequested == nil {
		releaseRequested = func() {}
	}

	go l.exchange.Listen(l.ctx, l.id, releaseRequested)
	go func() {
		if err := l.keepAlive(l.ctx); err != nil {
			l.logger.Error("LockKeepAliveError", "error", err)
			l.cancel(err)
			releaseRequested()
		}
	}()
	l.logger.Debug("LockAcquired")
	return nil
}

func (l *redisLock) acquireLock(ctx context.Context) error {
	if err := l.mutex.TryLockContext(ctx); err != nil {
		return err
	}

	l.ctx, l.cancel = context.WithCancelCause(context.Background())
	return nil
}

// requestLock tries to acquire the lock. If it is held by somebody else, the
// holder is asked to release it and the acquisition is retried once the
// release has been announced.
func (l *redisLock) requestLock(ctx context.Context) error {
	err := l.acquireLock(ctx)
	if err == nil {
		return nil
	}

	for {
		l.logger.Debug("LockReleaseRequested", "error", err)
		if err := l.exchange.Request(ctx, l.id); err != nil {
			l.logger.Debug("LockReleaseNotGranted", "error", err)
			return err
		}

		err = l.acquireLock(ctx)
		if err == nil {
			return nil
		}

		// Somebody else won the race for the released lock.
		if ctx.Err() != nil {
			return bridge.ErrLockTimeout
		}
	}
}

func (l *redisLock) keepAlive(ctx context.Context) error {
	// The extension is cancelled if the lock is released in the middle of an
	// attempt.
	for {
		select {
		case <-time.After(time.Until(l.mutex.Until()) / 2):
			_, err := l.mutex.ExtendContext(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("redislocker: failed to extend lock: %w", err)
			}
			l.logger.Debug("LockExtended", "until", l.mutex.Until())
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *redisLock) Unlock() error {
	if l.ctx == nil {
		return nil
	}

	l.logger.Debug("LockReleasing")
	defer l.cancel(nil)

	ok, err := l.mutex.UnlockContext(context.Background())
	if !ok && err == nil {
		err = errors.New("redislocker: lock expired before it was released")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if e := l.exchange.Release(ctx, l.id); e != nil {
		err = errors.Join(err, e)
	}
	if err != nil {
		l.logger.Error("LockReleaseError", "error", err)
	}
	l.ctx = nil
	return err
}

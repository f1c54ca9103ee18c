package locks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

const (
	backendRedis       = "redis"
	defaultLockTTL     = 30 * time.Second
	defaultPollEvery   = 20 * time.Millisecond
	releaseCallTimeout = 2 * time.Second
)

// lockStore defines the operations used by RedisLocker.
type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
	LockKey(scope string) string
}

// RedisLocker holds per-entity locks across API replicas using SETNX with an
// owner token. The TTL frees locks left behind by crashed holders.
type RedisLocker struct {
	store   lockStore
	ttl     time.Duration
	wait    time.Duration
	poll    time.Duration
	metrics waitObserver
}

type RedisLockerParams struct {
	Store   lockStore
	TTL     time.Duration
	Wait    time.Duration
	Poll    time.Duration
	Metrics waitObserver
}

func NewRedisLocker(params RedisLockerParams) (*RedisLocker, error) {
	if params.Store == nil {
		return nil, errors.New("redis store required for locker")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	wait := params.Wait
	if wait <= 0 {
		wait = defaultWait
	}
	poll := params.Poll
	if poll <= 0 {
		poll = defaultPollEvery
	}
	return &RedisLocker{
		store:   params.Store,
		ttl:     ttl,
		wait:    wait,
		poll:    poll,
		metrics: params.Metrics,
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	redisKey := l.store.LockKey(key)
	owner := uuid.NewString()
	started := time.Now()
	deadline := started.Add(l.wait)

	for {
		ok, err := l.store.SetNX(ctx, redisKey, owner, l.ttl)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire redis lock")
		}
		if ok {
			l.observe(time.Since(started), true)
			return once(func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), releaseCallTimeout)
				defer cancel()
				_, _ = l.store.ReleaseLock(releaseCtx, redisKey, owner)
			}), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.observe(time.Since(started), false)
			return nil, busy(key, l.wait)
		}
		sleep := l.poll
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.observe(time.Since(started), false)
			return nil, pkgerrors.Wrap(pkgerrors.CodeBusy, ctx.Err(), "lock wait canceled").
				WithDetails(map[string]any{"lock_key": key})
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) observe(wait time.Duration, acquired bool) {
	if l.metrics != nil {
		l.metrics.ObserveLockWait(backendRedis, wait, acquired)
	}
}

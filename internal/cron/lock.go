package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/config"
)

// Lock keeps overlapping cron-worker replicas from sweeping the same
// loan records in the same cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	LockKey(scope string) string
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
}

// CycleLock is held for one sweep cycle per environment.
type CycleLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	owner string
}

// CycleLockScope names the lock shared by every cron-worker in env.
func CycleLockScope(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}

// NewCycleLock builds the cycle lock from the cron settings. A missing TTL
// falls back to the cycle interval so a crashed worker never blocks more
// than one tick.
func NewCycleLock(store lockStore, cfg config.CronConfig, env string) (*CycleLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for cycle lock")
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = cfg.Interval
	}
	if ttl <= 0 {
		return nil, errors.New("cron lock ttl or interval must be positive")
	}
	return &CycleLock{store: store, key: store.LockKey(CycleLockScope(env)), ttl: ttl}, nil
}

// Key returns the namespaced redis key.
func (l *CycleLock) Key() string { return l.key }

// TTL returns how long an abandoned cycle keeps the lock.
func (l *CycleLock) TTL() time.Duration { return l.ttl }

func (l *CycleLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire cycle lock %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release is a no-op once the TTL handed the lock to another worker.
func (l *CycleLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	if _, err := l.store.ReleaseLock(ctx, l.key, owner); err != nil {
		return fmt.Errorf("release cycle lock %s: %w", l.key, err)
	}
	return nil
}

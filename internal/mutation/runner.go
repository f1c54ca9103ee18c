// Package mutation runs circulation writes under per-entity locks inside a
// single transaction, retrying on contention.
package mutation

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/locks"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/retry"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type operationObserver interface {
	ObserveOperation(operation string, started time.Time, err error)
}

// Params bundles the dependencies required to build a Runner.
type Params struct {
	Tx       txRunner
	Locker   locks.Locker
	Retry    retry.Policy
	LockWait time.Duration
	Metrics  operationObserver
}

// Runner serializes writes on the entities named by their lock keys.
type Runner struct {
	tx       txRunner
	locker   locks.Locker
	policy   retry.Policy
	lockWait time.Duration
	metrics  operationObserver
}

// NewRunner validates the params and returns a Runner.
func NewRunner(params Params) (*Runner, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	return &Runner{
		tx:       params.Tx,
		locker:   params.Locker,
		policy:   params.Retry,
		lockWait: params.LockWait,
		metrics:  params.Metrics,
	}, nil
}

// Run acquires every key, opens one transaction and calls fn. Each retry
// attempt releases the locks and starts a fresh transaction, so fn must not
// keep state between calls other than its final result.
func (r *Runner) Run(ctx context.Context, operation string, keys []string, fn func(tx *gorm.DB) error) error {
	started := time.Now()
	err := retry.OnContention(ctx, r.policy, func(ctx context.Context) error {
		release, err := locks.AcquireAll(ctx, r.locker, keys...)
		if err != nil {
			return err
		}
		defer release()

		err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := db.SetLockTimeout(tx, r.lockWait); err != nil {
				return err
			}
			return fn(tx)
		})
		return db.WrapError(err, operation)
	})
	if r.metrics != nil {
		r.metrics.ObserveOperation(operation, started, err)
	}
	return err
}

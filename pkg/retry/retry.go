package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"

	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

const (
	defaultBaseDelay = 25 * time.Millisecond
	defaultMaxDelay  = time.Second
)

// Policy bounds how long contended mutations are retried.
type Policy struct {
	MaxRetries    uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

func (p Policy) backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	b := goretry.NewExponential(base)
	b = goretry.WithCappedDuration(maxDelay, b)
	if p.JitterPercent > 0 {
		b = goretry.WithJitterPercent(p.JitterPercent, b)
	}
	return goretry.WithMaxRetries(p.MaxRetries, b)
}

// OnContention runs fn and retries it while it fails with BUSY or
// VERSION_CONFLICT. Any other error, or the last contention error once
// retries are exhausted, is returned as is.
func OnContention(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if pkgerrors.IsContention(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}

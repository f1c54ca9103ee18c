package locks

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

const defaultWait = 2 * time.Second

// Release frees a held lock. Calling it more than once is a no-op.
type Release func()

// Locker provides per-entity mutual exclusion with a bounded wait. A wait
// that runs out fails with pkg/errors.CodeBusy.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

type waitObserver interface {
	ObserveLockWait(backend string, wait time.Duration, acquired bool)
}

func AssetKey(id uuid.UUID) string  { return "asset:" + id.String() }
func LoanKey(id uuid.UUID) string   { return "loan:" + id.String() }
func PatronKey(id uuid.UUID) string { return "patron:" + id.String() }

// AcquireAll takes every key in sorted order so that callers locking
// overlapping sets cannot deadlock. On failure nothing stays held.
func AcquireAll(ctx context.Context, locker Locker, keys ...string) (Release, error) {
	ordered := dedupSorted(keys)
	held := make([]Release, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, key := range ordered {
		release, err := locker.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, release)
	}
	return once(releaseAll), nil
}

func dedupSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func once(fn func()) Release {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		fn()
	}
}

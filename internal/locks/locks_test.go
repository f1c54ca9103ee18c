package locks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

func TestLocalLockerTimesOutIntoBusy(t *testing.T) {
	locker := NewLocalLocker(20*time.Millisecond, nil)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "asset:1")
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(ctx, "asset:1")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeBusy))
}

func TestLocalLockerReleaseUnblocksWaiter(t *testing.T) {
	locker := NewLocalLocker(time.Second, nil)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "loan:1")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		r, err := locker.Acquire(ctx, "loan:1")
		if err == nil {
			r()
		}
		acquired <- err
	}()

	time.Sleep(10 * time.Millisecond)
	release()
	release()

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Empty(t, locker.slots, "slots should be reclaimed after release")
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker(20*time.Millisecond, nil)
	ctx := context.Background()

	a, err := locker.Acquire(ctx, "asset:a")
	require.NoError(t, err)
	defer a()
	b, err := locker.Acquire(ctx, "asset:b")
	require.NoError(t, err)
	b()
}

func TestLocalLockerMutualExclusion(t *testing.T) {
	locker := NewLocalLocker(2*time.Second, nil)
	ctx := context.Background()

	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "loan:shared")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if n := atomic.AddInt32(&inside, 1); n != 1 {
				t.Errorf("expected exclusive holder, got %d", n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
}

func TestAcquireAllReleasesOnFailure(t *testing.T) {
	locker := NewLocalLocker(20*time.Millisecond, nil)
	ctx := context.Background()

	blocker, err := locker.Acquire(ctx, "loan:2")
	require.NoError(t, err)

	_, err = AcquireAll(ctx, locker, "loan:2", "asset:1")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeBusy))

	// asset:1 sorts first and must have been released again.
	release, err := locker.Acquire(ctx, "asset:1")
	require.NoError(t, err)
	release()
	blocker()
}

func TestAcquireAllDedupsKeys(t *testing.T) {
	locker := NewLocalLocker(20*time.Millisecond, nil)
	release, err := AcquireAll(context.Background(), locker, "asset:1", "asset:1", "")
	require.NoError(t, err)
	release()
	assert.Equal(t, []string{"a", "b"}, dedupSorted([]string{"b", "a", "b"}))
}

func TestRedisLockerAcquireAndRelease(t *testing.T) {
	store := newFakeLockStore()
	locker, err := NewRedisLocker(RedisLockerParams{Store: store, Wait: 30 * time.Millisecond, Poll: 5 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "asset:9")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "asset:9")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeBusy))

	release()
	assert.Empty(t, store.values())

	again, err := locker.Acquire(ctx, "asset:9")
	require.NoError(t, err)
	again()
}

func TestRedisLockerDependencyError(t *testing.T) {
	store := newFakeLockStore()
	store.failSetNX = true
	locker, err := NewRedisLocker(RedisLockerParams{Store: store})
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), "asset:9")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
}

type fakeLockStore struct {
	mu        sync.Mutex
	data      map[string]string
	failSetNX bool
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{data: map[string]string{}}
}

func (f *fakeLockStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetNX {
		return false, fmt.Errorf("connection refused")
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeLockStore) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[key] != owner {
		return false, nil
	}
	delete(f.data, key)
	return true, nil
}

func (f *fakeLockStore) LockKey(scope string) string {
	return "lib:lock:" + scope
}

func (f *fakeLockStore) values() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out
}

package locks

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

const backendLocal = "local"

// LocalLocker serializes holders of the same key inside one process.
type LocalLocker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	wait    time.Duration
	metrics waitObserver
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(wait time.Duration, metrics waitObserver) *LocalLocker {
	if wait <= 0 {
		wait = defaultWait
	}
	return &LocalLocker{
		slots:   make(map[string]*slot),
		wait:    wait,
		metrics: metrics,
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	s := l.ref(key)
	started := time.Now()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		l.observe(time.Since(started), true)
		var releaseOnce sync.Once
		return func() {
			releaseOnce.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-timer.C:
		l.unref(key, s)
		l.observe(time.Since(started), false)
		return nil, busy(key, l.wait)
	case <-ctx.Done():
		l.unref(key, s)
		l.observe(time.Since(started), false)
		return nil, pkgerrors.Wrap(pkgerrors.CodeBusy, ctx.Err(), "lock wait canceled").
			WithDetails(map[string]any{"lock_key": key})
	}
}

func (l *LocalLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) observe(wait time.Duration, acquired bool) {
	if l.metrics != nil {
		l.metrics.ObserveLockWait(backendLocal, wait, acquired)
	}
}

func busy(key string, wait time.Duration) error {
	return pkgerrors.New(pkgerrors.CodeBusy, "lock wait exceeded").
		WithDetails(map[string]any{
			"lock_key": key,
			"wait_ms":  wait.Milliseconds(),
		})
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sync/semaphore"
)

// ResolveLock is used to limit the number of concurrent resource
// resolutions against the orchestrator, overall and per resource type.
type ResolveLock interface {
	// Acquire grabs the lock for a given resource type so long as the per
	// type limit is not exceeded and total across all types does not exceed
	// the global limit.
	Acquire(ctx context.Context, kind string) error

	// Release releases the lock for the given resource type.
	Release(kind string)
}

type resolveLimiter struct {
	globalLock *semaphore.Weighted

	mu        sync.Mutex
	typeLimit int64
	typeLocks map[string]*typeLock
}

// NewResolveLimiter creates a new resolve limiter. A zero limit means
// unlimited.
func NewResolveLimiter(globalLimit, typeLimit int) (ResolveLock, error) {
	if globalLimit < 0 || typeLimit < 0 {
		return nil, errors.NotValidf("negative resolve limits")
	}
	limiter := &resolveLimiter{
		typeLimit: int64(typeLimit),
		typeLocks: make(map[string]*typeLock),
	}
	if globalLimit > 0 {
		limiter.globalLock = semaphore.NewWeighted(int64(globalLimit))
	}
	return limiter, nil
}

// Acquire is part of the ResolveLock interface.
func (r *resolveLimiter) Acquire(ctx context.Context, kind string) error {
	if r.globalLock != nil {
		start := time.Now()
		if err := r.globalLock.Acquire(ctx, 1); err != nil {
			return errors.Trace(err)
		}
		logger.Tracef("acquired global resolve lock for %q, took %v", kind, time.Since(start))
	}
	if r.typeLimit <= 0 {
		return nil
	}

	r.mu.Lock()
	lock, ok := r.typeLocks[kind]
	if !ok {
		lock = &typeLock{lock: semaphore.NewWeighted(r.typeLimit)}
		r.typeLocks[kind] = lock
	}
	lock.add(1)
	r.mu.Unlock()

	if err := lock.lock.Acquire(ctx, 1); err != nil {
		r.mu.Lock()
		r.dropIfIdle(kind, lock)
		r.mu.Unlock()
		if r.globalLock != nil {
			r.globalLock.Release(1)
		}
		return errors.Trace(err)
	}
	return nil
}

// Release is part of the ResolveLock interface.
func (r *resolveLimiter) Release(kind string) {
	if r.globalLock != nil {
		r.globalLock.Release(1)
	}
	if r.typeLimit <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.typeLocks[kind]
	if !ok {
		return
	}
	lock.lock.Release(1)
	r.dropIfIdle(kind, lock)
}

// dropIfIdle must be called with r.mu held.
func (r *resolveLimiter) dropIfIdle(kind string, lock *typeLock) {
	if lock.add(-1) == 0 {
		delete(r.typeLocks, kind)
	}
}

type typeLock struct {
	lock *semaphore.Weighted
	// users counts holders and waiters.
	users int64
}

func (t *typeLock) add(n int64) int64 {
	return atomic.AddInt64(&t.users, n)
}

// noopResolveLock is used when no limits are configured.
type noopResolveLock struct{}

// Acquire is part of the ResolveLock interface.
func (noopResolveLock) Acquire(context.Context, string) error { return nil }

// Release is part of the ResolveLock interface.
func (noopResolveLock) Release(string) {}

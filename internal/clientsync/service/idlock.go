package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLockTimeout reports that another attempt held a client's lock for the
// whole acquire window. Recoverable; callers retry with backoff.
var ErrLockTimeout = errors.New("service: lock timeout")

// DefaultLockTimeout bounds how long an attempt waits for a client's lock.
const DefaultLockTimeout = 10 * time.Second

// IDLocker serializes sync attempts per client id. Attempts for different
// ids run concurrently; attempts for the same id queue on a shared entry
// that is dropped again once the last waiter leaves.
type IDLocker struct {
	Timeout time.Duration

	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	// Buffered to one token. Whoever holds the token holds the lock.
	ch   chan struct{}
	refs int
}

// NewIDLocker returns a locker with the given acquire timeout. Zero or
// negative means DefaultLockTimeout.
func NewIDLocker(timeout time.Duration) *IDLocker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &IDLocker{
		Timeout: timeout,
		locks:   make(map[string]*idLock),
	}
}

// Acquire blocks until the lock for id is held, the timeout elapses, or ctx
// is cancelled. On success the caller must call the returned release after
// its terminal commit or rollback; release is idempotent.
func (l *IDLocker) Acquire(ctx context.Context, id string) (release func(), err error) {
	entry := l.checkout(id)

	timer := time.NewTimer(l.timeout())
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.ch
				l.checkin(id)
			})
		}, nil
	case <-timer.C:
		l.checkin(id)
		return nil, fmt.Errorf("%w: client %s busy for %s", ErrLockTimeout, id, l.timeout())
	case <-ctx.Done():
		l.checkin(id)
		return nil, ctx.Err()
	}
}

func (l *IDLocker) checkout(id string) *idLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locks == nil {
		l.locks = make(map[string]*idLock)
	}
	entry, ok := l.locks[id]
	if !ok {
		entry = &idLock{ch: make(chan struct{}, 1)}
		l.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (l *IDLocker) checkin(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.locks[id]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
}

// timeout returns the effective acquire window.
func (l *IDLocker) timeout() time.Duration {
	if l.Timeout <= 0 {
		return DefaultLockTimeout
	}
	return l.Timeout
}

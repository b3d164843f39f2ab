package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a session lock times out.
var ErrLockTimeout = errors.New("sessions: lock acquisition timeout")

// Locker serialises turns per session.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (release func(), err error)
}

// SessionLocker is an in-process Locker. At most one turn runs per session;
// later turns wait up to the configured timeout.
type SessionLocker struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	timeout time.Duration
}

// NewSessionLocker creates a locker with the given acquire timeout.
func NewSessionLocker(timeout time.Duration) *SessionLocker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SessionLocker{
		locks:   map[string]chan struct{}{},
		timeout: timeout,
	}
}

// Lock acquires the session's lock, waiting until the context is cancelled
// or the timeout elapses. The returned release function is idempotent.
func (l *SessionLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[sessionID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[sessionID] = ch
	}
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrLockTimeout
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-ch })
	}
	return release, nil
}

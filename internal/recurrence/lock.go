package recurrence

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker serializes work per key. Generation and rule-change cleanup for one
// template both take TemplateLockKey(template.ID).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// TemplateLockKey returns the lock key guarding a template's instance set.
func TemplateLockKey(templateID uuid.UUID) string {
	return "recurrence:template:" + templateID.String()
}

// LocalLocker is an in-process Locker, used when no Redis is configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ll, ok := l.locks[key]
	if !ok {
		ll = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = ll
	}
	ll.refs++
	l.mu.Unlock()

	select {
	case ll.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, ll, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, ll, true) })
	}, nil
}

func (l *LocalLocker) release(key string, ll *localLock, held bool) {
	if held {
		<-ll.ch
	}
	l.mu.Lock()
	ll.refs--
	if ll.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

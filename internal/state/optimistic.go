package state

import "sync"

// WithOptimisticUpdate applies mutate(current) through write immediately,
// then runs persist. When persist fails the pre-mutation value is written
// back and the persist error is returned. mutate must build a new value
// rather than modify current in place.
func WithOptimisticUpdate[S any](current S, write func(S), mutate func(S) S, persist func() error) error {
	snapshot := current
	write(mutate(current))
	if err := persist(); err != nil {
		write(snapshot)
		return err
	}
	return nil
}

// Locks hands out one mutex per key, e.g. per section id. An entry lives
// only while someone holds or waits for it.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &keyLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len reports how many keys are currently held or waited on.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

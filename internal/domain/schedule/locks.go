package schedule

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mentora/engine/internal/shared/calendar"
)

// DateLocks serializes writers per calendar date. Regeneration takes a
// whole range with TryLock and gives up on contention; recovery and
// rollover wait with Lock. Both acquire in ascending date order.
type DateLocks struct {
	mu    sync.Mutex
	locks map[calendar.Date]*dateLock
}

// dateLock is one date's semaphore. refs counts holders and waiters; an
// entry is only forgotten at zero.
type dateLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewDateLocks creates an empty lock table.
func NewDateLocks() *DateLocks {
	return &DateLocks{locks: make(map[calendar.Date]*dateLock)}
}

func (l *DateLocks) ref(d calendar.Date) *dateLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[d]
	if !ok {
		e = &dateLock{sem: semaphore.NewWeighted(1)}
		l.locks[d] = e
	}
	e.refs++
	return e
}

func (l *DateLocks) unref(e *dateLock) {
	l.mu.Lock()
	e.refs--
	l.mu.Unlock()
}

func (l *DateLocks) releaser(held []*dateLock) func() {
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].sem.Release(1)
			l.unref(held[i])
		}
	}
}

func ordered(dates []calendar.Date) []calendar.Date {
	out := append([]calendar.Date(nil), dates...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	uniq := out[:0]
	for i, d := range out {
		if i == 0 || d != out[i-1] {
			uniq = append(uniq, d)
		}
	}
	return uniq
}

// TryLock acquires every date or none. It returns ErrRegenerationInProgress
// when any date is held.
func (l *DateLocks) TryLock(dates ...calendar.Date) (func(), error) {
	var held []*dateLock
	for _, d := range ordered(dates) {
		e := l.ref(d)
		if !e.sem.TryAcquire(1) {
			l.unref(e)
			l.releaser(held)()
			return nil, ErrRegenerationInProgress
		}
		held = append(held, e)
	}
	return l.releaser(held), nil
}

// Lock waits for every date, honouring ctx.
func (l *DateLocks) Lock(ctx context.Context, dates ...calendar.Date) (func(), error) {
	var held []*dateLock
	for _, d := range ordered(dates) {
		e := l.ref(d)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			l.unref(e)
			l.releaser(held)()
			return nil, err
		}
		held = append(held, e)
	}
	return l.releaser(held), nil
}

// Prune forgets locks for dates before cutoff that nobody holds or waits
// on.
func (l *DateLocks) Prune(cutoff calendar.Date) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for d, e := range l.locks {
		if d.Before(cutoff) && e.refs == 0 {
			delete(l.locks, d)
		}
	}
}

// size reports how many dates have a lock entry.
func (l *DateLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

package conflict

import (
	"sort"
	"sync"

	"github.com/zulandar/visitline/internal/wallclock"
)

// Locker serializes check-then-write sequences per agent and date within
// one process. Keys are acquired in sorted order so callers locking several
// agents at once cannot deadlock each other.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Key names the lock for one agent on one date.
func Key(agentID string, date wallclock.Date) string {
	return agentID + "@" + date.String()
}

// Lock acquires every key and returns the function that releases them.
// A nil Locker locks nothing.
func (l *Locker) Lock(keys ...string) (unlock func()) {
	if l == nil || len(keys) == 0 {
		return func() {}
	}
	sorted := dedupe(keys)
	held := make([]*keyLock, 0, len(sorted))
	for _, k := range sorted {
		l.mu.Lock()
		kl, ok := l.locks[k]
		if !ok {
			kl = &keyLock{}
			l.locks[k] = kl
		}
		kl.refs++
		l.mu.Unlock()

		kl.mu.Lock()
		held = append(held, kl)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, sorted[i])
			}
			l.mu.Unlock()
		}
	}
}

func dedupe(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i == 0 || k != out[n-1] {
			out[n] = k
			n++
		}
	}
	return out[:n]
}

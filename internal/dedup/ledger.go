// Package dedup provides the process-wide claim ledger that keeps concurrent
// workers from fetching or persisting the same item twice.
package dedup

import "sync"

// Ledger is a set of claimed identity keys guarded by a single mutex.
// The zero value is not usable; call New.
type Ledger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// Claim records key and returns true if it was unseen, false otherwise.
// Empty keys are never claimable.
func (l *Ledger) Claim(key string) bool {
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false
	}
	l.seen[key] = struct{}{}
	return true
}

// Len returns the number of claimed keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Package sameline implements the "sameline" reentrant mutual-exclusion
// lock: owner id and recursion counter are fused into a single atomic
// word, so the reentrant fast path is one load and one store with no
// read-modify-write and no separate cache line for the counter. The
// trade-off is that contenders spinning on the word share a cache line
// with the owner's own reentrant traffic.
//
// Example usage:
//
//	lock := sameline.New(backoff.Exponential)
//	lock.Lock()
//	// ... critical section ...
//	lock.Unlock()
package sameline

import (
	"fmt"
	"sync/atomic"

	"github.com/ahrav/retlock/backoff"
	"github.com/ahrav/retlock/retid"
)

// Lock is a reentrant mutual-exclusion lock whose entire state — owner id
// and recursion count — lives in one atomic uint64.
type Lock struct {
	_       noCopy
	word    atomic.Uint64 // high 32 bits: owner id: low 32 bits: recursion count
	backoff backoff.Policy
}

// New constructs a free, uncontended Lock using the given back-off policy
// while contending.
func New(kind backoff.Kind) *Lock {
	return &Lock{backoff: backoff.New(kind)}
}

func pack(owner, counter uint32) uint64 { return uint64(owner)<<32 | uint64(counter) }

func unpack(word uint64) (owner, counter uint32) { return uint32(word >> 32), uint32(word) }

// TryLock acquires the lock without blocking. It returns true if the lock
// is now held by the calling goroutine, including the reentrant case.
func (l *Lock) TryLock() bool {
	self := retid.Get()
	current := l.word.Load()
	owner, counter := unpack(current)

	if owner == self {
		l.word.Store(pack(self, counter+1))
		return true
	}
	if counter != 0 {
		return false
	}
	return l.word.CompareAndSwap(current, pack(self, 1))
}

// Lock acquires the lock, blocking via the configured back-off policy
// until it is held by the calling goroutine. A goroutine that already
// holds the lock returns immediately after bumping the recursion count.
func (l *Lock) Lock() {
	self := retid.Get()
	for attempt := 0; ; attempt++ {
		current := l.word.Load()
		owner, counter := unpack(current)

		if owner == self {
			l.word.Store(pack(self, counter+1))
			return
		}
		if counter == 0 && l.word.CompareAndSwap(current, pack(self, 1)) {
			return
		}
		l.backoff.Wait(attempt, counter)
	}
}

// Unlock decrements the recursion count, releasing the lock once it
// reaches zero. Panics if the calling goroutine does not currently hold
// the lock.
func (l *Lock) Unlock() {
	self := retid.Get()
	current := l.word.Load()
	owner, counter := unpack(current)
	if owner != self || counter == 0 {
		panic(fmt.Sprintf("sameline: Unlock called by goroutine %d, which does not hold the lock (owner=%d, count=%d)", self, owner, counter))
	}

	if counter == 1 {
		l.word.Store(0)
		return
	}
	l.word.Store(pack(self, counter-1))
}

// noCopy prevents a Lock from being copied after first use. See
// sync.noCopy in the standard library for the idiom this mirrors.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

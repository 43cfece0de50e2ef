// Package noopt implements the unoptimized baseline reentrant lock: the
// same fused {owner_id, counter} atomic word as sameline, but unlock
// always recomputes the full desired word from the current one rather
// than routing through a thread-cached counter, and the back-off
// discipline is a fixed yield-then-sleep cadence rather than a pluggable
// policy.
//
// It exists as a correctness oracle: its logic is simple enough to verify
// by inspection, and retlock's cross-variant tests run it through the same
// scenarios, with the same expected results, as the other three variants.
// It is not the recommended default
// for production use — sameline, padded, and queue all dominate it on at
// least one axis — but it is exposed publicly as its own selectable
// variant for callers who want the simplest possible reference
// implementation to diff behavior against.
package noopt

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ahrav/retlock/retid"
)

// Lock is the unoptimized reentrant mutual-exclusion lock.
type Lock struct {
	_    noCopy
	word atomic.Uint64 // high 32 bits: owner id, low 32 bits: recursion count
}

// New constructs a free, uncontended Lock.
func New() *Lock { return &Lock{} }

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

// Lock acquires the lock, blocking until it is held by the calling
// goroutine. It yields every 10th failed attempt and sleeps every
// 100th.
func (l *Lock) Lock() {
	for i := 0; !l.TryLock(); i++ {
		if i%10 == 0 {
			runtime.Gosched()
		}
		if i%100 == 0 {
			time.Sleep(time.Duration(1+i/100) * time.Nanosecond)
		}
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
		panic(fmt.Sprintf("noopt: Unlock called by goroutine %d, which does not hold the lock (owner=%d, count=%d)", self, owner, counter))
	}

	desired := counter - 1
	newOwner := self
	if desired == 0 {
		newOwner = 0
	}
	l.word.Store(pack(newOwner, desired))
}

// noCopy prevents a Lock from being copied after first use.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

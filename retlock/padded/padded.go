// Package padded implements the "padded" reentrant mutual-exclusion lock:
// the atomic state word (owner id, lock bit, adaptive metric) lives on its
// own cache line, and the reentrancy counter is a plain, non-atomic field
// on a separate cache line, logically owned by whichever goroutine
// currently holds the lock. Contenders spinning on the atomic word never
// invalidate the owner's counter cache line.
//
// Example usage:
//
//	lock := padded.New(backoff.Adaptive)
//	lock.Lock()
//	// ... critical section ...
//	lock.Unlock()
package padded

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/ahrav/retlock/backoff"
	"github.com/ahrav/retlock/retid"
)

const lockedBit = 1

// Lock is a reentrant mutual-exclusion lock that isolates the hot
// reentrant counter from the atomic word contenders spin on.
type Lock struct {
	_ noCopy

	word atomic.Uint64 // bits [63:32] owner id, bits [31:1] metric, bit 0 lock bit
	_    cpu.CacheLinePad

	// counter and maxSeen are only ever touched by the current owner; no
	// atomics are needed because no other goroutine may write to them
	// while the lock is held, and only the owner reads them while
	// deciding whether to release.
	counter uint64
	maxSeen uint64
	_       cpu.CacheLinePad

	backoff backoff.Policy
}

// New constructs a free, uncontended Lock using the given back-off policy
// while contending.
func New(kind backoff.Kind) *Lock {
	return &Lock{backoff: backoff.New(kind)}
}

const metricMask uint32 = 0x7fffffff

func packWord(owner uint32, locked bool, metric uint32) uint64 {
	var bit uint64
	if locked {
		bit = lockedBit
	}
	return uint64(owner)<<32 | uint64(metric&metricMask)<<1 | bit
}

func unpackWord(word uint64) (owner uint32, locked bool, metric uint32) {
	owner = uint32(word >> 32)
	locked = word&lockedBit != 0
	metric = uint32((word >> 1) & 0x7fffffff)
	return
}

// TryLock acquires the lock without blocking. It returns true if the lock
// is now held by the calling goroutine, including the reentrant case.
func (l *Lock) TryLock() bool {
	self := retid.Get()
	current := l.word.Load()
	owner, locked, metric := unpackWord(current)

	if locked && owner == self {
		l.counter++
		if l.counter > l.maxSeen {
			l.maxSeen = l.counter
		}
		return true
	}
	if locked {
		return false
	}

	if !l.word.CompareAndSwap(current, packWord(self, true, metric)) {
		return false
	}
	l.counter = 1
	l.maxSeen = 1
	return true
}

// Lock acquires the lock, blocking via the configured back-off policy
// until it is held by the calling goroutine. A goroutine that already
// holds the lock returns immediately after bumping the recursion count.
func (l *Lock) Lock() {
	self := retid.Get()
	for attempt := 0; ; attempt++ {
		current := l.word.Load()
		owner, locked, metric := unpackWord(current)

		if locked && owner == self {
			l.counter++
			if l.counter > l.maxSeen {
				l.maxSeen = l.counter
			}
			return
		}
		if !locked && l.word.CompareAndSwap(current, packWord(self, true, metric)) {
			l.counter = 1
			l.maxSeen = 1
			return
		}
		l.backoff.Wait(attempt, metric)
	}
}

// Unlock decrements the recursion count, releasing the lock once it
// reaches zero. Panics if the calling goroutine does not currently hold
// the lock.
func (l *Lock) Unlock() {
	self := retid.Get()
	current := l.word.Load()
	owner, locked, metric := unpackWord(current)
	if !locked || owner != self {
		panic(fmt.Sprintf("padded: Unlock called by goroutine %d, which does not hold the lock (owner=%d, locked=%v)", self, owner, locked))
	}

	l.counter--
	if l.counter > 0 {
		return
	}

	newMetric := metric + uint32(l.maxSeen/2)
	l.maxSeen = 0
	l.word.Store(packWord(0, false, newMetric))
}

// noCopy prevents a Lock from being copied after first use.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Package retlock provides a family of reentrant (recursive) mutual-
// exclusion locks engineered to outperform a conventional recursive mutex
// under contention and under reentrant (same-goroutine) re-acquisition.
//
// A reentrant lock allows the goroutine that already holds it to acquire
// it again any number of times without self-deadlock; it is released only
// once the holder performs a matching number of releases. Four variants
// are available, trading off implementation strategy for performance
// characteristics under different contention patterns — see the
// sameline, padded, queue, and noopt sub-packages for the mechanism each
// one uses. All four present identical externally observable semantics:
// mutual exclusion, reentrancy, and an acquire/release memory-ordering
// guarantee between successive holders.
//
// Example usage:
//
//	l := retlock.New(retlock.Padded, retlock.Adaptive)
//	l.Lock()
//	defer l.Unlock()
//	// ... critical section ...
package retlock

import (
	"fmt"

	"github.com/ahrav/retlock/backoff"
	"github.com/ahrav/retlock/retlock/noopt"
	"github.com/ahrav/retlock/retlock/padded"
	"github.com/ahrav/retlock/retlock/queue"
	"github.com/ahrav/retlock/retlock/sameline"
)

// Variant selects which lock implementation New constructs.
type Variant int

const (
	// Sameline fuses owner id and recursion count into one atomic word.
	Sameline Variant = iota
	// Padded isolates the atomic word and the recursion counter onto
	// separate cache lines.
	Padded
	// Queue is the MCS-style FIFO queue lock, where each waiter spins on
	// its own node.
	Queue
	// NoOpt is the unoptimized baseline, useful as a correctness oracle.
	NoOpt
)

// BackoffKind selects how a contender waits between failed acquisition
// attempts. It has no effect on NoOpt, which always uses a fixed
// yield-then-sleep cadence.
type BackoffKind = backoff.Kind

const (
	NoSleep     = backoff.NoSleep
	Yield       = backoff.Yield
	Exponential = backoff.Exponential
	Adaptive    = backoff.Adaptive
)

// Locker is the contract every retlock variant satisfies: Lock, TryLock,
// and Unlock, with reentrant semantics. It is non-copyable and non-
// movable by convention — every concrete implementation embeds a noCopy
// marker that go vet's copylocks check flags on copy.
type Locker interface {
	// Lock acquires the lock, blocking until it is held by the calling
	// goroutine. If the caller already holds the lock, it returns
	// immediately after incrementing the reentrancy depth. Never fails.
	Lock()

	// TryLock acquires the lock without blocking. It returns true if the
	// lock is now held by the calling goroutine, including the reentrant
	// case, and false if another goroutine currently holds it.
	TryLock() bool

	// Unlock decrements the reentrancy depth, releasing the lock once it
	// reaches zero. The caller must currently hold the lock with a
	// positive depth; violating this panics.
	Unlock()
}

// New constructs a free, uncontended lock of the requested Variant. kind
// is ignored for NoOpt.
func New(variant Variant, kind BackoffKind) Locker {
	switch variant {
	case Sameline:
		return sameline.New(kind)
	case Padded:
		return padded.New(kind)
	case Queue:
		return queue.New(kind)
	case NoOpt:
		return noopt.New()
	default:
		panic(fmt.Sprintf("retlock: unknown Variant %d", variant))
	}
}

// Acquire locks l and returns a release function, for the scoped-
// acquisition idiom:
//
//	release := retlock.Acquire(l)
//	defer release()
func Acquire(l Locker) (release func()) {
	l.Lock()
	return l.Unlock
}

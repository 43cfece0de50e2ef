// Package queue implements the MCS-style reentrant mutual-exclusion lock:
// a tail-pointer FIFO of per-goroutine queue nodes, where each waiter
// spins on its own node's flag instead of a shared atomic word. This
// removes the cache-line contention the sameline and padded variants pay
// for under heavy contention, at the cost of FIFO bookkeeping.
//
// Go has no addressable thread-local storage a library can allocate a
// queue node in, so each Lock keeps its own nodes in a map keyed by the
// calling goroutine's retid — scoped per lock instance, so a goroutine
// contending for several independent queue locks gets one node per
// (goroutine, lock) rather than sharing a single node across locks.
//
// Example usage:
//
//	lock := queue.New(backoff.Yield)
//	lock.Lock()
//	// ... critical section ...
//	lock.Unlock()
package queue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/ahrav/retlock/backoff"
	"github.com/ahrav/retlock/retid"
)

// qnode is one goroutine's slot in the wait queue. next and waiting are
// touched across goroutines (a successor publishes itself into its
// predecessor's next, and a predecessor flips its successor's waiting
// flag), so each gets its own cache
// line; counter and metric are touched only by the owning goroutine.
type qnode struct {
	next atomic.Pointer[qnode]
	_    cpu.CacheLinePad

	waiting atomic.Bool
	_       cpu.CacheLinePad

	counter uint32 // reentrancy depth; goroutine-private
	metric  uint32 // adaptive back-off hint; goroutine-private
}

// Lock is a reentrant, FIFO mutual-exclusion lock in which every
// contender spins on its own node rather than a shared word.
type Lock struct {
	_ noCopy

	tail    atomic.Pointer[qnode]
	nodes   sync.Map // uint32 (retid) -> *qnode
	backoff backoff.Policy
}

// New constructs a free, uncontended Lock using the given back-off policy
// while contending.
func New(kind backoff.Kind) *Lock {
	return &Lock{backoff: backoff.New(kind)}
}

func (l *Lock) nodeFor(self uint32) *qnode {
	if v, ok := l.nodes.Load(self); ok {
		return v.(*qnode)
	}
	n := &qnode{metric: 1}
	actual, _ := l.nodes.LoadOrStore(self, n)
	return actual.(*qnode)
}

// TryLock acquires the lock without blocking. It returns true if the lock
// is now held by the calling goroutine, including the reentrant case.
//
// Unlike Lock, TryLock never enqueues: if the tail is not observably nil
// at the moment of the CAS, it simply reports failure rather than
// publishing a node that would need to be torn back out of the queue (see
// this system's design notes on the open question around non-blocking
// acquisition on the queue variant).
func (l *Lock) TryLock() bool {
	self := retid.Get()
	node := l.nodeFor(self)

	if node.counter > 0 {
		node.counter++
		return true
	}

	node.next.Store(nil)
	node.waiting.Store(true)
	if !l.tail.CompareAndSwap(nil, node) {
		return false
	}
	node.waiting.Store(false)
	node.counter = 1
	return true
}

// Lock acquires the lock, blocking via the configured back-off policy
// until it is held by the calling goroutine. A goroutine that already
// holds the lock returns immediately after bumping the recursion count.
func (l *Lock) Lock() {
	self := retid.Get()
	node := l.nodeFor(self)

	if node.counter > 0 {
		node.counter++
		return
	}

	node.next.Store(nil)
	node.waiting.Store(true)
	pred := l.tail.Swap(node)
	if pred == nil {
		node.waiting.Store(false)
		node.counter = 1
		return
	}
	pred.next.Store(node)

	metric := node.metric
	var attempt int
	for node.waiting.Load() {
		l.backoff.Wait(attempt, metric)
		attempt++
	}
	node.metric = metric + uint32(attempt/2)
	node.counter = 1
}

// Unlock decrements the recursion count, releasing the lock once it
// reaches zero and handing it to the next queued waiter, if any. Panics
// if the calling goroutine does not currently hold the lock.
func (l *Lock) Unlock() {
	self := retid.Get()
	node := l.nodeFor(self)
	if node.counter == 0 {
		panic(fmt.Sprintf("queue: Unlock called by goroutine %d, which does not hold the lock", self))
	}

	node.counter--
	if node.counter > 0 {
		return
	}

	next := node.next.Load()
	if next == nil {
		if l.tail.CompareAndSwap(node, nil) {
			return
		}
		// Someone is mid-enqueue behind us: their node will appear in
		// next shortly. Spin until it does, pacing through the back-off
		// policy with a zero metric (this is a narrow, bounded race, not
		// contention for the lock itself).
		var attempt int
		for {
			if next = node.next.Load(); next != nil {
				break
			}
			l.backoff.Wait(attempt, 0)
			attempt++
		}
	}
	next.waiting.Store(false)
}

// noCopy prevents a Lock from being copied after first use.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

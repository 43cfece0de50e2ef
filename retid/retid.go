// Package retid hands every goroutine a stable, small, non-zero integer
// identity, used by the retlock variants to decide whether the calling
// goroutine already owns a lock.
//
// Go has no addressable thread-local storage a library can hook into
// (goroutines migrate across OS threads and are preempted), so the usual
// C/C++ trick of a thread_local counter has no direct equivalent. Instead
// Get reads the runtime's own goroutine id via goid.Get and uses it as a key
// into a process-wide cache that hands out dense ids from an atomic counter
// the first time a given goroutine id is seen. The dense id, not the raw
// goroutine id, is what callers should treat as the owner identity: it is
// guaranteed non-zero and never reassigned to a second live goroutine, which
// the raw runtime id does not promise once a goroutine exits and its id is
// recycled by the runtime.
package retid

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

var (
	counter uint32
	cache   sync.Map // int64 (runtime goroutine id) -> uint32 (dense id)
)

// Get returns the calling goroutine's dense identity, allocating one on
// first use. The zero value is never returned; it is reserved to mean "no
// owner" in the lock state words.
func Get() uint32 {
	gid := goid.Get()
	if v, ok := cache.Load(gid); ok {
		return v.(uint32)
	}

	id := atomic.AddUint32(&counter, 1)
	actual, loaded := cache.LoadOrStore(gid, id)
	if loaded {
		return actual.(uint32)
	}
	return id
}

package noopt_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/ahrav/retlock/retlock/noopt"
)

func tryLockFromOtherGoroutine(l *noopt.Lock) bool {
	done := make(chan bool, 1)
	go func() {
		ok := l.TryLock()
		if ok {
			l.Unlock()
		}
		done <- ok
	}()
	return <-done
}

func TestUncontendedAcquireRelease(t *testing.T) {
	l := noopt.New()
	for i := 0; i < 1000; i++ {
		l.Lock()
		l.Unlock()
	}
}

func TestReentrancy(t *testing.T) {
	l := noopt.New()
	const depth = 5
	for i := 0; i < depth; i++ {
		l.Lock()
	}
	for i := 0; i < depth; i++ {
		assert.False(t, tryLockFromOtherGoroutine(l))
		l.Unlock()
	}
	assert.True(t, tryLockFromOtherGoroutine(l))
}

func TestPartialReleaseDoesNotRelease(t *testing.T) {
	l := noopt.New()
	l.Lock()
	l.Lock()
	l.Unlock()

	assert.False(t, tryLockFromOtherGoroutine(l))
	l.Unlock()
	assert.True(t, tryLockFromOtherGoroutine(l))
}

func TestCounterInvariantUnderConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := noopt.New()
	const goroutines = 4
	const pairs = 10000
	counter := 0

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < pairs; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*pairs, counter)
}

func TestUnlockWithoutLockPanics(t *testing.T) {
	l := noopt.New()
	assert.Panics(t, func() { l.Unlock() })
}

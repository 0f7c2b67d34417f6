package claude

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLocks_SerializesSameKey(t *testing.T) {
	locks := newKeyLocks()

	unlock := locks.Lock("a")
	acquired := make(chan struct{})
	go func() {
		release := locks.Lock("a")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestKeyLocks_IndependentKeys(t *testing.T) {
	locks := newKeyLocks()

	unlock := locks.Lock("a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		locks.Lock("b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyLocks_ReleasesEntries(t *testing.T) {
	locks := newKeyLocks()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("shared")()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, locks.len())
}

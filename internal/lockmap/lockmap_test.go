package lockmap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMap_SameKeyExcludes(t *testing.T) {
	m := New()
	unlock := m.Lock("room")

	acquired := make(chan struct{})
	go func() {
		u := m.Lock("room")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestMap_DifferentKeysIndependent(t *testing.T) {
	m := New()
	unlock := m.Lock("a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := m.Lock("b")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked")
	}
}

func TestMap_EntriesReleased(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := m.Lock("k")
			counter++
			u()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, m.Len())
}

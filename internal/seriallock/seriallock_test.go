package seriallock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/transmem/gostm/internal/desc"
)

func TestAcquireReleaseMutualExclusion(t *testing.T) {
	m := NewManager(nil)
	m.Acquire()
	require.True(t, m.Held())
	require.True(t, m.HeldRelaxed())
	m.Release()
	require.False(t, m.Held())

	done := make(chan struct{})
	m.Acquire()
	go func() {
		m.Acquire()
		close(done)
		m.Release()
	}()

	select {
	case <-done:
		t.Fatal("second Acquire returned while lock was held")
	case <-time.After(20 * time.Millisecond):
	}
	m.Release()
	<-done
}

func TestQuiesceWaitsForInactiveOrAdvanced(t *testing.T) {
	m := NewManager(nil)
	self := desc.New(desc.NewTIDAllocator(), nil)
	other := desc.New(desc.NewTIDAllocator(), nil)
	m.Register(self)
	h := m.Register(other)
	defer m.Unregister(h)

	other.StoreSharedState(5)

	done := make(chan struct{})
	go func() {
		m.Quiesce(10, self)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Quiesce returned before other thread reached priv_time")
	case <-time.After(10 * time.Millisecond):
	}

	other.StoreSharedState(10)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Quiesce did not return after other thread advanced")
	}
}

func TestQuiesceSkipsInactiveThreads(t *testing.T) {
	m := NewManager(nil)
	self := desc.New(desc.NewTIDAllocator(), nil)
	other := desc.New(desc.NewTIDAllocator(), nil)
	m.Register(self)
	m.Register(other)
	// other.sharedState defaults to Inactive

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Quiesce(10, self)
	}()
	wg.Wait()
}

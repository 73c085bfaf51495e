package stm

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// TestScenarioCounterUnderContention is the spec's scenario 1: 8 threads
// each run 1e6 atomic x += 1 on a shared counter initially 0. The
// iteration count is scaled down so the suite stays fast; the shape
// (thread count, shared location, exact expected total) is unchanged.
func TestScenarioCounterUnderContention(t *testing.T) {
	for _, alg := range []Algorithm{NoRec, TSXHybrid} {
		alg := alg
		t.Run(alg.String(), func(t *testing.T) {
			rt := New(WithAlgorithm(alg))
			var x int64
			addr := uintptr(unsafe.Pointer(&x))

			const threads = 8
			const itersPerThread = 5000

			var wg sync.WaitGroup
			wg.Add(threads)
			for i := 0; i < threads; i++ {
				go func() {
					defer wg.Done()
					th := rt.NewThread()
					defer th.Close()
					for j := 0; j < itersPerThread; j++ {
						_ = Atomically(th, func() error {
							v, _ := Load[int64](th, addr)
							Store[int64](th, addr, v+1)
							return nil
						})
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int64(threads*itersPerThread), x)
		})
	}
}

// setUniverse is small enough that the scenario's values (2..7) all fit;
// membership is one bool per value, each its own transactional word.
type setUniverse struct {
	present [8]bool
}

func (s *setUniverse) addr(v int) uintptr { return uintptr(unsafe.Pointer(&s.present[v])) }

func (s *setUniverse) snapshot() []int {
	var out []int
	for v, present := range s.present {
		if present {
			out = append(out, v)
		}
	}
	return out
}

// TestScenarioSetInsertRemove is the spec's scenario 2: initial set
// {2,4,6}; thread A atomically inserts 3 and 5; thread B atomically
// removes 4 and inserts 7. Expected final set: {2,3,5,6,7}, regardless
// of which thread's transaction linearizes first.
func TestScenarioSetInsertRemove(t *testing.T) {
	rt := New(WithAlgorithm(MLLazy))
	set := &setUniverse{}
	for _, v := range []int{2, 4, 6} {
		set.present[v] = true
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		th := rt.NewThread()
		defer th.Close()
		_ = Atomically(th, func() error {
			Store[bool](th, set.addr(3), true)
			Store[bool](th, set.addr(5), true)
			return nil
		})
	}()

	go func() {
		defer wg.Done()
		th := rt.NewThread()
		defer th.Close()
		_ = Atomically(th, func() error {
			Store[bool](th, set.addr(4), false)
			Store[bool](th, set.addr(7), true)
			return nil
		})
	}()

	wg.Wait()

	require.ElementsMatch(t, []int{2, 3, 5, 6, 7}, set.snapshot())
}

// TestScenarioSnapshotExtension is the spec's scenario 5: T reads X at
// t0; concurrently U commits an unrelated write to Y at t1 > t0; T then
// reads Y, observes the advanced orec, extends its snapshot, and
// commits successfully with a view consistent with time >= t1.
func TestScenarioSnapshotExtension(t *testing.T) {
	rt := New(WithAlgorithm(MLLazy))
	var x, y, z int64
	xAddr := uintptr(unsafe.Pointer(&x))
	yAddr := uintptr(unsafe.Pointer(&y))
	zAddr := uintptr(unsafe.Pointer(&z))

	tTh := rt.NewThread()
	uTh := rt.NewThread()

	uDone := make(chan struct{})
	tReady := make(chan struct{})
	tDone := make(chan struct{})

	go func() {
		defer close(tDone)
		tTh.BeginOrRestart()
		_, _ = Load[int64](tTh, xAddr) // snapshot X at t0
		close(tReady)
		<-uDone // let U commit before T reads Y

		v, reason := Load[int64](tTh, yAddr)
		require.Equal(t, NoRestart, reason, "extension must succeed: Y is unrelated to X")
		Store[int64](tTh, zAddr, v)
		require.True(t, tTh.TryCommit())
	}()

	<-tReady
	time.Sleep(time.Millisecond)
	uTh.BeginOrRestart()
	Store[int64](uTh, yAddr, 99)
	require.True(t, uTh.TryCommit())
	close(uDone)
	<-tDone

	tTh2 := rt.NewThread()
	tTh2.BeginOrRestart()
	gotZ, _ := Load[int64](tTh2, zAddr)
	require.True(t, tTh2.TryCommit())
	require.Equal(t, int64(99), gotZ)
}

package condvar

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/transmem/gostm/stm"
)

func TestSignalWakesOldestWaiterFIFO(t *testing.T) {
	rt := stm.New(stm.WithAlgorithm(stm.MLLazy))
	cv := New()

	th1 := rt.NewThread()
	th2 := rt.NewThread()
	signaler := rt.NewThread()
	h1 := NewThreadHandle(th1)
	h2 := NewThreadHandle(th2)

	var wakeOrder []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		th1.BeginOrRestart()
		Wait(cv, h1)
		th1.TryCommit()
		mu.Lock()
		wakeOrder = append(wakeOrder, 1)
		mu.Unlock()
	}()

	time.Sleep(5 * time.Millisecond)

	go func() {
		defer wg.Done()
		th2.BeginOrRestart()
		Wait(cv, h2)
		th2.TryCommit()
		mu.Lock()
		wakeOrder = append(wakeOrder, 2)
		mu.Unlock()
	}()

	time.Sleep(5 * time.Millisecond)

	signaler.BeginOrRestart()
	Signal(cv, signaler)
	signaler.TryCommit()
	signaler.BeginOrRestart()
	Signal(cv, signaler)
	signaler.TryCommit()

	wg.Wait()
	require.Equal(t, []int{1, 2}, wakeOrder)
}

func TestBroadcastWakesEveryWaiter(t *testing.T) {
	rt := stm.New(stm.WithAlgorithm(stm.NoRec))
	cv := New()

	const n = 6
	var wg sync.WaitGroup
	wg.Add(n)
	handles := make([]*ThreadHandle, n)
	for i := 0; i < n; i++ {
		th := rt.NewThread()
		h := NewThreadHandle(th)
		handles[i] = h
		go func(th *stm.Thread, h *ThreadHandle) {
			defer wg.Done()
			th.BeginOrRestart()
			Wait(cv, h)
			th.TryCommit()
		}(th, h)
	}

	time.Sleep(10 * time.Millisecond)

	broadcaster := rt.NewThread()
	broadcaster.BeginOrRestart()
	Broadcast(cv, broadcaster)
	broadcaster.TryCommit()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast failed to wake every waiter")
	}
}

// boundedBuffer is the fixed-capacity ring buffer used by the
// producer/consumer scenario below. Every field is read and written
// exclusively through the stm ABI (by address, the same way condvar's
// own queue pointers are) so put/get compose with the condvar's queue
// manipulation inside one atomic block instead of racing outside it.
type boundedBuffer struct {
	slots    [4]int
	count    int
	head     int
	capacity int
}

func countAddr(b *boundedBuffer) uintptr { return uintptr(unsafe.Pointer(&b.count)) }
func headAddr(b *boundedBuffer) uintptr  { return uintptr(unsafe.Pointer(&b.head)) }
func slotAddr(b *boundedBuffer, i int) uintptr {
	return uintptr(unsafe.Pointer(&b.slots[i]))
}

func TestBoundedBufferProducerConsumerExactSequence(t *testing.T) {
	rt := stm.New(stm.WithAlgorithm(stm.MLLazy))
	buf := &boundedBuffer{capacity: 4}
	notFull := New()
	notEmpty := New()

	producer := rt.NewThread()
	consumer := rt.NewThread()
	prodHandle := NewThreadHandle(producer)
	consHandle := NewThreadHandle(consumer)

	const total = 10
	got := make([]int, 0, total)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			for {
				producer.BeginOrRestart()
				count, _ := stm.Load[int](producer, countAddr(buf))
				if count == buf.capacity {
					Wait(notFull, prodHandle)
					producer.TryCommit()
					continue
				}
				head, _ := stm.Load[int](producer, headAddr(buf))
				idx := (head + count) % buf.capacity
				stm.Store[int](producer, slotAddr(buf, idx), i)
				stm.Store[int](producer, countAddr(buf), count+1)
				Signal(notEmpty, producer)
				if !producer.TryCommit() {
					continue
				}
				break
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			for {
				consumer.BeginOrRestart()
				count, _ := stm.Load[int](consumer, countAddr(buf))
				if count == 0 {
					Wait(notEmpty, consHandle)
					consumer.TryCommit()
					continue
				}
				head, _ := stm.Load[int](consumer, headAddr(buf))
				v, _ := stm.Load[int](consumer, slotAddr(buf, head))
				stm.Store[int](consumer, headAddr(buf), (head+1)%buf.capacity)
				stm.Store[int](consumer, countAddr(buf), count-1)
				Signal(notFull, consumer)
				if !consumer.TryCommit() {
					continue
				}
				got = append(got, v)
				break
			}
		}
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer/consumer deadlocked")
	}

	want := make([]int, total)
	for i := range want {
		want[i] = i
	}
	require.Equal(t, want, got)
}

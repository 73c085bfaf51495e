// Package condvar implements TmCondvar (§4.7): a condition variable
// whose wait queue is itself transactional memory, so enqueue/dequeue
// participate in the same atomicity and isolation guarantees as any
// other shared state, and wake-ups are deferred to on-commit actions
// registered through a stm.Thread (grounded on
// original_source/libs/libtmcondvar/tmcondvar.cc's queue-then-commit
// shape; see SPEC_FULL.md §12).
package condvar

import (
	"sync"
	"unsafe"

	"github.com/transmem/gostm/stm"
)

// Node is one thread's private wait slot: a one-count semaphore (a
// buffered channel standing in for POSIX sem_wait/sem_post) plus the
// doubly-linked queue pointers. A node is in at most one queue at a
// time.
type Node struct {
	sem        chan struct{}
	prev, next uintptr
}

func newNode() *Node {
	return &Node{sem: make(chan struct{}, 1)}
}

func addrOf(n *Node) uintptr       { return uintptr(unsafe.Pointer(n)) }
func nodeAt(addr uintptr) *Node    { return (*Node)(unsafe.Pointer(addr)) }
func prevField(n *Node) uintptr    { return uintptr(unsafe.Pointer(&n.prev)) }
func nextField(n *Node) uintptr    { return uintptr(unsafe.Pointer(&n.next)) }

func post(n *Node)  { n.sem <- struct{}{} }
func await(n *Node) { <-n.sem }

// ThreadHandle binds one application thread's stm.Thread to the private
// node it waits on. Create one per application thread at startup and
// reuse it across every condvar that thread waits on.
type ThreadHandle struct {
	Thread *stm.Thread
	node   *Node
}

// NewThreadHandle allocates a thread's private semaphore node.
func NewThreadHandle(th *stm.Thread) *ThreadHandle {
	return &ThreadHandle{Thread: th, node: newNode()}
}

// CondVar is a doubly-linked queue of waiter nodes, addressed head to
// tail. Its fields are ordinary transactional memory: every mutation
// goes through stm.Load/stm.Store so it composes with the rest of the
// caller's atomic block.
type CondVar struct {
	head, tail uintptr
}

// New returns an empty condition variable.
func New() *CondVar { return &CondVar{} }

func headField(cv *CondVar) uintptr { return uintptr(unsafe.Pointer(&cv.head)) }
func tailField(cv *CondVar) uintptr { return uintptr(unsafe.Pointer(&cv.tail)) }

// enqueue links n onto the tail of cv, transactionally.
func enqueue(th *stm.Thread, cv *CondVar, n *Node) {
	na := addrOf(n)
	tail, _ := stm.Load[uintptr](th, tailField(cv))

	stm.Store[uintptr](th, prevField(n), tail)
	stm.Store[uintptr](th, nextField(n), 0)

	if tail == 0 {
		stm.Store[uintptr](th, headField(cv), na)
	} else {
		stm.Store[uintptr](th, nextField(nodeAt(tail)), na)
	}
	stm.Store[uintptr](th, tailField(cv), na)
}

// dequeueHead unlinks and returns the head node's address, or 0 if cv is
// empty.
func dequeueHead(th *stm.Thread, cv *CondVar) uintptr {
	head, _ := stm.Load[uintptr](th, headField(cv))
	if head == 0 {
		return 0
	}
	next, _ := stm.Load[uintptr](th, nextField(nodeAt(head)))
	stm.Store[uintptr](th, headField(cv), next)
	if next == 0 {
		stm.Store[uintptr](th, tailField(cv), 0)
	} else {
		stm.Store[uintptr](th, prevField(nodeAt(next)), 0)
	}
	return head
}

// dequeueTail unlinks and returns the tail node's address, or 0 if cv is
// empty.
func dequeueTail(th *stm.Thread, cv *CondVar) uintptr {
	tail, _ := stm.Load[uintptr](th, tailField(cv))
	if tail == 0 {
		return 0
	}
	prev, _ := stm.Load[uintptr](th, prevField(nodeAt(tail)))
	stm.Store[uintptr](th, tailField(cv), prev)
	if prev == 0 {
		stm.Store[uintptr](th, headField(cv), 0)
	} else {
		stm.Store[uintptr](th, nextField(nodeAt(prev)), 0)
	}
	return tail
}

// detachAll empties cv and returns the former head's address (0 if it
// was already empty); the returned chain's next pointers remain intact
// for the caller to walk after commit.
func detachAll(th *stm.Thread, cv *CondVar) uintptr {
	head, _ := stm.Load[uintptr](th, headField(cv))
	stm.Store[uintptr](th, headField(cv), 0)
	stm.Store[uintptr](th, tailField(cv), 0)
	return head
}

// Wait enqueues h's node at cv's tail and registers an on-commit action
// that blocks on h's semaphore. Per §4.7/§9, this must be the last
// shared-memory operation in its transaction: nothing else in the same
// atomic block may run after calling Wait.
func Wait(cv *CondVar, h *ThreadHandle) {
	enqueue(h.Thread, cv, h.node)
	h.Thread.RegisterOnCommit(func(arg any) {
		await(arg.(*Node))
	}, h.node)
}

// Signal wakes the oldest waiter on cv, if any.
func Signal(cv *CondVar, th *stm.Thread) {
	na := dequeueHead(th, cv)
	if na == 0 {
		return
	}
	n := nodeAt(na)
	th.RegisterOnCommit(func(arg any) { post(arg.(*Node)) }, n)
}

// SignalBack wakes the most recently enqueued waiter on cv, if any.
func SignalBack(cv *CondVar, th *stm.Thread) {
	na := dequeueTail(th, cv)
	if na == 0 {
		return
	}
	n := nodeAt(na)
	th.RegisterOnCommit(func(arg any) { post(arg.(*Node)) }, n)
}

// Broadcast detaches cv's entire queue and registers an on-commit action
// that posts every detached node's semaphore in FIFO order.
func Broadcast(cv *CondVar, th *stm.Thread) {
	head := detachAll(th, cv)
	if head == 0 {
		return
	}
	th.RegisterOnCommit(func(arg any) {
		na := arg.(uintptr)
		for na != 0 {
			n := nodeAt(na)
			next := n.next
			post(n)
			na = next
		}
	}, head)
}

// --- Lock-mode variants: behave like the pthread-style primitives,
// assuming the caller already holds mu. The queue is mutated directly
// (no stm involved) because mu, not the STM, is what serializes access
// to it here (§4.7: "assume the caller holds mutex on entry").

func enqueueDirect(cv *CondVar, n *Node) {
	na := addrOf(n)
	n.prev = cv.tail
	n.next = 0
	if cv.tail == 0 {
		cv.head = na
	} else {
		nodeAt(cv.tail).next = na
	}
	cv.tail = na
}

func dequeueHeadDirect(cv *CondVar) *Node {
	if cv.head == 0 {
		return nil
	}
	n := nodeAt(cv.head)
	cv.head = n.next
	if cv.head == 0 {
		cv.tail = 0
	} else {
		nodeAt(cv.head).prev = 0
	}
	n.next, n.prev = 0, 0
	return n
}

// WaitLock atomically unlocks mu, sleeps on h's semaphore, then
// reacquires mu before returning.
func WaitLock(cv *CondVar, h *ThreadHandle, mu *sync.Mutex) {
	enqueueDirect(cv, h.node)
	mu.Unlock()
	await(h.node)
	mu.Lock()
}

// SignalLock wakes the oldest waiter on cv. Caller must hold mu.
func SignalLock(cv *CondVar) {
	if n := dequeueHeadDirect(cv); n != nil {
		post(n)
	}
}

// BroadcastLock wakes every waiter on cv in FIFO order. Caller must hold
// mu.
func BroadcastLock(cv *CondVar) {
	head := cv.head
	cv.head, cv.tail = 0, 0
	for head != 0 {
		n := nodeAt(head)
		next := n.next
		n.next, n.prev = 0, 0
		post(n)
		head = next
	}
}

// Package desc defines the per-thread descriptor shared by every
// algorithm: logs, snapshot time, nesting depth, stack-range markers,
// restart counters, and the user-commit-action queue (§3).
package desc

import (
	"go.uber.org/zap"

	"github.com/transmem/gostm/internal/atomics"
	"github.com/transmem/gostm/internal/orec"
	"github.com/transmem/gostm/internal/redolog"
	"github.com/transmem/gostm/internal/vlog"
)

// Inactive is the shared_state sentinel meaning "this thread is not
// currently inside a transaction", distinct from every valid snapshot
// time (which is bounded by orec.TimeMax).
const Inactive = ^uint64(0)

// lockIDCounter hands out the process-unique, nonzero identities ML-Lazy
// stamps into a locked orec's owner bits ("descriptor_pointer >> 1" in
// the original; a plain monotonic counter serves the same purpose here
// without reasoning about Go object addresses under a moving GC).
var lockIDCounter atomics.Word

func nextLockID() uint64 { return atomics.FetchAddAcqRel(&lockIDCounter, 1) + 1 }

// TIDBlockSize is the granularity at which thread descriptors draw
// process-unique transaction identifiers, amortizing contention on the
// shared counter instead of incrementing it once per transaction.
// Grounded on original_source/algs/libitm_tsx/beginend.cc's
// tid_block_size; see SPEC_FULL.md §12.
const TIDBlockSize = 1 << 16

// TIDAllocator hands out blocks of process-unique identifiers to thread
// descriptors. One instance is shared by every thread under a Runtime.
type TIDAllocator struct {
	next atomics.Word
}

// NewTIDAllocator returns an allocator starting at identifier 0.
func NewTIDAllocator() *TIDAllocator { return &TIDAllocator{} }

func (a *TIDAllocator) allocBlock() uint64 {
	return atomics.FetchAddAcqRel(&a.next, TIDBlockSize)
}

// CommitAction is a user-registered (fn, arg) pair run once at successful
// outermost commit, in FIFO order of registration.
type CommitAction struct {
	Fn  func(arg any)
	Arg any
}

// Thread is one application thread's transactional state. Every field is
// owned exclusively by the thread except SharedState, which other
// threads read (never write) for quiescence.
type Thread struct {
	Nesting int

	sharedState atomics.Word

	ReadLog  orec.Log
	WriteLog orec.Log
	RedoLog  *redolog.Tree
	ValueLog vlog.Log

	StackBottom, StackTop uintptr

	// LockID is the identity ML-Lazy's orec array stores in a locked
	// word's owner bits.
	LockID uint64

	// SerialMode is TSX-Hybrid-specific: whether this thread's current
	// (possibly nested) transaction is running under the serial lock
	// rather than as a best-effort hardware transaction. Meaningless
	// under ML-Lazy/NOrec.
	SerialMode bool

	restartCounters [numRestartReasons]atomics.Word

	allocator   *TIDAllocator
	idBase      uint64
	idRemaining uint64

	UserCommitActions []CommitAction
}

// New returns a freshly initialized thread descriptor. lg may be nil.
func New(allocator *TIDAllocator, lg *zap.Logger) *Thread {
	t := &Thread{
		RedoLog:   redolog.New(lg),
		allocator: allocator,
		LockID:    nextLockID(),
	}
	t.sharedState.Store(Inactive)
	return t
}

// LoadSharedState reads this thread's published snapshot time (or
// Inactive) with acquire semantics, for another thread's quiescence scan.
func (t *Thread) LoadSharedState() uint64 { return atomics.LoadAcquire(&t.sharedState) }

// StoreSharedState publishes snapshot (or Inactive) with release
// semantics. Only the owning thread may call this.
func (t *Thread) StoreSharedState(snapshot uint64) { atomics.StoreRelease(&t.sharedState, snapshot) }

// NextID draws the next process-unique transaction identifier from this
// thread's cached block, refilling from the shared allocator when the
// block is exhausted.
func (t *Thread) NextID() uint64 {
	if t.idRemaining == 0 {
		t.idBase = t.allocator.allocBlock()
		t.idRemaining = TIDBlockSize
	}
	id := t.idBase
	t.idBase++
	t.idRemaining--
	return id
}

// RecordRestart increments the counter for reason.
func (t *Thread) RecordRestart(reason RestartReason) {
	atomics.StoreRelaxed(&t.restartCounters[reason], atomics.LoadRelaxed(&t.restartCounters[reason])+1)
}

// RestartCount reports how many times reason has fired on this thread.
func (t *Thread) RestartCount(reason RestartReason) uint64 {
	return atomics.LoadRelaxed(&t.restartCounters[reason])
}

// InStackRange reports whether [addr, addr+n) lies entirely inside this
// thread's current activation record, per §4.1's stack-filtering rule.
func (t *Thread) InStackRange(addr uintptr, n int) bool {
	if t.StackBottom == 0 && t.StackTop == 0 {
		return false
	}
	end := addr + uintptr(n)
	return addr >= t.StackBottom && end <= t.StackTop
}

// SetStackRange installs the [bottom, top] activation-record range the
// stack filter consults. The range is set only by an explicit call
// (stm.Thread.SetStackRange); beginning a transaction does not install
// it, and a thread with no range installed never bypasses the logs.
func (t *Thread) SetStackRange(bottom, top uintptr) {
	t.StackBottom, t.StackTop = bottom, top
}

// AppendCommitAction queues fn(arg) to run once, in FIFO order, after the
// outermost commit.
func (t *Thread) AppendCommitAction(fn func(arg any), arg any) {
	t.UserCommitActions = append(t.UserCommitActions, CommitAction{Fn: fn, Arg: arg})
}

// RunCommitActions runs every queued action in FIFO order and clears the
// queue. Called once, after a successful outermost commit.
func (t *Thread) RunCommitActions() {
	actions := t.UserCommitActions
	t.UserCommitActions = nil
	for _, a := range actions {
		a.Fn(a.Arg)
	}
}

// DiscardCommitActions drops pending actions without running them, per
// §9: "on rollback, pending actions are discarded."
func (t *Thread) DiscardCommitActions() {
	t.UserCommitActions = nil
}

// ResetLogs clears every log, called on both commit and rollback.
func (t *Thread) ResetLogs() {
	t.ReadLog.Reset()
	t.WriteLog.Reset()
	t.RedoLog.Reset()
	t.ValueLog.Reset()
}

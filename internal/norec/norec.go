// Package norec implements NOrec (§4.3): a single process-wide
// sequence-lock STM with value-based read validation and no ownership
// records.
package norec

import (
	"runtime"
	"unsafe"

	"go.uber.org/zap"

	"github.com/transmem/gostm/internal/atomics"
	"github.com/transmem/gostm/internal/desc"
	"github.com/transmem/gostm/internal/memaccess"
	"github.com/transmem/gostm/internal/orec"
)

// Algorithm holds NOrec's one piece of shared state: the sequence lock.
// Even values mean unlocked at that version; odd means a writer is in
// the middle of writeback.
type Algorithm struct {
	seqLock atomics.Word
	lg      *zap.Logger
}

// New returns a NOrec instance with the sequence lock at version 0.
func New(lg *zap.Logger) *Algorithm {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Algorithm{lg: lg}
}

// Begin snapshots the last-known-even sequence-lock version.
func (a *Algorithm) Begin(th *desc.Thread) desc.RestartReason {
	v := atomics.LoadAcquire(&a.seqLock)
	v &^= 1
	if v >= orec.TimeMax {
		return desc.RestartInitMethodGroup
	}
	th.StoreSharedState(v)
	return desc.NoRestart
}

// Reinit resets the sequence lock to 0. Caller must hold the serial
// lock.
func (a *Algorithm) Reinit() {
	atomics.StoreRelease(&a.seqLock, 0)
}

func (a *Algorithm) spinUntilEven() uint64 {
	for {
		v := atomics.LoadAcquire(&a.seqLock)
		if v&1 == 0 {
			return v
		}
		runtime.Gosched()
	}
}

// validate spin-reads the sequence lock until even, compares every
// value-log entry against memory, then re-reads the lock: if it has not
// moved, the captured version is returned as valid; if memory no longer
// matches, validation fails outright; if the lock moved during the
// check, the whole attempt is retried.
func (a *Algorithm) validate(th *desc.Thread) (uint64, bool) {
	for {
		v1 := a.spinUntilEven()
		if !th.ValueLog.Validate() {
			return 0, false
		}
		v2 := atomics.LoadAcquire(&a.seqLock)
		if v1 == v2 {
			return v1, true
		}
	}
}

// Load performs a typed transactional read of addr.
func Load[V any](a *Algorithm, th *desc.Thread, addr uintptr) (V, desc.RestartReason) {
	var zero V
	size := int(unsafe.Sizeof(zero))

	if th.InStackRange(addr, size) {
		return memaccess.Load[V](addr), desc.NoRestart
	}

	if data, fullyLive, ok := th.RedoLog.FindSplit(addr, size); ok && fullyLive {
		var v V
		copy(unsafe.Slice((*byte)(unsafe.Pointer(&v)), size), data)
		return v, desc.NoRestart
	}

	// Keep re-reading and re-validating until a read of addr is provably
	// stable: the sequence lock must read the same value immediately
	// before and after the data read (no writer raced it, so it isn't
	// torn), and that value must match the snapshot this transaction has
	// validated against (method-norec.cc's load() retry loop). A single
	// check-then-read-once is not equivalent: a commit landing during or
	// after a lone re-read would be returned as if settled.
	snapshot := th.LoadSharedState()
	var v V
	for {
		before := a.spinUntilEven()
		v = memaccess.Load[V](addr)
		after := atomics.LoadAcquire(&a.seqLock)
		if before != after {
			continue
		}
		if before == snapshot {
			break
		}
		newSnap, ok := a.validate(th)
		if !ok {
			th.RecordRestart(desc.RestartValidateRead)
			return zero, desc.RestartValidateRead
		}
		snapshot = newSnap
		th.StoreSharedState(snapshot)
		if before == snapshot {
			break
		}
		// the lock advanced again while validating; retry the read under
		// whatever version is current now.
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	recorded := make([]byte, size)
	copy(recorded, data)
	th.ValueLog.Append(addr, recorded)

	return v, desc.NoRestart
}

// Store buffers a typed write into the redo log.
func Store[V any](th *desc.Thread, addr uintptr, v V) {
	size := int(unsafe.Sizeof(v))
	if th.InStackRange(addr, size) {
		memaccess.Store[V](addr, v)
		return
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	th.RedoLog.InsertSplit(addr, data)
}

// Memtransfer performs a byte-granular transactional copy.
func Memtransfer(a *Algorithm, th *desc.Thread, dst, src uintptr, n int, mayOverlap bool) desc.RestartReason {
	for i := 0; i < n; i++ {
		b, reason := Load[byte](a, th, src+uintptr(i))
		if reason != desc.NoRestart {
			return reason
		}
		Store[byte](th, dst+uintptr(i), b)
	}
	return desc.NoRestart
}

// Memset performs a byte-granular transactional fill.
func Memset(th *desc.Thread, dst uintptr, ch byte, n int) {
	for i := 0; i < n; i++ {
		Store[byte](th, dst+uintptr(i), ch)
	}
}

// Commit attempts to finalize the transaction, returning (priv_time,
// true) on success.
func (a *Algorithm) Commit(th *desc.Thread) (privTime uint64, ok bool, reason desc.RestartReason) {
	if th.RedoLog.IsEmpty() {
		th.ResetLogs()
		return 0, true, desc.NoRestart
	}

	snapshot := th.LoadSharedState()
	for !atomics.CompareAndSwapAcquire(&a.seqLock, snapshot, snapshot+1) {
		newSnap, validOK := a.validate(th)
		if !validOK {
			th.ResetLogs()
			th.DiscardCommitActions()
			th.RecordRestart(desc.RestartValidateRead)
			return 0, false, desc.RestartValidateRead
		}
		snapshot = newSnap
		th.StoreSharedState(snapshot)
	}

	th.RedoLog.Writeback()
	atomics.StoreRelease(&a.seqLock, snapshot+2)

	th.ResetLogs()
	return snapshot + 2, true, desc.NoRestart
}

// Rollback emits a release fence and clears every log. It never fails.
func (a *Algorithm) Rollback(th *desc.Thread) {
	atomics.ReleaseFence()
	th.ResetLogs()
	th.DiscardCommitActions()
}

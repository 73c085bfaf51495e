// Package mllazy implements the multi-lock lazy versioning STM (§4.2):
// ownership-record timestamped, redo-logging, with snapshot extension.
package mllazy

import (
	"unsafe"

	"go.uber.org/zap"

	"github.com/transmem/gostm/internal/atomics"
	"github.com/transmem/gostm/internal/desc"
	"github.com/transmem/gostm/internal/memaccess"
	"github.com/transmem/gostm/internal/orec"
	"github.com/transmem/gostm/internal/seriallock"
)

// ThreadSupportBound is the maximum number of threads the algorithm
// guarantees to support, per §4.2: refusing more keeps OVERFLOW_RESERVE
// sufficient.
const ThreadSupportBound = orec.OverflowReserve / 2

// Algorithm holds the shared state one ML-Lazy instance needs: the orec
// array and the global committed-time counter.
type Algorithm struct {
	orecs      *orec.Array
	globalTime atomics.Word
	lock       *seriallock.Manager
	lg         *zap.Logger
}

// New returns an ML-Lazy instance sharing lock for reinitialization and
// quiescence.
func New(lock *seriallock.Manager, lg *zap.Logger) *Algorithm {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Algorithm{orecs: orec.NewArray(lg), lock: lock, lg: lg}
}

// Begin establishes the thread's snapshot time from the current global
// time, or requests reinitialization if the timestamp is about to
// overflow.
func (a *Algorithm) Begin(th *desc.Thread) desc.RestartReason {
	snap := atomics.LoadAcquire(&a.globalTime)
	if snap >= orec.TimeMax {
		return desc.RestartInitMethodGroup
	}
	th.StoreSharedState(snap)
	return desc.NoRestart
}

// Reinit resets the global clock and zeroes every orec. The caller must
// already hold the serial lock (§4.2 "Reinitialization").
func (a *Algorithm) Reinit() {
	atomics.StoreRelease(&a.globalTime, 0)
	a.orecs.Reinit()
}

func fullMask(size int) uint64 { return (uint64(1) << uint(size)) - 1 }

// extend re-reads global time and validates every entry in the read log
// against the array; on success it publishes the new snapshot and
// returns it.
func (a *Algorithm) extend(th *desc.Thread) (uint64, bool) {
	newSnap := atomics.LoadAcquire(&a.globalTime)
	for _, e := range th.ReadLog.Entries() {
		cur := a.orecs.Load(e.Index)
		if orec.IsLocked(cur) {
			if orec.Owner(cur) == th.LockID {
				continue
			}
			return 0, false
		}
		if orec.Timestamp(cur) != e.Observed {
			return 0, false
		}
	}
	th.StoreSharedState(newSnap)
	return newSnap, true
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

	// preLoad holds, per orec index touched by this call, enough to redo
	// the same check post-read: whether it was already ours (never
	// re-checked, since we hold it until commit) or the timestamp we
	// validated it against.
	type preLoad struct {
		idx       int
		selfOwned bool
		observed  uint64
	}
	indices := orec.Range(addr, size)
	pre := make([]preLoad, 0, len(indices))

	snapshot := th.LoadSharedState()
	for _, idx := range indices {
		observed := a.orecs.Load(idx)

		if orec.IsLocked(observed) {
			if orec.Owner(observed) == th.LockID {
				pre = append(pre, preLoad{idx: idx, selfOwned: true})
				continue
			}
			th.RecordRestart(desc.RestartLockedRead)
			return zero, desc.RestartLockedRead
		}

		if !orec.MoreRecentThan(observed, snapshot) {
			th.ReadLog.Append(orec.Entry{Index: idx, Observed: orec.Timestamp(observed)})
			pre = append(pre, preLoad{idx: idx, observed: orec.Timestamp(observed)})
			continue
		}

		newSnap, ok := a.extend(th)
		if !ok {
			th.RecordRestart(desc.RestartValidateRead)
			return zero, desc.RestartValidateRead
		}
		snapshot = newSnap

		observed = a.orecs.Load(idx)
		if orec.IsLocked(observed) {
			if orec.Owner(observed) == th.LockID {
				pre = append(pre, preLoad{idx: idx, selfOwned: true})
				continue
			}
			th.RecordRestart(desc.RestartLockedRead)
			return zero, desc.RestartLockedRead
		}
		th.ReadLog.Append(orec.Entry{Index: idx, Observed: orec.Timestamp(observed)})
		pre = append(pre, preLoad{idx: idx, observed: orec.Timestamp(observed)})
	}

	v := memaccess.Load[V](addr)
	atomics.AcquireFence()

	// post_load: the orec check above and the data read just performed are
	// not atomic with respect to a concurrent committer, so re-check every
	// entry this call appended before trusting v (method-lazy.cc's
	// pre_load/post_load pairing). A read-only transaction never
	// revisits its read log at commit, so this is its only protection.
	for _, p := range pre {
		if p.selfOwned {
			continue
		}
		cur := a.orecs.Load(p.idx)
		if orec.IsLocked(cur) && orec.Owner(cur) != th.LockID {
			th.RecordRestart(desc.RestartValidateRead)
			return zero, desc.RestartValidateRead
		}
		if orec.Timestamp(cur) != p.observed {
			th.RecordRestart(desc.RestartValidateRead)
			return zero, desc.RestartValidateRead
		}
	}

	return v, desc.NoRestart
}

// Store buffers a typed write into the redo log; it never touches
// memory or orecs directly.
func Store[V any](th *desc.Thread, addr uintptr, v V) {
	size := int(unsafe.Sizeof(v))
	if th.InStackRange(addr, size) {
		memaccess.Store[V](addr, v)
		return
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	th.RedoLog.InsertSplit(addr, data)
}

// Memtransfer performs a byte-granular transactional copy, loading each
// source byte and storing it to the destination. may_overlap is accepted
// for ABI parity but unused: writes are buffered, so overlap between dst
// and src never aliases live memory mid-copy.
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

// Commit attempts to finalize the transaction. On success it returns
// (priv_time, true); the caller is obligated to run Quiesce(priv_time)
// on the serial-lock manager before letting any other thread observe the
// committed state non-transactionally.
func (a *Algorithm) Commit(th *desc.Thread) (privTime uint64, ok bool, reason desc.RestartReason) {
	if th.RedoLog.IsEmpty() {
		th.ResetLogs()
		return 0, true, desc.NoRestart
	}

	snapshot := th.LoadSharedState()

	for i := 0; i < th.RedoLog.Slabcount(); i++ {
		if th.RedoLog.GetMask(i) == 0 {
			continue
		}
		key := th.RedoLog.GetKey(i)
		for _, idx := range orec.Range(key, redologSlabSize) {
			if _, locked := th.WriteLog.Find(idx); locked {
				continue
			}
			observed := a.orecs.Load(idx)
			for {
				if orec.IsLocked(observed) {
					if orec.Owner(observed) == th.LockID {
						break
					}
					a.Rollback(th)
					th.RecordRestart(desc.RestartLockedWrite)
					return 0, false, desc.RestartLockedWrite
				}
				if orec.MoreRecentThan(observed, snapshot) {
					newSnap, extendOK := a.extend(th)
					if !extendOK {
						a.Rollback(th)
						th.RecordRestart(desc.RestartValidateRead)
						return 0, false, desc.RestartValidateRead
					}
					snapshot = newSnap
					observed = a.orecs.Load(idx)
					continue
				}
				if !a.orecs.TryLock(idx, observed, th.LockID) {
					observed = a.orecs.Load(idx)
					continue
				}
				th.WriteLog.Append(orec.Entry{Index: idx, Observed: observed})
				break
			}
		}
	}
	atomics.ReleaseFence()

	ct := atomics.FetchAddAcqRel(&a.globalTime, 1) + 1

	if snapshot < ct-1 {
		if _, extendOK := a.extend(th); !extendOK {
			a.Rollback(th)
			th.RecordRestart(desc.RestartValidateRead)
			return 0, false, desc.RestartValidateRead
		}
	}

	th.RedoLog.Writeback()

	for _, e := range th.WriteLog.Entries() {
		a.orecs.StoreTimestamp(e.Index, ct)
	}

	th.ResetLogs()
	return ct, true, desc.NoRestart
}

// redologSlabSize mirrors redolog.SlabSize without importing redolog
// just for the constant name at call sites that only need the width.
const redologSlabSize = 64

// rollbackLocked restores every orec this attempt has locked so far,
// without clearing logs (callers that want the full reset use Rollback).
func (a *Algorithm) rollbackLocked(th *desc.Thread) {
	for _, e := range th.WriteLog.Entries() {
		a.orecs.Restore(e.Index, e.Observed)
	}
	atomics.ReleaseFence()
	th.WriteLog.Reset()
}

// Rollback releases any orecs acquired so far and clears every log. It
// never fails.
func (a *Algorithm) Rollback(th *desc.Thread) {
	a.rollbackLocked(th)
	th.ResetLogs()
	th.DiscardCommitActions()
}

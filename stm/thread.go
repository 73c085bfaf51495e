package stm

import (
	"github.com/transmem/gostm/internal/desc"
	"github.com/transmem/gostm/internal/seriallock"
)

// Thread is one application thread's handle onto a Runtime. It wraps the
// algorithm-agnostic per-thread descriptor plus whatever bookkeeping the
// dispatch layer itself needs (the registry handle).
type Thread struct {
	rt     *Runtime
	desc   *desc.Thread
	handle seriallock.Handle
}

// Close unregisters the thread from the shared registry that quiescence
// scans walk. Callers must call this when an application thread is done
// making transactions.
func (th *Thread) Close() {
	th.rt.lock.Unregister(th.handle)
}

// SetStackRange installs this thread's current activation-record range,
// so Load/Store/Memtransfer/Memset bypass transactional logging for
// accesses that fall entirely inside it (§4.1).
func (th *Thread) SetStackRange(bottom, top uintptr) {
	th.desc.SetStackRange(bottom, top)
}

// InTransaction reports whether this thread is currently inside a
// (possibly nested) transaction.
func (th *Thread) InTransaction() bool { return th.desc.Nesting > 0 }

// BeginOrRestart starts a new transaction, or — if called while already
// inside one — simply counts a nested begin (§4.1: "flat nesting").
func (th *Thread) BeginOrRestart() RestartReason {
	if th.desc.Nesting > 0 {
		th.desc.Nesting++
		return NoRestart
	}

	switch th.rt.cfg.Algorithm {
	case NoRec:
		reason := th.rt.norec.Begin(th.desc)
		if reason == RestartInitMethodGroup {
			th.rt.lock.Acquire()
			th.rt.norec.Reinit()
			th.rt.lock.Release()
			reason = th.rt.norec.Begin(th.desc)
		}
		if reason == NoRestart {
			th.desc.Nesting = 1
		}
		return reason
	case TSXHybrid:
		// tsxhybrid.Begin manages nesting itself; it never restarts.
		return th.rt.tsx.Begin(th.desc)
	default:
		reason := th.rt.mllazy.Begin(th.desc)
		if reason == RestartInitMethodGroup {
			th.rt.lock.Acquire()
			th.rt.mllazy.Reinit()
			th.rt.lock.Release()
			reason = th.rt.mllazy.Begin(th.desc)
		}
		if reason == NoRestart {
			th.desc.Nesting = 1
		}
		return reason
	}
}

// TryCommit attempts to finish the transaction, returning false to
// request a full restart from BeginOrRestart. On the outermost
// successful commit of ML-Lazy or NOrec it also runs the privatization
// quiescence wait (§9) before running queued commit actions.
func (th *Thread) TryCommit() bool {
	switch th.rt.cfg.Algorithm {
	case NoRec:
		if th.desc.Nesting > 1 {
			th.desc.Nesting--
			return true
		}
		privTime, ok, _ := th.rt.norec.Commit(th.desc)
		th.desc.Nesting = 0
		th.desc.StoreSharedState(desc.Inactive)
		if !ok {
			return false
		}
		if privTime > 0 {
			th.rt.lock.Quiesce(privTime, th.desc)
		}
		th.desc.RunCommitActions()
		return true
	case TSXHybrid:
		th.rt.tsx.Commit(th.desc)
		return true
	default:
		if th.desc.Nesting > 1 {
			th.desc.Nesting--
			return true
		}
		privTime, ok, _ := th.rt.mllazy.Commit(th.desc)
		th.desc.Nesting = 0
		th.desc.StoreSharedState(desc.Inactive)
		if !ok {
			return false
		}
		if privTime > 0 {
			th.rt.lock.Quiesce(privTime, th.desc)
		}
		th.desc.RunCommitActions()
		return true
	}
}

// Rollback abandons the current attempt, restoring any memory the
// algorithm had tentatively locked and clearing every log, then
// requires a fresh BeginOrRestart.
func (th *Thread) Rollback() {
	switch th.rt.cfg.Algorithm {
	case NoRec:
		th.rt.norec.Rollback(th.desc)
	case TSXHybrid:
		th.rt.tsx.Rollback(th.desc)
	default:
		th.rt.mllazy.Rollback(th.desc)
	}
	th.desc.Nesting = 0
	th.desc.StoreSharedState(desc.Inactive)
}

// RegisterOnCommit queues fn(arg) to run once the outermost transaction
// currently in progress commits. If called outside a transaction, fn
// runs immediately (§5: TmCondvar registers its wake-ups this way).
func (th *Thread) RegisterOnCommit(fn func(arg any), arg any) {
	if !th.InTransaction() {
		fn(arg)
		return
	}
	th.desc.AppendCommitAction(fn, arg)
}

// Stats reports this thread's restart-reason counters (§12).
func (th *Thread) Stats() RestartStats {
	return RestartStats{
		LockedRead:      th.desc.RestartCount(RestartLockedRead),
		LockedWrite:     th.desc.RestartCount(RestartLockedWrite),
		ValidateRead:    th.desc.RestartCount(RestartValidateRead),
		InitMethodGroup: th.desc.RestartCount(RestartInitMethodGroup),
	}
}

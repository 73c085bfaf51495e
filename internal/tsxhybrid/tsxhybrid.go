// Package tsxhybrid implements TSX-Hybrid (§4.4): best-effort hardware
// transactions coexisting with a single process-wide serial-lock
// fallback. Neither path needs a redo log, read log, or orec: a
// hardware transaction gives the CPU's own isolation guarantees, and the
// serial lock gives mutual exclusion with every other thread, so Load
// and Store are plain direct memory accesses in both modes.
package tsxhybrid

import (
	"go.uber.org/zap"

	"github.com/transmem/gostm/internal/desc"
	"github.com/transmem/gostm/internal/memaccess"
	"github.com/transmem/gostm/internal/seriallock"
)

// MaxAttempts bounds how many times Begin retries a hardware transaction
// before falling back to the serial lock (design target: 5, per §4.4).
const MaxAttempts = 5

// Algorithm coordinates between best-effort hardware transactions and
// the shared serial lock.
type Algorithm struct {
	lock *seriallock.Manager
	hw   HardwareBackend
	lg   *zap.Logger
}

// New returns a TSX-Hybrid instance. hw may be nil, in which case every
// transaction runs in serial mode (see softwareOnlyBackend).
func New(lock *seriallock.Manager, hw HardwareBackend, lg *zap.Logger) *Algorithm {
	if lg == nil {
		lg = zap.NewNop()
	}
	if hw == nil {
		hw = softwareOnlyBackend{}
	}
	return &Algorithm{lock: lock, hw: hw, lg: lg}
}

// Begin starts (or, if nested, simply counts) a transaction. Nested
// begins just increment the nesting counter and inherit the outermost
// attempt's mode.
func (a *Algorithm) Begin(th *desc.Thread) desc.RestartReason {
	if th.Nesting > 0 {
		th.Nesting++
		return desc.NoRestart
	}

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if a.lock.HeldRelaxed() {
			continue
		}
		if a.hw.Begin() {
			if a.lock.HeldRelaxed() {
				a.hw.Abort(lockHeldAbortCode)
				continue
			}
			th.Nesting = 1
			th.SerialMode = false
			return desc.NoRestart
		}
	}

	a.lg.Info("TSX-Hybrid falling back to serial lock after exhausting hardware attempts",
		zap.Int("attempts", MaxAttempts))
	a.lock.Acquire()
	th.Nesting = 1
	th.SerialMode = true
	return desc.NoRestart
}

// Load reads addr directly: the CPU tracks conflicting accesses inside a
// hardware transaction, and the serial lock excludes every other thread
// in serial mode, so no log is needed either way.
func Load[V any](addr uintptr) V { return memaccess.Load[V](addr) }

// Store writes addr directly, for the same reason Load reads directly.
func Store[V any](addr uintptr, v V) { memaccess.Store[V](addr, v) }

// Memtransfer copies n bytes directly.
func Memtransfer(dst, src uintptr, n int) {
	data := memaccess.ReadBytes(src, n)
	memaccess.WriteBytes(dst, data)
}

// Memset fills n bytes at dst directly.
func Memset(dst uintptr, ch byte, n int) {
	data := make([]byte, n)
	for i := range data {
		data[i] = ch
	}
	memaccess.WriteBytes(dst, data)
}

// Commit finishes the transaction. On the outermost commit it releases
// the serial lock or ends the hardware transaction, then runs any
// queued user-commit actions in FIFO order.
func (a *Algorithm) Commit(th *desc.Thread) desc.RestartReason {
	th.Nesting--
	if th.Nesting > 0 {
		return desc.NoRestart
	}

	if th.SerialMode {
		a.lock.Release()
	} else {
		a.hw.End()
	}
	th.RunCommitActions()
	return desc.NoRestart
}

// Rollback is never invoked by this algorithm in ordinary operation
// (§4.4: "not explicitly invoked — hardware aborts restart
// automatically; the serial path cannot abort"); it exists so the
// dispatch layer's generic Rollback has a method to call when a caller
// abandons an attempt. It discards any queued commit actions and, if the
// thread is inside a serial-mode transaction, releases the serial lock.
// A hardware-mode attempt is neither ended nor aborted here.
func (a *Algorithm) Rollback(th *desc.Thread) {
	if th.Nesting > 0 && th.SerialMode {
		a.lock.Release()
	}
	th.DiscardCommitActions()
}

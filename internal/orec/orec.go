// Package orec implements the ownership-record array that ML-Lazy locks
// and timestamps, and the ordered read/write logs of orecs that ML-Lazy
// accumulates during a transaction attempt.
package orec

import (
	"go.uber.org/zap"

	"github.com/transmem/gostm/internal/atomics"
)

const (
	// lockBit is the MSB of an orec word; when set, the remaining bits
	// hold the locking thread's identity instead of a timestamp.
	lockBit uint64 = 1 << 63

	// TimeMax bounds a valid timestamp: (~0)>>2, leaving headroom below
	// the lock bit for OverflowReserve pending increments.
	TimeMax uint64 = ^uint64(0) >> 2

	// OverflowReserve bounds the number of concurrent pending timestamp
	// increments before the counter could reach the lock bit.
	OverflowReserve uint64 = TimeMax + 1

	// NumOrecs is the fixed size of the orec array (2^19 entries).
	NumOrecs = 1 << 19

	indexShift = 4
	indexMask  = NumOrecs - 1
)

// Index maps an address to its orec index: (addr>>4) & (2^19-1). A region
// [addr, addr+len) covers the inclusive sequence of orec indices produced
// by applying Index to every 16-byte stride across the region.
func Index(addr uintptr) int {
	return int((uint64(addr) >> indexShift) & indexMask)
}

// Stride is the address span, in bytes, covered by one orec. ML-Lazy's
// pre_write probing walks a slab in steps of Stride because that is the
// granularity Index itself partitions memory into; see SPEC_FULL.md §12
// for why the two are tied together rather than independently chosen.
const Stride = 1 << indexShift

// Range returns the distinct orec indices covering [addr, addr+size),
// stepping in Stride-sized strides so contiguous bytes that fall in the
// same orec are counted once.
func Range(addr uintptr, size int) []int {
	if size <= 0 {
		return nil
	}
	start := addr &^ uintptr(Stride-1)
	end := addr + uintptr(size) - 1
	idxs := make([]int, 0, (int(end-start)/Stride)+1)
	for a := start; a <= end; a += Stride {
		idxs = append(idxs, Index(a))
	}
	return idxs
}

// IsLocked reports whether v has its lock bit set.
func IsLocked(v uint64) bool { return v&lockBit != 0 }

// Owner extracts the locking thread's identity from a locked word. The
// result is meaningless if v is not locked.
func Owner(v uint64) uint64 { return v &^ lockBit }

// Timestamp extracts the committed version from an unlocked word. The
// result is meaningless if v is locked.
func Timestamp(v uint64) uint64 { return v &^ lockBit }

// Locked encodes a locked word for the given owner identity.
func Locked(owner uint64) uint64 { return lockBit | (owner &^ lockBit) }

// MoreRecentThan reports whether v is more recent than snapshot: a
// locked orec always compares greater than any snapshot, per §3.
func MoreRecentThan(v, snapshot uint64) bool {
	if IsLocked(v) {
		return true
	}
	return Timestamp(v) > snapshot
}

// Array is the fixed-size table of ownership records, one process-wide
// instance per algorithm (ML-Lazy) that needs orecs.
type Array struct {
	words [NumOrecs]atomics.Word
	lg    *zap.Logger
}

// NewArray allocates a zeroed orec array.
func NewArray(lg *zap.Logger) *Array {
	if lg == nil {
		lg = zap.NewNop()
	}
	a := &Array{lg: lg}
	a.lg.Debug("orec array allocated", zap.Int("entries", NumOrecs))
	return a
}

// Load reads the orec at idx with acquire semantics.
func (a *Array) Load(idx int) uint64 {
	return atomics.LoadAcquire(&a.words[idx])
}

// TryLock attempts to transition the orec at idx from observed to a
// locked word naming owner, with acquire ordering on success.
func (a *Array) TryLock(idx int, observed, owner uint64) bool {
	return atomics.CompareAndSwapAcquire(&a.words[idx], observed, Locked(owner))
}

// StoreTimestamp publishes a new committed timestamp at idx with release
// ordering, unlocking the orec in the same store.
func (a *Array) StoreTimestamp(idx int, ts uint64) {
	atomics.StoreRelease(&a.words[idx], ts)
}

// Restore writes back a prior observed word verbatim (used by rollback to
// undo a lock acquisition), with release ordering.
func (a *Array) Restore(idx int, prior uint64) {
	atomics.StoreRelease(&a.words[idx], prior)
}

// Reinit zeroes every orec. The caller must hold the serial lock; see
// internal/seriallock.
func (a *Array) Reinit() {
	for i := range a.words {
		atomics.StoreRelease(&a.words[i], 0)
	}
	a.lg.Info("orec array reinitialized on timestamp overflow")
}

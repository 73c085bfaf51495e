// Package seriallock implements the single process-wide spin lock (§4.6)
// and the quiescence protocol that ML-Lazy and NOrec's commit paths use
// for privatization safety (§9), plus the ordered registry of live thread
// descriptors that quiescence scans. The registry reuses the teacher's
// google/btree-backed ordered-index pattern from
// server/mvcc/key_index.go, here keyed by registration sequence rather
// than by key revision.
package seriallock

import (
	"runtime"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/transmem/gostm/internal/atomics"
	"github.com/transmem/gostm/internal/desc"
)

const spinBound = 64

// lockWord values.
const (
	unlocked uint64 = 0
	locked   uint64 = 1
)

// Manager is the serial lock plus the registry and quiescence scanner
// that use it. One instance is shared process-wide by a Runtime.
type Manager struct {
	word atomics.Word

	tree    *btree.BTreeG[regItem]
	nextSeq uint64

	lg *zap.Logger
}

type regItem struct {
	seq int64
	th  *desc.Thread
}

func regLess(a, b regItem) bool { return a.seq < b.seq }

// NewManager returns an unlocked manager with an empty thread registry.
func NewManager(lg *zap.Logger) *Manager {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Manager{
		tree: btree.NewG(32, regLess),
		lg:   lg,
	}
}

// Acquire takes the serial lock: a bounded spin on the load, then a
// compare-and-swap attempt, repeated until it succeeds.
func (m *Manager) Acquire() {
	for {
		for i := 0; i < spinBound; i++ {
			if atomics.LoadAcquire(&m.word) == unlocked {
				break
			}
			runtime.Gosched()
		}
		if atomics.CompareAndSwapAcquire(&m.word, unlocked, locked) {
			return
		}
	}
}

// Release drops the serial lock with release ordering.
func (m *Manager) Release() {
	atomics.StoreRelease(&m.word, unlocked)
}

// Held reports whether the serial lock is currently taken, with acquire
// ordering.
func (m *Manager) Held() bool { return atomics.LoadAcquire(&m.word) == locked }

// HeldRelaxed is Held without the acquire ordering obligation, for
// best-effort checks like TSX-Hybrid's in-transaction probe.
func (m *Manager) HeldRelaxed() bool { return atomics.LoadRelaxed(&m.word) == locked }

// Handle identifies a registration for later Unregister calls.
type Handle int64

// Register adds th to the thread list. Per §4.6, the thread list is
// mutated only under the serial lock.
func (m *Manager) Register(th *desc.Thread) Handle {
	m.Acquire()
	defer m.Release()
	seq := int64(m.nextSeq)
	m.nextSeq++
	m.tree.ReplaceOrInsert(regItem{seq: seq, th: th})
	return Handle(seq)
}

// Unregister removes a previously registered thread.
func (m *Manager) Unregister(h Handle) {
	m.Acquire()
	defer m.Release()
	m.tree.Delete(regItem{seq: int64(h)})
}

// Quiesce blocks until every registered thread other than self has
// published shared_state either Inactive or >= privTime. This is the
// privatization-safety wait described in §9: the caller (commit) must
// finish this before the caller may treat privTime's writes as safe for
// non-transactional readers to observe.
func (m *Manager) Quiesce(privTime uint64, self *desc.Thread) {
	// Register/Unregister mutate m.tree under the serial lock from other
	// goroutines, and btree.BTreeG is not safe to Ascend while another
	// goroutine is concurrently inserting/deleting into the same
	// instance. Take the lock just long enough to grab a copy-on-write
	// Clone — O(1), since it only shares the existing node pointers — and
	// scan that snapshot afterward so the (potentially lengthy) busy-wait
	// below never holds the serial lock.
	m.Acquire()
	snap := m.tree.Clone()
	m.Release()

	snap.Ascend(func(item regItem) bool {
		if item.th == self {
			return true
		}
		for {
			state := item.th.LoadSharedState()
			if state == desc.Inactive || state >= privTime {
				return true
			}
			runtime.Gosched()
		}
	})
}

package stm

import (
	"github.com/transmem/gostm/internal/mllazy"
	"github.com/transmem/gostm/internal/norec"
	"github.com/transmem/gostm/internal/tsxhybrid"
)

// Load performs a typed transactional read of addr, dispatching to
// whichever algorithm th's Runtime was built with. Go forbids type
// parameters on methods, so this lives as a package-level function
// rather than a (*Thread) method (§4.1's Load/Store table).
func Load[V any](th *Thread, addr uintptr) (V, RestartReason) {
	switch th.rt.cfg.Algorithm {
	case NoRec:
		return norec.Load[V](th.rt.norec, th.desc, addr)
	case TSXHybrid:
		return tsxhybrid.Load[V](addr), NoRestart
	default:
		return mllazy.Load[V](th.rt.mllazy, th.desc, addr)
	}
}

// Store performs a typed transactional write of addr.
func Store[V any](th *Thread, addr uintptr, v V) {
	switch th.rt.cfg.Algorithm {
	case NoRec:
		norec.Store[V](th.desc, addr, v)
	case TSXHybrid:
		tsxhybrid.Store[V](addr, v)
	default:
		mllazy.Store[V](th.desc, addr, v)
	}
}

// Memtransfer copies n bytes from src to dst transactionally.
// mayOverlap is accepted for ABI parity with the spec's table; every
// algorithm here buffers writes (or, under TSX-Hybrid, holds exclusive
// access for the duration), so overlapping ranges never alias live
// memory mid-copy regardless of its value.
func Memtransfer(th *Thread, dst, src uintptr, n int, mayOverlap bool) RestartReason {
	switch th.rt.cfg.Algorithm {
	case NoRec:
		return norec.Memtransfer(th.rt.norec, th.desc, dst, src, n, mayOverlap)
	case TSXHybrid:
		tsxhybrid.Memtransfer(dst, src, n)
		return NoRestart
	default:
		return mllazy.Memtransfer(th.rt.mllazy, th.desc, dst, src, n, mayOverlap)
	}
}

// Memset fills n bytes at dst with ch transactionally.
func Memset(th *Thread, dst uintptr, ch byte, n int) {
	switch th.rt.cfg.Algorithm {
	case NoRec:
		norec.Memset(th.desc, dst, ch, n)
	case TSXHybrid:
		tsxhybrid.Memset(dst, ch, n)
	default:
		mllazy.Memset(th.desc, dst, ch, n)
	}
}

// Atomically runs fn as a transaction, retrying from BeginOrRestart
// until it commits. fn must not call BeginOrRestart/TryCommit/Rollback
// itself; it signals a desired abort by returning a non-nil error, which
// Atomically then propagates without retrying.
func Atomically(th *Thread, fn func() error) error {
	for {
		th.BeginOrRestart()
		err := fn()
		if err != nil {
			th.Rollback()
			return err
		}
		if th.TryCommit() {
			return nil
		}
	}
}

package stm

import (
	"go.uber.org/zap"

	"github.com/transmem/gostm/internal/desc"
	"github.com/transmem/gostm/internal/mllazy"
	"github.com/transmem/gostm/internal/norec"
	"github.com/transmem/gostm/internal/seriallock"
	"github.com/transmem/gostm/internal/tsxhybrid"
)

// Runtime owns the shared state one configuration of the STM needs: the
// selected algorithm, the serial lock and thread registry (TSX-Hybrid
// falls back to the lock; ML-Lazy and NOrec reinitialize through it and
// quiesce over the registry), and the shared transaction-ID allocator.
type Runtime struct {
	cfg Config

	mllazy *mllazy.Algorithm
	norec  *norec.Algorithm
	tsx    *tsxhybrid.Algorithm

	lock     *seriallock.Manager
	tidAlloc *desc.TIDAllocator

	lg *zap.Logger
}

// New builds a Runtime from the given Options, defaulting to ML-Lazy.
func New(opts ...Option) *Runtime {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	lg := cfg.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	rt := &Runtime{
		cfg:      cfg,
		lock:     seriallock.NewManager(lg),
		tidAlloc: desc.NewTIDAllocator(),
		lg:       lg,
	}

	switch cfg.Algorithm {
	case NoRec:
		rt.norec = norec.New(lg)
	case TSXHybrid:
		rt.tsx = tsxhybrid.New(rt.lock, cfg.HardwareBackend, lg)
	default:
		rt.mllazy = mllazy.New(rt.lock, lg)
	}

	return rt
}

// Algorithm reports which algorithm this Runtime is running.
func (rt *Runtime) Algorithm() Algorithm { return rt.cfg.Algorithm }

// NewThread creates a new per-application-thread handle and registers it
// in the shared thread registry so quiescence scans can see it. Callers
// must call Thread.Close when the application thread exits.
func (rt *Runtime) NewThread() *Thread {
	d := desc.New(rt.tidAlloc, rt.lg)
	handle := rt.lock.Register(d)
	return &Thread{rt: rt, desc: d, handle: handle}
}

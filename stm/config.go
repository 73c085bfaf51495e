// Package stm is the dispatch and public ABI layer: it selects one of
// the three algorithm packages at Runtime construction time and exposes
// a single generic Load/Store/Memtransfer/Memset/BeginOrRestart/
// TryCommit/Rollback surface over whichever one is active (§4, §6).
//
// Configuration follows backend.BackendConfig's functional-options
// shape: a Config struct built up by Option values passed to New.
package stm

import (
	"go.uber.org/zap"

	"github.com/transmem/gostm/internal/tsxhybrid"
)

// Algorithm selects which of the three STM algorithms a Runtime runs.
type Algorithm int

const (
	// MLLazy is the default: ownership-record timestamped, redo-logging,
	// snapshot-extending STM (§4.2).
	MLLazy Algorithm = iota
	// NoRec is the single sequence-lock, value-validated STM (§4.3).
	NoRec
	// TSXHybrid is the best-effort hardware/serial-lock hybrid (§4.4).
	TSXHybrid
)

func (a Algorithm) String() string {
	switch a {
	case MLLazy:
		return "ML_LAZY"
	case NoRec:
		return "NOREC"
	case TSXHybrid:
		return "TSX_HYBRID"
	default:
		return "UNKNOWN_ALGORITHM"
	}
}

// HardwareBackend is re-exported from tsxhybrid so callers configuring a
// Runtime never need to import the internal algorithm packages directly.
type HardwareBackend = tsxhybrid.HardwareBackend

// Config holds a Runtime's construction-time parameters. Build one with
// DefaultConfig and a chain of Option values, or just pass Options to
// New directly.
type Config struct {
	Algorithm Algorithm
	Logger    *zap.Logger
	// HardwareBackend is consulted only under TSXHybrid; nil means every
	// transaction runs in serial-lock mode.
	HardwareBackend HardwareBackend
}

// DefaultConfig returns the configuration New uses when given no
// Options: ML-Lazy with a no-op logger.
func DefaultConfig() Config {
	return Config{Algorithm: MLLazy, Logger: zap.NewNop()}
}

// Option mutates a Config during New.
type Option func(*Config)

// WithAlgorithm selects which algorithm the Runtime runs.
func WithAlgorithm(a Algorithm) Option {
	return func(c *Config) { c.Algorithm = a }
}

// WithLogger installs a structured logger for the Runtime and the
// algorithm it wraps.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Config) { c.Logger = lg }
}

// WithHardwareBackend installs a HardwareBackend for TSXHybrid. Ignored
// under the other two algorithms.
func WithHardwareBackend(hw HardwareBackend) Option {
	return func(c *Config) { c.HardwareBackend = hw }
}

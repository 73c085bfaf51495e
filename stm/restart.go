package stm

import "github.com/transmem/gostm/internal/desc"

// RestartReason is re-exported from the internal desc package so callers
// never need to import it directly.
type RestartReason = desc.RestartReason

// The restart reason values, re-exported for callers of the public ABI.
const (
	NoRestart               = desc.NoRestart
	RestartLockedRead       = desc.RestartLockedRead
	RestartLockedWrite      = desc.RestartLockedWrite
	RestartValidateRead     = desc.RestartValidateRead
	RestartInitMethodGroup  = desc.RestartInitMethodGroup
)

// RestartStats reports how many times each restart reason has fired on
// one thread, per §12's exposed restart-reason counters.
type RestartStats struct {
	LockedRead      uint64
	LockedWrite     uint64
	ValidateRead    uint64
	InitMethodGroup uint64
}

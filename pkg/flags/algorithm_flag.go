// Package flags provides command-line flag types for runtime
// configuration, following the same small Value-wrapper shape the
// teacher uses for its own flag types (construct-validate-Set, a String
// accessor, a Type name for pflag).
package flags

import (
	"fmt"
	"strings"

	"github.com/transmem/gostm/stm"
)

// AlgorithmValue adapts stm.Algorithm to the standard library's
// flag.Value interface (and, by the same three methods, pflag.Value),
// so a benchmark harness or driver binary can select
// ml-lazy/norec/tsx-hybrid on the command line.
type AlgorithmValue stm.Algorithm

// NewAlgorithmValue returns an AlgorithmValue initialized to def,
// overridden by s if s is non-empty. It panics if s is set and invalid,
// mirroring the teacher's NewURLsValue helper used for flag defaults
// supplied as string literals at startup.
func NewAlgorithmValue(def stm.Algorithm, s string) *AlgorithmValue {
	v := AlgorithmValue(def)
	if s == "" {
		return &v
	}
	if err := v.Set(s); err != nil {
		panic(err)
	}
	return &v
}

// Set parses s as one of "ml-lazy", "norec", or "tsx-hybrid"
// (case-insensitive, hyphen or underscore).
func (v *AlgorithmValue) Set(s string) error {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "-")) {
	case "ml-lazy", "mllazy":
		*v = AlgorithmValue(stm.MLLazy)
	case "norec":
		*v = AlgorithmValue(stm.NoRec)
	case "tsx-hybrid", "tsxhybrid":
		*v = AlgorithmValue(stm.TSXHybrid)
	default:
		return fmt.Errorf("invalid algorithm %q: must be one of ml-lazy, norec, tsx-hybrid", s)
	}
	return nil
}

// String renders the current value for flag help text and defaults.
func (v *AlgorithmValue) String() string {
	if v == nil {
		return stm.MLLazy.String()
	}
	return stm.Algorithm(*v).String()
}

// Type names the flag's value kind for pflag's usage output.
func (v *AlgorithmValue) Type() string { return "algorithm" }

// Algorithm returns the selected stm.Algorithm.
func (v *AlgorithmValue) Algorithm() stm.Algorithm { return stm.Algorithm(*v) }

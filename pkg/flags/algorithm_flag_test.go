package flags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transmem/gostm/stm"
)

func TestAlgorithmValueSetBad(t *testing.T) {
	tests := []string{
		"",
		"ml_lazy_typo",
		"tsx",
		"fastpath",
		"NOREC ",
	}
	for i, in := range tests {
		var v AlgorithmValue
		assert.Errorf(t, v.Set(in), "#%d: unexpected nil error for in=%q", i, in)
	}
}

func TestAlgorithmValueSetGood(t *testing.T) {
	tests := []struct {
		s   string
		exp stm.Algorithm
	}{
		{"ml-lazy", stm.MLLazy},
		{"ML_LAZY", stm.MLLazy},
		{"mllazy", stm.MLLazy},
		{"norec", stm.NoRec},
		{"NOREC", stm.NoRec},
		{"tsx-hybrid", stm.TSXHybrid},
		{"TSX_HYBRID", stm.TSXHybrid},
	}
	for i, tt := range tests {
		var v AlgorithmValue
		require.NoErrorf(t, v.Set(tt.s), "#%d", i)
		require.Equalf(t, tt.exp, v.Algorithm(), "#%d", i)
	}
}

func TestNewAlgorithmValueDefault(t *testing.T) {
	v := NewAlgorithmValue(stm.NoRec, "")
	require.Equal(t, stm.NoRec, v.Algorithm())
	require.Equal(t, "NOREC", v.String())
}

func TestNewAlgorithmValueOverride(t *testing.T) {
	v := NewAlgorithmValue(stm.MLLazy, "tsx-hybrid")
	require.Equal(t, stm.TSXHybrid, v.Algorithm())
}

package atomics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadStoreRoundTrip(t *testing.T) {
	var w Word
	StoreRelease(&w, 42)
	require.Equal(t, uint64(42), LoadAcquire(&w))

	StoreRelaxed(&w, 7)
	require.Equal(t, uint64(7), LoadRelaxed(&w))
}

func TestCompareAndSwapAcquire(t *testing.T) {
	var w Word
	StoreRelease(&w, 1)

	require.False(t, CompareAndSwapAcquire(&w, 0, 2), "CAS must fail on a stale expected value")
	require.True(t, CompareAndSwapAcquire(&w, 1, 2))
	require.Equal(t, uint64(2), LoadAcquire(&w))
}

func TestFetchAddAcqRelReturnsPriorValue(t *testing.T) {
	var w Word
	StoreRelease(&w, 10)

	prior := FetchAddAcqRel(&w, 5)
	require.Equal(t, uint64(10), prior)
	require.Equal(t, uint64(15), LoadAcquire(&w))
}

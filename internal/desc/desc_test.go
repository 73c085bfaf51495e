package desc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewThreadStartsInactive(t *testing.T) {
	th := New(NewTIDAllocator(), nil)
	require.Equal(t, Inactive, th.LoadSharedState())
}

func TestNextIDRefillsBlock(t *testing.T) {
	alloc := NewTIDAllocator()
	th := New(alloc, nil)

	first := th.NextID()
	for i := uint64(1); i < TIDBlockSize; i++ {
		id := th.NextID()
		require.Equal(t, first+i, id)
	}
	// crossing the block boundary must still produce a strictly
	// increasing, never-repeating identifier
	next := th.NextID()
	require.Greater(t, next, first+TIDBlockSize-1)
}

func TestStackRangeFilter(t *testing.T) {
	th := New(NewTIDAllocator(), nil)
	th.SetStackRange(100, 200)

	require.True(t, th.InStackRange(100, 50))
	require.False(t, th.InStackRange(190, 50))
	require.False(t, th.InStackRange(10, 5))
}

func TestCommitActionsRunFIFOAndClear(t *testing.T) {
	th := New(NewTIDAllocator(), nil)
	var order []int
	th.AppendCommitAction(func(arg any) { order = append(order, arg.(int)) }, 1)
	th.AppendCommitAction(func(arg any) { order = append(order, arg.(int)) }, 2)

	th.RunCommitActions()
	require.Equal(t, []int{1, 2}, order)
	require.Nil(t, th.UserCommitActions)
}

func TestDiscardCommitActionsDropsPending(t *testing.T) {
	th := New(NewTIDAllocator(), nil)
	ran := false
	th.AppendCommitAction(func(arg any) { ran = true }, nil)

	th.DiscardCommitActions()
	th.RunCommitActions()
	require.False(t, ran)
}

func TestRestartCounters(t *testing.T) {
	th := New(NewTIDAllocator(), nil)
	th.RecordRestart(RestartLockedRead)
	th.RecordRestart(RestartLockedRead)
	th.RecordRestart(RestartValidateRead)

	require.Equal(t, uint64(2), th.RestartCount(RestartLockedRead))
	require.Equal(t, uint64(1), th.RestartCount(RestartValidateRead))
	require.Equal(t, uint64(0), th.RestartCount(RestartLockedWrite))
}

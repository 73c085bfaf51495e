package vlog

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/transmem/gostm/internal/memaccess"
)

func TestValidateDetectsChange(t *testing.T) {
	var x uint32 = 7
	addr := uintptr(unsafe.Pointer(&x))

	var l Log
	l.Append(addr, memaccess.ReadBytes(addr, 4))
	require.True(t, l.Validate())

	x = 8
	require.False(t, l.Validate())
}

func TestResetClears(t *testing.T) {
	var x uint32
	addr := uintptr(unsafe.Pointer(&x))

	var l Log
	l.Append(addr, memaccess.ReadBytes(addr, 4))
	require.Equal(t, 1, l.Len())

	l.Reset()
	require.Equal(t, 0, l.Len())
	require.True(t, l.Validate())
}

// Package memaccess gives the NOrec and ML-Lazy algorithms a single,
// narrow place where a transactional address (a plain uintptr, per the
// spec's "typed address" ABI) is turned into an actual memory read or
// write. The algorithms' typed direct loads and stores, and NOrec's value
// validation, read and write real memory through this package. Other
// packages still use unsafe.Pointer themselves: the redo log's writeback
// stores to real addresses directly, and the algorithms and condvar build
// byte views and field addresses with it.
package memaccess

import "unsafe"

// ReadBytes copies n bytes starting at addr out of real memory.
func ReadBytes(addr uintptr, n int) []byte {
	out := make([]byte, n)
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
	copy(out, src)
	return out
}

// WriteBytes copies data into real memory starting at addr.
func WriteBytes(addr uintptr, data []byte) {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(data))
	copy(dst, data)
}

// Load reads a typed value directly from memory at addr, bypassing any
// log. Used for stack-local accesses (§4.1: accesses inside
// [stack_bottom, stack_top] bypass the logs entirely) and by the
// algorithms' own post-validation real reads.
func Load[V any](addr uintptr) V {
	return *(*V)(unsafe.Pointer(addr))
}

// Store writes a typed value directly to memory at addr, bypassing any
// log.
func Store[V any](addr uintptr, v V) {
	*(*V)(unsafe.Pointer(addr)) = v
}

// AddrOf returns the transactional address of a Go value. Transactional
// code works in uintptr so the same address-range arithmetic (orec
// indexing, slab alignment) applies uniformly to ints, floats, and
// struct fields alike.
func AddrOf[V any](v *V) uintptr {
	return uintptr(unsafe.Pointer(v))
}

// Within reports whether [addr, addr+n) lies entirely inside
// [bottom, top], the thread's current stack-frame range.
func Within(addr uintptr, n int, bottom, top uintptr) bool {
	if bottom == 0 && top == 0 {
		return false
	}
	end := addr + uintptr(n)
	return addr >= bottom && end <= top
}

// Package redolog implements the Slab-BST: an unbalanced binary search
// tree, keyed by 64-byte-aligned address, of 64-byte payload slabs with a
// parallel live-byte bitmask. It is the write set shared by ML-Lazy and
// NOrec. Nodes and slabs live in flat, doubling-growth pools addressed by
// integer index rather than pointer, so the structure is non-cyclic and
// trivially movable — grounded on both the original `libitm_norec/bst.h`
// pool design and the teacher's `server/mvcc/backend.bucketBuffer`, which
// grows the same way for the same reason (avoid holding pointers into a
// slice that might be reallocated).
package redolog

import (
	"errors"
	"unsafe"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// SlabSize is the payload width of one slab, and therefore the widest
// single value the redo log can hold without the caller splitting the
// write across slabs.
const SlabSize = 64

const slabMask = SlabSize - 1

const initialPoolSize = 1024

// ErrCrossesSlabBoundary is returned when a single value's byte range
// would straddle two 64-byte-aligned slabs. Per spec, callers are
// expected to iterate byte-by-byte across such boundaries rather than
// have the redo log silently split the write.
var ErrCrossesSlabBoundary = errors.New("redolog: value crosses a 64-byte slab boundary")

const noChild = -1

type node struct {
	left, right int
	key         uintptr
	mask        uint64
}

// Tree is one thread's redo log: single-threaded by construction (only
// its owning transaction ever touches it), so it needs no synchronization
// of its own.
type Tree struct {
	nodes    []node
	slabs    [][SlabSize]byte
	rootIdx  int
	poolNext int
	lg       *zap.Logger
}

// New returns an empty Slab-BST with its pools pre-sized.
func New(lg *zap.Logger) *Tree {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Tree{
		nodes:   make([]node, initialPoolSize),
		slabs:   make([][SlabSize]byte, initialPoolSize),
		rootIdx: noChild,
		lg:      lg,
	}
}

// IsEmpty reports whether the tree currently has no reserved slabs.
func (t *Tree) IsEmpty() bool { return t.poolNext == 0 }

// Reset discards all entries without freeing pool capacity, per spec
// "After reset, isEmpty() is true and no memory is freed".
func (t *Tree) Reset() {
	t.rootIdx = noChild
	t.poolNext = 0
}

// Slabcount reports how many slabs are currently reserved.
func (t *Tree) Slabcount() int { return t.poolNext }

// GetKey returns the aligned base address of the i'th reserved slab.
func (t *Tree) GetKey(i int) uintptr { return t.nodes[i].key }

// GetMask returns the live-byte bitmask of the i'th reserved slab.
func (t *Tree) GetMask(i int) uint64 { return t.nodes[i].mask }

// WillReorg reports whether reserving the next new slab will trigger a
// pool growth,
// letting a caller that cares about allocation pauses plan around it.
func (t *Tree) WillReorg() bool { return t.poolNext == len(t.nodes) }

func slabKeyOffset(addr uintptr) (key uintptr, offset int) {
	key = addr &^ uintptr(slabMask)
	offset = int(addr & slabMask)
	return
}

func liveMask(offset, size int) uint64 {
	var m uint64
	for i := offset; i < offset+size; i++ {
		m |= 1 << uint(i)
	}
	return m
}

// lookup walks the tree for key without inserting, returning the node
// index and whether it was found.
func (t *Tree) lookup(key uintptr) (int, bool) {
	cur := t.rootIdx
	for cur != noChild {
		n := &t.nodes[cur]
		switch {
		case key == n.key:
			return cur, true
		case key < n.key:
			cur = n.left
		default:
			cur = n.right
		}
	}
	return noChild, false
}

// reserve returns the index of the node for key, creating and inserting
// one if absent.
func (t *Tree) reserve(key uintptr) int {
	if t.rootIdx == noChild {
		idx := t.allocNode(key)
		t.rootIdx = idx
		return idx
	}
	cur := t.rootIdx
	for {
		n := &t.nodes[cur]
		switch {
		case key == n.key:
			return cur
		case key < n.key:
			if n.left == noChild {
				idx := t.allocNode(key)
				t.nodes[cur].left = idx
				return idx
			}
			cur = n.left
		default:
			if n.right == noChild {
				idx := t.allocNode(key)
				t.nodes[cur].right = idx
				return idx
			}
			cur = n.right
		}
	}
}

func (t *Tree) allocNode(key uintptr) int {
	if t.poolNext == len(t.nodes) {
		t.grow()
	}
	idx := t.poolNext
	t.poolNext++
	t.nodes[idx] = node{left: noChild, right: noChild, key: key}
	t.slabs[idx] = [SlabSize]byte{}
	return idx
}

func (t *Tree) grow() {
	oldCap := len(t.nodes)
	newCap := oldCap * 2
	if newCap == 0 {
		newCap = initialPoolSize
	}

	nodes := make([]node, newCap)
	copy(nodes, t.nodes)
	t.nodes = nodes

	slabs := make([][SlabSize]byte, newCap)
	copy(slabs, t.slabs)
	t.slabs = slabs

	entrySize := uint64(unsafe.Sizeof(node{}) + SlabSize)
	t.lg.Debug("redo log pool grown",
		zap.String("from", humanize.Bytes(uint64(oldCap)*entrySize)),
		zap.String("to", humanize.Bytes(uint64(newCap)*entrySize)),
	)
}

// InsertBytes buffers data at addr, OR-ing the corresponding bits into
// the slab's live mask. data must fit within a single 64-byte slab.
func (t *Tree) InsertBytes(addr uintptr, data []byte) error {
	key, off := slabKeyOffset(addr)
	if off+len(data) > SlabSize {
		return ErrCrossesSlabBoundary
	}
	idx := t.reserve(key)
	copy(t.slabs[idx][off:off+len(data)], data)
	t.nodes[idx].mask |= liveMask(off, len(data))
	return nil
}

// FindBytes reads n buffered bytes at addr, if the slab for addr exists.
// The returned mask reflects which of those n bytes are actually live;
// callers that need full coverage must check mask against the full span
// themselves (e.g. (1<<n)-1 shifted to offset).
func (t *Tree) FindBytes(addr uintptr, n int) (data []byte, mask uint64, found bool) {
	key, off := slabKeyOffset(addr)
	idx, ok := t.lookup(key)
	if !ok {
		return nil, 0, false
	}
	if off+n > SlabSize {
		n = SlabSize - off
	}
	out := make([]byte, n)
	copy(out, t.slabs[idx][off:off+n])
	span := liveMask(off, n)
	return out, t.nodes[idx].mask & span, true
}

// FindAddr reports whether any slab covers addr's aligned base,
// regardless of which bytes within it are live.
func (t *Tree) FindAddr(addr uintptr) bool {
	key, _ := slabKeyOffset(addr)
	_, ok := t.lookup(key)
	return ok
}

// RemoveBytes clears the live bits for the n bytes at addr, logically
// forgetting that range was buffered (the node itself is never removed
// from the tree; only its mask is narrowed). Returns the bytes and mask
// observed before clearing.
func (t *Tree) RemoveBytes(addr uintptr, n int) (data []byte, mask uint64, found bool) {
	key, off := slabKeyOffset(addr)
	idx, ok := t.lookup(key)
	if !ok {
		return nil, 0, false
	}
	if off+n > SlabSize {
		n = SlabSize - off
	}
	out := make([]byte, n)
	copy(out, t.slabs[idx][off:off+n])
	span := liveMask(off, n)
	observed := t.nodes[idx].mask & span
	t.nodes[idx].mask &^= span
	return out, observed, true
}

// InsertSplit buffers data at addr, splitting the write at slab
// boundaries instead of rejecting it, for memtransfer/memset-style bulk
// writers that span more than one slab. Each chunk individually obeys
// the "never crosses a slab boundary" invariant.
func (t *Tree) InsertSplit(addr uintptr, data []byte) {
	for len(data) > 0 {
		_, off := slabKeyOffset(addr)
		avail := SlabSize - off
		n := avail
		if n > len(data) {
			n = len(data)
		}
		_ = t.InsertBytes(addr, data[:n])
		data = data[n:]
		addr += uintptr(n)
	}
}

// FindSplit reads n bytes starting at addr, gathering across slab
// boundaries if necessary. ok is false if any covered slab is entirely
// absent; fullyLive is false if a covered slab exists but some of the
// requested bytes were never buffered.
func (t *Tree) FindSplit(addr uintptr, n int) (data []byte, fullyLive, ok bool) {
	out := make([]byte, 0, n)
	fullyLive = true
	cur := addr
	remaining := n
	for remaining > 0 {
		_, off := slabKeyOffset(cur)
		avail := SlabSize - off
		chunk := avail
		if chunk > remaining {
			chunk = remaining
		}
		chunkData, mask, found := t.FindBytes(cur, chunk)
		if !found {
			return nil, false, false
		}
		if mask != liveMask(off, chunk) {
			fullyLive = false
		}
		out = append(out, chunkData...)
		cur += uintptr(chunk)
		remaining -= chunk
	}
	return out, fullyLive, true
}

// Insert buffers a typed value at addr.
func Insert[V any](t *Tree, addr uintptr, v V) error {
	return t.InsertBytes(addr, bytesOf(&v))
}

// Find reads a typed value buffered at addr. ok is false if no slab
// covers addr at all. Bit i of the returned mask is set when byte i of
// the value is live, so every byte is live exactly when mask equals
// (1<<sizeof(V))-1.
func Find[V any](t *Tree, addr uintptr) (v V, mask uint64, ok bool) {
	size := int(unsafe.Sizeof(v))
	data, mask, found := t.FindBytes(addr, size)
	if !found {
		return v, 0, false
	}
	_, off := slabKeyOffset(addr)
	copy(bytesOf(&v), data)
	return v, mask >> uint(off), true
}

// Remove clears the live bits for a typed value buffered at addr. The
// returned mask is the value-relative live mask observed before
// clearing, in the same form Find returns.
func Remove[V any](t *Tree, addr uintptr) (v V, mask uint64, ok bool) {
	size := int(unsafe.Sizeof(v))
	data, mask, found := t.RemoveBytes(addr, size)
	if !found {
		return v, 0, false
	}
	_, off := slabKeyOffset(addr)
	copy(bytesOf(&v), data)
	return v, mask >> uint(off), true
}

func bytesOf[V any](v *V) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(unsafe.Sizeof(*v)))
}

// Writeback replays every live byte of every reserved slab to its real
// address. Four contiguous live bytes aligned to a 4-byte boundary are
// written as one 32-bit word, matching the original's optimization; all
// other live bytes are written individually.
func (t *Tree) Writeback() {
	for i := 0; i < t.poolNext; i++ {
		n := &t.nodes[i]
		if n.mask == 0 {
			continue
		}
		base := n.key
		mask := n.mask
		for off := 0; off < SlabSize; {
			if off%4 == 0 && off+4 <= SlabSize && mask&(0xF<<uint(off)) == 0xF<<uint(off) {
				word := *(*uint32)(unsafe.Pointer(&t.slabs[i][off]))
				dst := (*uint32)(unsafe.Pointer(base + uintptr(off)))
				*dst = word
				off += 4
				continue
			}
			if mask&(1<<uint(off)) != 0 {
				*(*byte)(unsafe.Pointer(base + uintptr(off))) = t.slabs[i][off]
			}
			off++
		}
	}
}

package vm

import (
	"fmt"
	"sort"
)

// span is a single free interval [begin, end) in the backing buffer. It is
// shared, by pointer, between the address-ordered doubly-linked list and the
// size-ordered index — both structures mutate the same node rather than
// keeping independent copies, so a coalesce or split only ever touches one
// object.
type span struct {
	begin, end uint64
	prev, next *span
}

func (s *span) length() uint64 { return s.end - s.begin }

// freeList is the dual-index free-span allocator backing both the stack and
// heap regions of a VM's memory buffer (spec §4.2). Grounded on
// original_source/virtual_environment.h's ve_memory, with the coalescing
// logic — a no-op stub in that source — actually implemented, and the
// free() range check corrected to half-open [begin,end) (spec §9 item 3).
type freeList struct {
	size uint64

	addrHead *span   // address-ordered doubly-linked list, sorted ascending by begin
	bySize   []*span // size-ordered index, ascending by length(); binary-searched for best-fit
}

func newFreeList(size uint64) *freeList {
	root := &span{begin: 0, end: size}
	return &freeList{size: size, addrHead: root, bySize: []*span{root}}
}

// sizeIndexOf returns the position of s within bySize (it is always present
// while s remains free).
func (f *freeList) sizeIndexOf(s *span) int {
	// bySize is sorted by length ascending; several spans may share a length,
	// so scan the equal-length run for the matching pointer.
	n := len(f.bySize)
	i := sort.Search(n, func(i int) bool { return f.bySize[i].length() >= s.length() })
	for ; i < n && f.bySize[i].length() == s.length(); i++ {
		if f.bySize[i] == s {
			return i
		}
	}
	return -1
}

func (f *freeList) removeFromSizeIndex(s *span) {
	i := f.sizeIndexOf(s)
	if i < 0 {
		return
	}
	f.bySize = append(f.bySize[:i], f.bySize[i+1:]...)
}

func (f *freeList) insertIntoSizeIndex(s *span) {
	n := len(f.bySize)
	i := sort.Search(n, func(i int) bool { return f.bySize[i].length() >= s.length() })
	f.bySize = append(f.bySize, nil)
	copy(f.bySize[i+1:], f.bySize[i:])
	f.bySize[i] = s
}

func (f *freeList) unlinkFromAddrList(s *span) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		f.addrHead = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.prev, s.next = nil, nil
}

// alloc finds the smallest free span whose length is >= size (best-fit),
// splits it, and returns the allocated half-open range. ok is false if no
// span is large enough.
func (f *freeList) alloc(size uint64) (begin, end uint64, ok bool) {
	if size == 0 {
		return 0, 0, false
	}
	n := len(f.bySize)
	i := sort.Search(n, func(i int) bool { return f.bySize[i].length() >= size })
	if i == n {
		return 0, 0, false
	}
	s := f.bySize[i]
	begin, end = s.begin, s.begin+size

	f.removeFromSizeIndex(s)
	if s.end > end {
		// Shrink in place: same node stays in the address list at its new,
		// smaller extent, and is reinserted into the size index.
		s.begin = end
		f.insertIntoSizeIndex(s)
	} else {
		f.unlinkFromAddrList(s)
	}
	return begin, end, true
}

// free returns [begin,end) to the pool, coalescing with any adjacent free
// span sharing an endpoint. Range violations or already-free regions are
// reported as an error rather than corrupting the indices.
func (f *freeList) free(begin, end uint64) error {
	if begin > end {
		begin, end = end, begin
	}
	if end > f.size || begin == end {
		return fmt.Errorf("rvm: free range [%d,%d) out of bounds [0,%d)", begin, end, f.size)
	}

	// Find the insertion point in address order, and detect overlap with an
	// existing free span (a double-free or a range that was never
	// allocated as a single contiguous unit).
	var pred, succ *span
	for cur := f.addrHead; cur != nil; cur = cur.next {
		if cur.begin >= end {
			succ = cur
			break
		}
		pred = cur
	}
	if pred != nil && pred.end > begin {
		return fmt.Errorf("rvm: free range [%d,%d) overlaps free span [%d,%d)", begin, end, pred.begin, pred.end)
	}
	if succ != nil && succ.begin < end {
		return fmt.Errorf("rvm: free range [%d,%d) overlaps free span [%d,%d)", begin, end, succ.begin, succ.end)
	}

	mergeLeft := pred != nil && pred.end == begin
	mergeRight := succ != nil && succ.begin == end

	switch {
	case mergeLeft && mergeRight:
		// Absorb succ into pred, then drop succ entirely.
		f.removeFromSizeIndex(pred)
		f.removeFromSizeIndex(succ)
		pred.end = succ.end
		f.unlinkFromAddrList(succ)
		f.insertIntoSizeIndex(pred)
	case mergeLeft:
		f.removeFromSizeIndex(pred)
		pred.end = end
		f.insertIntoSizeIndex(pred)
	case mergeRight:
		f.removeFromSizeIndex(succ)
		succ.begin = begin
		f.insertIntoSizeIndex(succ)
	default:
		n := &span{begin: begin, end: end, prev: pred, next: succ}
		if pred != nil {
			pred.next = n
		} else {
			f.addrHead = n
		}
		if succ != nil {
			succ.prev = n
		}
		f.insertIntoSizeIndex(n)
	}
	return nil
}

// freeSpans returns the address-ordered free spans as (begin,end) pairs, for
// testing the free-list invariant (spec §8 property 4).
func (f *freeList) freeSpans() [][2]uint64 {
	var out [][2]uint64
	for cur := f.addrHead; cur != nil; cur = cur.next {
		out = append(out, [2]uint64{cur.begin, cur.end})
	}
	return out
}

// Memory is the VM's managed linear buffer: a single backing byte slice
// carved, at construction, into a stack region and a heap region by a single
// free-list allocator (spec §3/§4.2) — mirroring how original_source's
// virtual_environment carves both regions out of one ve_memory pool via two
// allocMemChunk calls. Per-variable heap slots are a separate, simpler
// bump allocation owned by the compiler's memory map (ir.go), not by this
// free-list; the free-list's general alloc/free is exercised directly by
// tests of the allocator component itself (spec §8 S5) as well as here.
type Memory struct {
	data []byte
	pool *freeList

	stackBase, stackLen uint64
	heapBase, heapLen   uint64
}

// NewMemory allocates a backing buffer of stackSize+heapSize bytes and
// carves a stack region followed by a heap region from it.
func NewMemory(stackSize, heapSize uint64) (*Memory, error) {
	total := stackSize + heapSize
	pool := newFreeList(total)

	sb, se, ok := pool.alloc(stackSize)
	if !ok {
		return nil, fmt.Errorf("rvm: cannot reserve %d-byte stack region", stackSize)
	}
	hb, he, ok := pool.alloc(heapSize)
	if !ok {
		return nil, fmt.Errorf("rvm: cannot reserve %d-byte heap region", heapSize)
	}

	return &Memory{
		data:      make([]byte, total),
		pool:      pool,
		stackBase: sb, stackLen: se - sb,
		heapBase: hb, heapLen: he - hb,
	}, nil
}

func (m *Memory) StackSize() uint64 { return m.stackLen }
func (m *Memory) HeapSize() uint64  { return m.heapLen }

// ReadHeap/WriteHeap and ReadStack/WriteStack read/write Width bytes,
// big-endian, at a region-relative offset.
func (m *Memory) ReadHeap(offset uint64, w Width) (Value, error) {
	return m.read(m.heapBase+offset, w, m.heapBase, m.heapLen)
}

func (m *Memory) WriteHeap(offset uint64, v Value) error {
	return m.write(m.heapBase+offset, v, m.heapBase, m.heapLen)
}

func (m *Memory) ReadStack(offset uint64, w Width) (Value, error) {
	return m.read(m.stackBase+offset, w, m.stackBase, m.stackLen)
}

func (m *Memory) WriteStack(offset uint64, v Value) error {
	return m.write(m.stackBase+offset, v, m.stackBase, m.stackLen)
}

func (m *Memory) read(abs uint64, w Width, base, regionSize uint64) (Value, error) {
	if abs < base || abs+uint64(w) > base+regionSize {
		return Value{}, ErrSegmentationFault
	}
	return Unpack(m.data[abs:abs+uint64(w)], w)
}

func (m *Memory) write(abs uint64, v Value, base, regionSize uint64) error {
	if abs < base || abs+uint64(v.Width) > base+regionSize {
		return ErrSegmentationFault
	}
	packInto(m.data[abs:abs+uint64(v.Width)], v)
	return nil
}

// Bytes exposes the raw backing buffer for debug dumps and tests.
func (m *Memory) Bytes() []byte { return m.data }

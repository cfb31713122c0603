package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFreeListAllocFreeFragmentation exercises the allocator scenario of
// spec §8 S5: alloc several spans, free them in scattered order, verify
// coalescing reassembles the pool, and confirm a larger allocation than any
// single freed span can be satisfied only after adjacent spans merge.
func TestFreeListAllocFreeFragmentation(t *testing.T) {
	f := newFreeList(100)

	b1, e1, ok := f.alloc(10)
	require.True(t, ok)
	require.Equal(t, uint64(0), b1)
	require.Equal(t, uint64(10), e1)

	b2, e2, ok := f.alloc(10)
	require.True(t, ok)
	require.Equal(t, uint64(10), b2)
	require.Equal(t, uint64(20), e2)

	b3, e3, ok := f.alloc(10)
	require.True(t, ok)
	require.Equal(t, uint64(20), b3)
	require.Equal(t, uint64(30), e3)

	// One 70-byte span remains free: [30,100).
	require.Equal(t, [][2]uint64{{30, 100}}, f.freeSpans())

	// Freeing the three in a scattered order must still coalesce them with
	// the tail span back into a single [0,100) span.
	require.NoError(t, f.free(b2, e2))
	require.NoError(t, f.free(b1, e1))
	require.NoError(t, f.free(b3, e3))

	require.Equal(t, [][2]uint64{{0, 100}}, f.freeSpans())

	// A request larger than any individually-freed span but within the
	// coalesced total must now succeed.
	_, _, ok = f.alloc(95)
	require.True(t, ok)
}

func TestFreeListAllocExactFit(t *testing.T) {
	f := newFreeList(16)
	b, e, ok := f.alloc(16)
	require.True(t, ok)
	require.Equal(t, uint64(0), b)
	require.Equal(t, uint64(16), e)
	require.Empty(t, f.freeSpans())

	_, _, ok = f.alloc(1)
	require.False(t, ok, "pool is exhausted")
}

func TestFreeListDoubleFreeRejected(t *testing.T) {
	f := newFreeList(16)
	b, e, ok := f.alloc(8)
	require.True(t, ok)
	require.NoError(t, f.free(b, e))
	require.Error(t, f.free(b, e), "freeing an already-free range must fail")
}

func TestMemoryRegionIsolation(t *testing.T) {
	mem, err := NewMemory(16, 16)
	require.NoError(t, err)

	require.NoError(t, mem.WriteHeap(0, NewValue(W4, 0x11223344)))
	v, err := mem.ReadHeap(0, W4)
	require.NoError(t, err)
	require.Equal(t, int64(0x11223344), v.Get())

	require.NoError(t, mem.WriteStack(0, NewValue(W4, 77)))
	sv, err := mem.ReadStack(0, W4)
	require.NoError(t, err)
	require.Equal(t, int64(77), sv.Get())

	// The stack write at offset 0 must not be visible through the heap region.
	hv, err := mem.ReadHeap(0, W4)
	require.NoError(t, err)
	require.Equal(t, int64(0x11223344), hv.Get())

	_, err = mem.ReadHeap(mem.HeapSize()-1, W4)
	require.Error(t, err, "read spanning past the heap region must fault")
}

package vm

import (
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestValuePackUnpackRoundTrip(t *testing.T) {
	for _, w := range []Width{W1, W2, W4, W8} {
		for _, n := range []int64{0, 1, -1, 42, -42} {
			v := NewValue(w, n)
			buf := Pack(v)
			assert(t, len(buf) == int(w), "packed length = %d, want %d", len(buf), w)

			got, err := Unpack(buf, w)
			assert(t, err == nil, "unpack failed: %s", err)
			assert(t, got.Get() == v.Get(), "round trip: got %d, want %d (width %s)", got.Get(), v.Get(), w)
		}
	}
}

func TestValueTruncation(t *testing.T) {
	v := NewValue(W1, 300) // 300 = 0x012C; low byte 0x2C = 44
	assert(t, v.Get() == 44, "truncated to B1: got %d, want 44", v.Get())

	v = NewValue(W1, -1)
	assert(t, v.Get() == -1, "sign-extended -1 in B1: got %d", v.Get())
	assert(t, v.GetUnsigned() == 0xFF, "unsigned view of -1 in B1: got %x", v.GetUnsigned())
}

func TestUnpackShortBuffer(t *testing.T) {
	_, err := Unpack([]byte{0x01, 0x02}, W4)
	assert(t, err != nil, "expected error unpacking short buffer")
}

func TestWidthTagRoundTrip(t *testing.T) {
	for _, w := range []Width{W1, W2, W4, W8} {
		assert(t, widthFromTag(w.tag()) == w, "tag round trip failed for %s", w)
	}
}

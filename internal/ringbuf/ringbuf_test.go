package ringbuf

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(8)
	if err := b.WriteFrom([]byte("abcd"), 0, 4); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b.UsedCapacity() != 4 || b.RemainingCapacity() != 4 {
		t.Fatalf("unexpected capacity: used=%d remaining=%d", b.UsedCapacity(), b.RemainingCapacity())
	}
	out := make([]byte, 4)
	if err := b.ReadInto(out, 0, 4); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(out, []byte("abcd")) {
		t.Fatalf("got %q", out)
	}
	if b.UsedCapacity() != 0 || b.RemainingCapacity() != 8 {
		t.Fatalf("expected empty ring, used=%d remaining=%d", b.UsedCapacity(), b.RemainingCapacity())
	}
}

func TestWraparound(t *testing.T) {
	b := New(4)
	// Write, drain, then write again so the write wraps.
	if err := b.WriteFrom([]byte("ab"), 0, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Shift(2); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteFrom([]byte("cdef"), 0, 4); err != nil {
		t.Fatalf("wrap write: %v", err)
	}
	if got := b.RawBuffer(); string(got) != "cdef" {
		t.Fatalf("got %q", got)
	}
}

func TestUnshiftAcrossBoundary(t *testing.T) {
	b := New(4)
	// Leave the read pointer at index 1 so unshifting two bytes wraps it
	// backwards across index 0 to the end of the backing array.
	if err := b.WriteFrom([]byte("c"), 0, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Shift(1); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteFrom([]byte("ef"), 0, 2); err != nil {
		t.Fatal(err)
	}
	if err := b.Unshift([]byte("ab"), 0, 2); err != nil {
		t.Fatalf("unshift: %v", err)
	}
	out, err := b.Shift(4)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "abef" {
		t.Fatalf("got %q, want abef", out)
	}
}

func TestOverflowUnderflow(t *testing.T) {
	b := New(2)
	if err := b.WriteFrom([]byte("abc"), 0, 3); err == nil {
		t.Fatal("expected overflow")
	}
	if err := b.ReadInto(make([]byte, 1), 0, 1); err == nil {
		t.Fatal("expected underflow")
	}
}

func TestInvariantHolds(t *testing.T) {
	b := New(16)
	for i := 0; i < 100; i++ {
		if err := b.WriteFrom([]byte("0123456"), 0, 7); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if _, err := b.Shift(7); err != nil {
			t.Fatalf("shift %d: %v", i, err)
		}
		if b.UsedCapacity()+b.RemainingCapacity() != b.MaxCapacity() {
			t.Fatalf("invariant broken at iter %d", i)
		}
	}
}

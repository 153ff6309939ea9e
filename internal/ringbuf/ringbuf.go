// Package ringbuf implements a fixed-capacity ring buffer used by the
// streaming ANS-104 parser for bounded header lookahead. It never grows: the
// backing array is sized once for the largest header field the parser
// expects and is reused across every data item to avoid allocation churn.
package ringbuf

import "github.com/ardriveapp/turbo-upload-core/internal/errs"

// Buffer is a byte ring over a preallocated array. All operations are O(n)
// in the number of bytes moved. It is not safe for concurrent use; callers
// that share a Buffer across goroutines must synchronize externally.
type Buffer struct {
	buf   []byte
	start int // index of the oldest unread byte
	used  int // number of valid bytes currently held
}

// New allocates a Buffer with the given maximum capacity. maxCapacity must
// be >= 1.
func New(maxCapacity int) *Buffer {
	if maxCapacity < 1 {
		maxCapacity = 1
	}
	return &Buffer{buf: make([]byte, maxCapacity)}
}

// NewFromBacking wraps a caller-supplied backing array. Ownership of raw
// transfers to the Buffer for its lifetime; the caller must not mutate it
// afterward. len(raw) is the ring's maxCapacity.
func NewFromBacking(raw []byte) *Buffer {
	if len(raw) == 0 {
		raw = make([]byte, 1)
	}
	return &Buffer{buf: raw}
}

// MaxCapacity returns the fixed capacity of the ring.
func (b *Buffer) MaxCapacity() int { return len(b.buf) }

// UsedCapacity returns the number of bytes currently held.
func (b *Buffer) UsedCapacity() int { return b.used }

// RemainingCapacity returns how many more bytes can be written before
// Overflow.
func (b *Buffer) RemainingCapacity() int { return len(b.buf) - b.used }

// WriteFrom copies n bytes from src[srcOffset:] into the ring, advancing the
// write position. If n < 0, it defaults to len(src)-srcOffset. Returns
// errs.ErrOverflow if n exceeds RemainingCapacity.
func (b *Buffer) WriteFrom(src []byte, srcOffset int, n int) error {
	if n < 0 {
		n = len(src) - srcOffset
	}
	if n == 0 {
		return nil
	}
	if n > b.RemainingCapacity() {
		return errs.ErrOverflow
	}
	cap := len(b.buf)
	writeAt := (b.start + b.used) % cap
	tail := cap - writeAt
	if n <= tail {
		copy(b.buf[writeAt:writeAt+n], src[srcOffset:srcOffset+n])
	} else {
		copy(b.buf[writeAt:cap], src[srcOffset:srcOffset+tail])
		copy(b.buf[0:n-tail], src[srcOffset+tail:srcOffset+n])
	}
	b.used += n
	return nil
}

// ReadInto copies n bytes from the ring into dst[dstOffset:], advancing the
// read position (consuming them). Returns errs.ErrUnderflow if n exceeds
// UsedCapacity.
func (b *Buffer) ReadInto(dst []byte, dstOffset int, n int) error {
	if n == 0 {
		return nil
	}
	if n > b.used {
		return errs.ErrUnderflow
	}
	cap := len(b.buf)
	tail := cap - b.start
	if n <= tail {
		copy(dst[dstOffset:dstOffset+n], b.buf[b.start:b.start+n])
	} else {
		copy(dst[dstOffset:dstOffset+tail], b.buf[b.start:cap])
		copy(dst[dstOffset+tail:dstOffset+n], b.buf[0:n-tail])
	}
	b.start = (b.start + n) % cap
	b.used -= n
	return nil
}

// Shift removes and returns the oldest n bytes as a freshly allocated slice.
// Returns errs.ErrUnderflow if n exceeds UsedCapacity.
func (b *Buffer) Shift(n int) ([]byte, error) {
	out := make([]byte, n)
	if err := b.ReadInto(out, 0, n); err != nil {
		return nil, err
	}
	return out, nil
}

// Unshift pushes n bytes from src[srcOffset:] back onto the front of the
// ring (i.e. they will be the next bytes read). It extends the read pointer
// backwards with the same two-copy discipline as WriteFrom. Returns
// errs.ErrOverflow if n exceeds RemainingCapacity.
func (b *Buffer) Unshift(src []byte, srcOffset int, n int) error {
	if n < 0 {
		n = len(src) - srcOffset
	}
	if n == 0 {
		return nil
	}
	if n > b.RemainingCapacity() {
		return errs.ErrOverflow
	}
	cap := len(b.buf)
	newStart := ((b.start-n)%cap + cap) % cap
	tail := cap - newStart
	if n <= tail {
		copy(b.buf[newStart:newStart+n], src[srcOffset:srcOffset+n])
	} else {
		copy(b.buf[newStart:cap], src[srcOffset:srcOffset+tail])
		copy(b.buf[0:n-tail], src[srcOffset+tail:srcOffset+n])
	}
	b.start = newStart
	b.used += n
	return nil
}

// RawBuffer returns a linear snapshot of the used bytes in logical order.
// The returned slice is a copy; mutating it does not affect the ring.
func (b *Buffer) RawBuffer() []byte {
	out := make([]byte, b.used)
	cap := len(b.buf)
	tail := cap - b.start
	if b.used <= tail {
		copy(out, b.buf[b.start:b.start+b.used])
	} else {
		copy(out, b.buf[b.start:cap])
		copy(out[tail:], b.buf[0:b.used-tail])
	}
	return out
}

func (b *Buffer) String() string {
	return string(b.RawBuffer())
}

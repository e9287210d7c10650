// growable byte container used for request, header and in-memory body storage
package buffer

import (
	"errors"
	"fmt"
	"math"
)

// Growth is the minimal number of bytes added on every grow
const Growth = 4096

// ErrTooLarge is returned when an append would push the buffer past its limit
var ErrTooLarge = errors.New("buffer: too large")

// Buffer owns a contiguous byte region.
// len(data) is the used length, cap(data) the allocated capacity; capacity never shrinks.
type Buffer struct {
	data  []byte
	limit int // 0 means no limit
}

// New allocates a buffer with size bytes of capacity and no limit.
func New(size int) *Buffer {
	return &Buffer{data: make([]byte, 0, size)}
}

// NewLimited allocates a buffer that refuses to hold more than limit bytes.
func NewLimited(size, limit int) *Buffer {
	if limit > 0 && size > limit {
		size = limit
	}
	return &Buffer{data: make([]byte, 0, size), limit: limit}
}

func (b *Buffer) Len() int      { return len(b.data) }
func (b *Buffer) Cap() int      { return cap(b.data) }
func (b *Buffer) Limit() int    { return b.limit }
func (b *Buffer) Bytes() []byte { return b.data }
func (b *Buffer) String() string {
	return string(b.data)
}

// Full reports whether a limited buffer has no room left.
func (b *Buffer) Full() bool {
	return b.limit > 0 && len(b.data) >= b.limit
}

// Grow makes room for at least n more bytes.
// new capacity = old capacity + max(n, Growth), clamped to the limit.
func (b *Buffer) Grow(n int) error {
	if n <= 0 {
		return nil
	}
	if n > math.MaxInt-len(b.data) {
		return ErrTooLarge
	}
	need := len(b.data) + n
	if b.limit > 0 && need > b.limit {
		return ErrTooLarge
	}
	if need <= cap(b.data) {
		return nil
	}

	step := max(n, Growth)
	if step > math.MaxInt-cap(b.data) {
		return ErrTooLarge
	}
	size := cap(b.data) + step
	if b.limit > 0 && size > b.limit {
		size = b.limit
	}

	grown := make([]byte, len(b.data), size)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// Push appends one byte.
func (b *Buffer) Push(c byte) error {
	if err := b.Grow(1); err != nil {
		return err
	}
	b.data = append(b.data, c)
	return nil
}

// Append appends p, growing the buffer if needed.
func (b *Buffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := b.Grow(len(p)); err != nil {
		return err
	}
	b.data = append(b.data, p...)
	return nil
}

func (b *Buffer) AppendString(s string) error {
	if len(s) == 0 {
		return nil
	}
	if err := b.Grow(len(s)); err != nil {
		return err
	}
	b.data = append(b.data, s...)
	return nil
}

// Appendf appends formatted text and returns the number of bytes added.
func (b *Buffer) Appendf(format string, args ...any) (int, error) {
	tmp := fmt.Appendf(nil, format, args...)
	if err := b.Append(tmp); err != nil {
		return 0, err
	}
	return len(tmp), nil
}

// Write implements io.Writer so templates and fmt.Fprintf can render into the buffer.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.Append(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Spare returns the unused tail of the allocation, growing first if it is empty.
// Callers fill it and commit with Advance.
func (b *Buffer) Spare() ([]byte, error) {
	if b.Full() {
		return nil, ErrTooLarge
	}
	if len(b.data) == cap(b.data) {
		n := Growth
		if b.limit > 0 {
			n = min(n, b.limit-len(b.data))
		}
		if err := b.Grow(n); err != nil {
			return nil, err
		}
	}
	return b.data[len(b.data):cap(b.data)], nil
}

// Advance commits n bytes previously written into Spare.
func (b *Buffer) Advance(n int) {
	b.data = b.data[:len(b.data)+n]
}

// Reset drops the content and keeps the allocation.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

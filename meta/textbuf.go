package meta

import (
	"fmt"
)

// textBuffer accumulates text up to a fixed capacity. The capacity counts the terminating
// NUL the kernel interface expects, so the content is always shorter than the capacity.
// A write that does not fit fails without changing the buffer.
type textBuffer struct {
	buf      []byte
	capacity int
}

func newTextBuffer(capacity int) *textBuffer {
	return &textBuffer{
		buf:      make([]byte, 0, capacity),
		capacity: capacity,
	}
}

func (b *textBuffer) Write(p []byte) (int, error) {
	if len(b.buf)+len(p) >= b.capacity {
		return 0, fmt.Errorf("%w: %d bytes do not fit, %d of %d used", ErrCapacity, len(p), len(b.buf), b.capacity)
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *textBuffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// Printf formats into a scratch string first and appends it only if it fits.
func (b *textBuffer) Printf(format string, args ...any) error {
	_, err := b.WriteString(fmt.Sprintf(format, args...))
	return err
}

func (b *textBuffer) Len() int {
	return len(b.buf)
}

func (b *textBuffer) String() string {
	return string(b.buf)
}

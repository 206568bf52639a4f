package protocol

import (
	"encoding/binary"
)

// cursor reads big-endian values from a DSR payload. The first read past the end
// latches ErrTruncatedRecord; later reads return zero.
type cursor struct {
	buf []byte
	off int
	err error
}

func newCursor(b []byte) *cursor {
	return &cursor{buf: b}
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.off+n > len(c.buf) {
		c.err = ErrTruncatedRecord
		return nil
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) skip(n int) {
	c.take(n)
}

func (c *cursor) u8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) u16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (c *cursor) u32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (c *cursor) u64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// uint reads an unsigned integer of the given byte width.
func (c *cursor) uint(width int) uint64 {
	switch width {
	case 1:
		return uint64(c.u8())
	case 2:
		return uint64(c.u16())
	case 4:
		return uint64(c.u32())
	case 8:
		return c.u64()
	}
	c.err = ErrTruncatedRecord
	return 0
}

func (c *cursor) copyTo(dst []byte) {
	b := c.take(len(dst))
	if b != nil {
		copy(dst, b)
	}
}

// writer appends big-endian values to a byte slice.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) uint(width int, v uint64) {
	switch width {
	case 1:
		w.u8(uint8(v))
	case 2:
		w.u16(uint16(v))
	case 4:
		w.u32(uint32(v))
	default:
		w.u64(v)
	}
}

// pad appends zero bytes up to the next word boundary measured from start.
func (w *writer) pad(start int) int {
	n := 0
	for (len(w.buf)-start)%4 != 0 {
		w.buf = append(w.buf, 0)
		n++
	}
	return n
}

// Package wirefile reads and writes files of back-to-back wire records. Each
// record is framed by the length in its own header.
package wirefile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"Go2FlowSpectra/internal/engine/protocol"
)

// Reader reads records from a stream.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	buf    []byte
	offset int64
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Open opens a record file for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd := NewReader(f)
	rd.closer = f
	return rd, nil
}

// Close closes the underlying file, if the reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Offset returns the byte offset of the next record.
func (r *Reader) Offset() int64 { return r.offset }

// Next returns the next record. The slice is reused by the following call.
// It returns io.EOF at a clean end of stream, protocol.ErrTruncatedRecord for a
// record cut short and protocol.ErrBadLength for a header that cannot be framed.
func (r *Reader) Next() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w at offset %d", protocol.ErrTruncatedRecord, r.offset)
		}
		return nil, err
	}
	words := int(binary.BigEndian.Uint16(hdr[2:4]))
	if words < 1 {
		return nil, fmt.Errorf("%w at offset %d", protocol.ErrBadLength, r.offset)
	}

	size := words * 4
	if cap(r.buf) < size {
		r.buf = make([]byte, size)
	}
	r.buf = r.buf[:size]
	copy(r.buf, hdr[:])
	if _, err := io.ReadFull(r.r, r.buf[4:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w at offset %d", protocol.ErrTruncatedRecord, r.offset)
		}
		return nil, err
	}
	r.offset += int64(size)
	return r.buf, nil
}

// ReadAll calls fn with a copy of every record until the end of the stream.
func (r *Reader) ReadAll(fn func(rec []byte) error) error {
	for {
		buf, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(append([]byte(nil), buf...)); err != nil {
			return err
		}
	}
}

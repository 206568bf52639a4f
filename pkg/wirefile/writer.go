package wirefile

import (
	"bufio"
	"io"

	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"
)

// Writer appends encoded records to a stream.
type Writer struct {
	w   *bufio.Writer
	buf []byte
}

// NewWriter writes records to w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteRecord encodes and appends rec.
func (w *Writer) WriteRecord(rec *model.Record) error {
	var err error
	w.buf, err = protocol.AppendRecord(w.buf[:0], rec)
	if err != nil {
		return err
	}
	_, err = w.w.Write(w.buf)
	return err
}

// Flush writes any buffered data.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

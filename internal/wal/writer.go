package wal

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/checksum"
	"github.com/willzeng274/MidDB/internal/encoding"
)

// Writer appends framed records to a log file.
type Writer struct {
	dest      io.Writer
	offset    int64
	headerBuf [HeaderSize]byte
}

// NewWriter creates a writer appending to dest.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// AddRecord appends one record. The payload becomes durable only after a
// subsequent Sync.
func (w *Writer) AddRecord(payload []byte) error {
	if len(payload) > MaxRecordSize {
		return errors.Newf("wal: record of %d bytes exceeds maximum", len(payload))
	}

	encoding.EncodeFixed32(w.headerBuf[0:4], uint32(len(payload)))
	encoding.EncodeFixed32(w.headerBuf[4:8], checksum.Mask(checksum.Value(payload)))

	if _, err := w.dest.Write(w.headerBuf[:]); err != nil {
		return err
	}
	if _, err := w.dest.Write(payload); err != nil {
		return err
	}
	w.offset += HeaderSize + int64(len(payload))
	return nil
}

// Sync flushes the underlying file to stable storage.
func (w *Writer) Sync() error {
	if syncer, ok := w.dest.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 {
	return w.offset
}

package wal

import (
	"io"

	"github.com/willzeng274/MidDB/internal/checksum"
	"github.com/willzeng274/MidDB/internal/encoding"
)

// Reader streams records from a log file.
//
// In tolerant mode (the WAL), a truncated or checksum-failing record is
// treated as the end of the log: a crash may tear the final write, and
// everything before it is still good. In strict mode (the MANIFEST),
// any corruption is surfaced as an error, since damaged metadata cannot
// be trusted.
type Reader struct {
	src    io.Reader
	strict bool
	buf    []byte
	eof    bool
	offset int64
}

// NewReader creates a tolerant reader for WAL replay.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src}
}

// NewStrictReader creates a reader that fails on any corruption. Used for
// MANIFEST replay.
func NewStrictReader(src io.Reader) *Reader {
	return &Reader{src: src, strict: true}
}

// ReadRecord returns the next record payload, or io.EOF when the log is
// exhausted. The returned slice is owned by the caller.
func (r *Reader) ReadRecord() ([]byte, error) {
	var header [HeaderSize]byte
	n, err := io.ReadFull(r.src, header[:])
	if err == io.EOF {
		return nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		// Torn header at the tail.
		return nil, r.tailError(ErrTruncatedRecord)
	}
	if err != nil {
		return nil, err
	}

	length := encoding.DecodeFixed32(header[0:4])
	storedCRC := encoding.DecodeFixed32(header[4:8])
	if length > MaxRecordSize {
		return nil, r.tailError(ErrCorruptRecord)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.src, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// The record claims more bytes than the file holds.
			return nil, r.tailError(ErrTruncatedRecord)
		}
		return nil, err
	}

	if checksum.Mask(checksum.Value(payload)) != storedCRC {
		return nil, r.tailError(ErrCorruptRecord)
	}

	r.offset += int64(n) + int64(length)
	return payload, nil
}

// tailError maps corruption to io.EOF in tolerant mode.
func (r *Reader) tailError(err error) error {
	if r.strict {
		return err
	}
	r.eof = true
	return io.EOF
}

// Offset returns the byte offset just past the last good record.
func (r *Reader) Offset() int64 {
	return r.offset
}

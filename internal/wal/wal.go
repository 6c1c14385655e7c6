// Package wal implements the write-ahead log record format, which also
// carries MANIFEST records.
//
// Each record is framed as:
//
//	+-------------+--------------+---------+
//	| length (4B) | crc32c (4B)  | payload |
//	+-------------+--------------+---------+
//
// length and crc are little-endian; the crc is the masked CRC32C of the
// payload. For the WAL the payload is one write batch; for the MANIFEST it
// is one encoded version edit.
package wal

import (
	"github.com/cockroachdb/errors"
)

// HeaderSize is the per-record framing overhead.
const HeaderSize = 8

// MaxRecordSize bounds a single record payload. Records are written and
// replayed in full, so this also bounds replay memory per record.
const MaxRecordSize = 1 << 30

var (
	// ErrCorruptRecord indicates a record with a bad checksum or an
	// impossible length.
	ErrCorruptRecord = errors.New("wal: corrupted record")

	// ErrTruncatedRecord indicates a record extending past the end of the
	// log, i.e. a torn tail write.
	ErrTruncatedRecord = errors.New("wal: truncated record")
)

// Package batch implements WriteBatch, the atomic unit of the write path.
//
// A batch's wire representation is exactly the WAL record payload:
//
//	+----------------+---------------+---------+-----+---------+
//	| sequence (8B)  | count (4B)    | entry 1 | ... | entry N |
//	+----------------+---------------+---------+-----+---------+
//
//	entry (put):    [kind=1][klen:varint][key][vlen:varint][value]
//	entry (delete): [kind=0][klen:varint][key]
//
// The sequence is the number assigned to the first entry; entry i carries
// sequence+i.
package batch

import (
	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/encoding"
)

// headerSize is sequence (8) + count (4).
const headerSize = 12

// ErrCorrupt indicates a batch whose encoding cannot be decoded.
var ErrCorrupt = errors.New("batch: corrupted write batch")

// Handler receives the operations of a batch during iteration.
type Handler interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// WriteBatch collects puts and deletes to be applied atomically.
type WriteBatch struct {
	rep   []byte
	count uint32
}

// New creates an empty batch.
func New() *WriteBatch {
	wb := &WriteBatch{rep: make([]byte, headerSize, 256)}
	return wb
}

// Load wraps an encoded batch representation, validating its header and
// entries.
func Load(rep []byte) (*WriteBatch, error) {
	if len(rep) < headerSize {
		return nil, ErrCorrupt
	}
	wb := &WriteBatch{
		rep:   rep,
		count: encoding.DecodeFixed32(rep[8:12]),
	}
	// Walk the entries once so later iteration cannot fail.
	if err := wb.Iterate(discardHandler{}); err != nil {
		return nil, err
	}
	return wb, nil
}

// Put appends a put operation.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.rep = append(wb.rep, byte(dbformat.KindPut))
	wb.rep = encoding.AppendLengthPrefixedSlice(wb.rep, key)
	wb.rep = encoding.AppendLengthPrefixedSlice(wb.rep, value)
	wb.count++
	encoding.EncodeFixed32(wb.rep[8:12], wb.count)
}

// Delete appends a tombstone.
func (wb *WriteBatch) Delete(key []byte) {
	wb.rep = append(wb.rep, byte(dbformat.KindDelete))
	wb.rep = encoding.AppendLengthPrefixedSlice(wb.rep, key)
	wb.count++
	encoding.EncodeFixed32(wb.rep[8:12], wb.count)
}

// Count returns the number of entries in the batch.
func (wb *WriteBatch) Count() uint32 {
	return wb.count
}

// Sequence returns the sequence number of the first entry.
func (wb *WriteBatch) Sequence() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(encoding.DecodeFixed64(wb.rep[0:8]))
}

// SetSequence assigns the sequence number of the first entry.
func (wb *WriteBatch) SetSequence(seq dbformat.SequenceNumber) {
	encoding.EncodeFixed64(wb.rep[0:8], uint64(seq))
}

// Contents returns the wire representation. The slice aliases the batch.
func (wb *WriteBatch) Contents() []byte {
	return wb.rep
}

// ApproximateSize returns the encoded size in bytes.
func (wb *WriteBatch) ApproximateSize() int {
	return len(wb.rep)
}

// Clear resets the batch to empty, retaining its buffer.
func (wb *WriteBatch) Clear() {
	wb.rep = wb.rep[:headerSize]
	for i := range wb.rep {
		wb.rep[i] = 0
	}
	wb.count = 0
}

// Iterate replays the batch's operations into handler, in order.
func (wb *WriteBatch) Iterate(handler Handler) error {
	if len(wb.rep) < headerSize {
		return ErrCorrupt
	}
	data := wb.rep[headerSize:]
	var seen uint32

	for len(data) > 0 {
		kind := dbformat.Kind(data[0])
		data = data[1:]

		key, n, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return errors.WithSecondaryError(ErrCorrupt, err)
		}
		data = data[n:]

		switch kind {
		case dbformat.KindPut:
			value, n, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			if err := handler.Put(key, value); err != nil {
				return err
			}

		case dbformat.KindDelete:
			if err := handler.Delete(key); err != nil {
				return err
			}

		default:
			return ErrCorrupt
		}
		seen++
	}

	if seen != wb.count {
		return ErrCorrupt
	}
	return nil
}

type discardHandler struct{}

func (discardHandler) Put(_, _ []byte) error { return nil }
func (discardHandler) Delete(_ []byte) error { return nil }

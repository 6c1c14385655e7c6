package table

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/block"
	"github.com/willzeng274/MidDB/internal/checksum"
	"github.com/willzeng274/MidDB/internal/compression"
	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/encoding"
	"github.com/willzeng274/MidDB/internal/filter"
	"github.com/willzeng274/MidDB/internal/vfs"
)

// ErrCorrupt indicates a table whose structure cannot be decoded.
var ErrCorrupt = errors.New("table: corrupted sstable")

// Reader reads an SSTable. It is safe for concurrent use.
type Reader struct {
	file   vfs.RandomAccessFile
	index  *block.Block
	bloom  []byte
	footer block.Footer

	// blockReads counts data block loads, for cache-efficiency checks.
	blockReads atomic.Int64
}

// NewReader opens an SSTable from a random access file. The reader takes
// ownership of the file.
func NewReader(f vfs.RandomAccessFile) (*Reader, error) {
	size := f.Size()
	if size < block.FooterSize {
		return nil, errors.Wrapf(ErrCorrupt, "file of %d bytes has no footer", size)
	}

	footerBuf := make([]byte, block.FooterSize)
	if _, err := f.ReadAt(footerBuf, size-block.FooterSize); err != nil {
		return nil, err
	}
	footer, err := block.DecodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}

	r := &Reader{file: f, footer: footer}

	indexData, err := r.readRawBlock(footer.IndexHandle)
	if err != nil {
		return nil, err
	}
	r.index, err = block.New(indexData)
	if err != nil {
		return nil, err
	}

	if footer.BloomHandle.Size > 0 {
		r.bloom, err = r.readRawBlock(footer.BloomHandle)
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// BlockReads returns the number of data blocks loaded so far.
func (r *Reader) BlockReads() int64 {
	return r.blockReads.Load()
}

// readRawBlock reads a block payload and verifies its trailer.
func (r *Reader) readRawBlock(h block.Handle) ([]byte, error) {
	buf := make([]byte, h.Size+blockTrailerSize)
	if _, err := r.file.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, err
	}

	payload := buf[:h.Size]
	codec := compression.Type(buf[h.Size])
	storedCRC := encoding.DecodeFixed32(buf[h.Size+1:])

	crc := checksum.Extend(checksum.Value(payload), buf[h.Size:h.Size+1])
	if checksum.Mask(crc) != storedCRC {
		return nil, errors.Wrapf(ErrCorrupt, "block at offset %d: checksum mismatch", h.Offset)
	}

	if !codec.Supported() {
		return nil, errors.Wrapf(ErrCorrupt, "block at offset %d: unknown codec %d", h.Offset, codec)
	}
	return compression.Decompress(codec, payload)
}

// MayContain consults the bloom filter for a user key. A false return
// means the key is definitely absent.
func (r *Reader) MayContain(userKey []byte) bool {
	if r.bloom == nil {
		return true
	}
	return filter.MayContain(r.bloom, userKey)
}

// Get returns the newest entry for userKey visible at seq.
// ok is false when the table holds no visible entry.
func (r *Reader) Get(userKey []byte, seq dbformat.SequenceNumber) (value []byte, kind dbformat.Kind, ok bool, err error) {
	if !r.MayContain(userKey) {
		return nil, 0, false, nil
	}

	lookup := dbformat.MakeInternalKey(userKey, seq, dbformat.KindForSeek)
	it := r.NewIter()
	it.Seek(lookup)
	if err := it.Error(); err != nil {
		return nil, 0, false, err
	}
	if !it.Valid() {
		return nil, 0, false, nil
	}

	parsed, err := dbformat.ParseInternalKey(it.Key())
	if err != nil {
		return nil, 0, false, errors.CombineErrors(ErrCorrupt, err)
	}
	if dbformat.CompareUserKeys(parsed.UserKey, userKey) != 0 || parsed.Sequence > seq {
		return nil, 0, false, nil
	}
	return append([]byte(nil), it.Value()...), parsed.Kind, true, nil
}

// NewIter returns an iterator over the table in internal key order.
func (r *Reader) NewIter() *Iter {
	return &Iter{
		reader:    r,
		indexIter: r.index.NewIter(),
	}
}

// Iter is a two-level iterator: the index block locates data blocks,
// which are loaded lazily.
type Iter struct {
	reader    *Reader
	indexIter *block.Iter
	dataIter  *block.Iter
	err       error
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iter) Valid() bool {
	return it.err == nil && it.dataIter != nil && it.dataIter.Valid()
}

// Key returns the current internal key.
func (it *Iter) Key() []byte {
	return it.dataIter.Key()
}

// Value returns the current value.
func (it *Iter) Value() []byte {
	return it.dataIter.Value()
}

// Error returns any error encountered while iterating.
func (it *Iter) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.dataIter != nil {
		if err := it.dataIter.Error(); err != nil {
			return err
		}
	}
	return it.indexIter.Error()
}

// SeekToFirst positions the iterator at the first entry of the table.
func (it *Iter) SeekToFirst() {
	it.indexIter.SeekToFirst()
	if !it.loadDataBlock() {
		return
	}
	it.dataIter.SeekToFirst()
	it.skipEmptyBlocksForward()
}

// Seek positions the iterator at the first entry >= target.
func (it *Iter) Seek(target []byte) {
	it.indexIter.Seek(target)
	if !it.loadDataBlock() {
		return
	}
	it.dataIter.Seek(target)
	it.skipEmptyBlocksForward()
}

// Next advances the iterator.
func (it *Iter) Next() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Next()
	it.skipEmptyBlocksForward()
}

// skipEmptyBlocksForward advances to the next data block whenever the
// current one is exhausted.
func (it *Iter) skipEmptyBlocksForward() {
	for it.dataIter != nil && !it.dataIter.Valid() {
		if it.dataIter.Error() != nil {
			it.err = it.dataIter.Error()
			return
		}
		it.indexIter.Next()
		if !it.loadDataBlock() {
			return
		}
		it.dataIter.SeekToFirst()
	}
}

// loadDataBlock loads the block referenced by the current index entry.
// Returns false when the index is exhausted or an error occurred.
func (it *Iter) loadDataBlock() bool {
	it.dataIter = nil
	if !it.indexIter.Valid() {
		if err := it.indexIter.Error(); err != nil {
			it.err = err
		}
		return false
	}

	handle, _, err := block.DecodeHandle(it.indexIter.Value())
	if err != nil {
		it.err = err
		return false
	}

	data, err := it.reader.readRawBlock(handle)
	if err != nil {
		it.err = err
		return false
	}
	it.reader.blockReads.Add(1)

	blk, err := block.New(data)
	if err != nil {
		it.err = err
		return false
	}
	it.dataIter = blk.NewIter()
	return true
}

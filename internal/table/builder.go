// Package table provides SSTable reading and writing.
//
// File layout:
//
//	[data block 1] ... [data block N]
//	[bloom block]
//	[index block]
//	[footer]
//
// Every block is followed by a 5-byte trailer: a one-byte compression
// codec and the masked CRC32C of the stored payload plus the codec byte.
// The index block maps the last internal key of each data block to its
// handle. The bloom block holds a filter over the user keys of the file.
package table

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/block"
	"github.com/willzeng274/MidDB/internal/checksum"
	"github.com/willzeng274/MidDB/internal/compression"
	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/encoding"
	"github.com/willzeng274/MidDB/internal/filter"
)

// blockTrailerSize is codec byte + masked CRC32C.
const blockTrailerSize = 5

// BuilderOptions configures a table builder.
type BuilderOptions struct {
	// BlockSize is the uncompressed flush threshold for data blocks.
	BlockSize int

	// RestartInterval is the number of keys between restart points.
	RestartInterval int

	// BloomBitsPerKey controls filter accuracy; 0 disables the filter.
	BloomBitsPerKey int

	// Compression is the codec for data blocks.
	Compression compression.Type
}

// DefaultBuilderOptions returns the standard configuration.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:       4096,
		RestartInterval: block.DefaultRestartInterval,
		BloomBitsPerKey: filter.DefaultBitsPerKey,
		Compression:     compression.None,
	}
}

// Builder writes an SSTable. Entries must be added in ascending internal
// key order.
type Builder struct {
	writer  io.Writer
	options BuilderOptions

	dataBlock  *block.Builder
	indexBlock *block.Builder
	bloom      *filter.Builder

	pendingIndexEntry bool
	pendingHandle     block.Handle
	lastKey           []byte

	offset     uint64
	numEntries uint64
	finished   bool
	err        error
}

// NewBuilder creates a builder writing to w.
func NewBuilder(w io.Writer, opts BuilderOptions) *Builder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.RestartInterval <= 0 {
		opts.RestartInterval = block.DefaultRestartInterval
	}

	tb := &Builder{
		writer:     w,
		options:    opts,
		dataBlock:  block.NewBuilder(opts.RestartInterval),
		indexBlock: block.NewBuilder(1),
	}
	if opts.BloomBitsPerKey > 0 {
		tb.bloom = filter.NewBuilder(opts.BloomBitsPerKey)
	}
	return tb
}

// Add appends an internal key and value.
func (tb *Builder) Add(internalKey, value []byte) error {
	if tb.finished {
		return errors.New("table: builder already finished")
	}
	if tb.err != nil {
		return tb.err
	}
	if len(internalKey) < dbformat.TrailerSize {
		return errors.New("table: malformed internal key")
	}

	if tb.pendingIndexEntry {
		tb.indexBlock.Add(tb.lastKey, tb.pendingHandle.EncodeTo(nil))
		tb.pendingIndexEntry = false
	}

	if tb.bloom != nil {
		tb.bloom.AddKey(dbformat.UserKey(internalKey))
	}

	tb.dataBlock.Add(internalKey, value)
	tb.lastKey = append(tb.lastKey[:0], internalKey...)
	tb.numEntries++

	if tb.dataBlock.SizeEstimate() >= tb.options.BlockSize {
		return tb.flushDataBlock()
	}
	return nil
}

func (tb *Builder) flushDataBlock() error {
	if tb.dataBlock.Empty() {
		return nil
	}
	handle, err := tb.writeBlock(tb.dataBlock.Finish(), tb.options.Compression)
	if err != nil {
		tb.err = err
		return err
	}
	tb.dataBlock.Reset()
	tb.pendingHandle = handle
	tb.pendingIndexEntry = true
	return nil
}

// writeBlock writes a block payload with its codec/checksum trailer and
// returns the handle of the stored payload.
func (tb *Builder) writeBlock(contents []byte, codec compression.Type) (block.Handle, error) {
	compressed, err := compression.Compress(codec, contents)
	if err != nil {
		return block.Handle{}, err
	}
	// Incompressible blocks are stored raw.
	if codec != compression.None && len(compressed) >= len(contents) {
		compressed = contents
		codec = compression.None
	}

	handle := block.Handle{Offset: tb.offset, Size: uint64(len(compressed))}

	var trailer [blockTrailerSize]byte
	trailer[0] = byte(codec)
	crc := checksum.Extend(checksum.Value(compressed), trailer[:1])
	encoding.EncodeFixed32(trailer[1:], checksum.Mask(crc))

	if _, err := tb.writer.Write(compressed); err != nil {
		return block.Handle{}, err
	}
	if _, err := tb.writer.Write(trailer[:]); err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(len(compressed)) + blockTrailerSize
	return handle, nil
}

// Finish flushes all pending state and writes the bloom block, index
// block, and footer.
func (tb *Builder) Finish() error {
	if tb.finished {
		return errors.New("table: builder already finished")
	}
	if tb.err != nil {
		return tb.err
	}

	if err := tb.flushDataBlock(); err != nil {
		return err
	}
	if tb.pendingIndexEntry {
		tb.indexBlock.Add(tb.lastKey, tb.pendingHandle.EncodeTo(nil))
		tb.pendingIndexEntry = false
	}

	var footer block.Footer

	if tb.bloom != nil {
		handle, err := tb.writeBlock(tb.bloom.Finish(), compression.None)
		if err != nil {
			tb.err = err
			return err
		}
		footer.BloomHandle = handle
	}

	indexHandle, err := tb.writeBlock(tb.indexBlock.Finish(), compression.None)
	if err != nil {
		tb.err = err
		return err
	}
	footer.IndexHandle = indexHandle

	encoded := footer.Encode()
	if _, err := tb.writer.Write(encoded); err != nil {
		tb.err = err
		return err
	}
	tb.offset += uint64(len(encoded))
	tb.finished = true
	return nil
}

// Abandon marks the builder as finished without writing remaining state.
func (tb *Builder) Abandon() {
	tb.finished = true
}

// NumEntries returns the number of entries added.
func (tb *Builder) NumEntries() uint64 {
	return tb.numEntries
}

// FileSize returns the number of bytes written so far.
func (tb *Builder) FileSize() uint64 {
	return tb.offset
}

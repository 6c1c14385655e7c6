// Package block implements the prefix-compressed block format used for
// SSTable data and index blocks.
//
// A block is a sequence of entries followed by a restart array:
//
//	entry:    [shared:varint][non_shared:varint][value_len:varint]
//	          [key_suffix][value]
//	restarts: uint32[num_restarts]
//	          uint32 num_restarts
//
// Keys within a restart interval share a prefix with their predecessor;
// restart entries store the full key (shared=0).
package block

import (
	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/encoding"
)

var (
	// ErrBadHandle is returned when a block handle is corrupted.
	ErrBadHandle = errors.New("block: bad block handle")

	// ErrBadBlock is returned when block contents are corrupted.
	ErrBadBlock = errors.New("block: corrupted block")
)

// Handle locates the extent of a block within a file.
type Handle struct {
	Offset uint64
	Size   uint64
}

// MaxEncodedHandleLength is the maximum encoding length of a Handle
// (two varint64s).
const MaxEncodedHandleLength = 2 * encoding.MaxVarint64Length

// EncodeTo appends the encoding of h to dst.
func (h Handle) EncodeTo(dst []byte) []byte {
	dst = encoding.AppendVarint64(dst, h.Offset)
	return encoding.AppendVarint64(dst, h.Size)
}

// DecodeHandle decodes a handle from data and returns the remaining bytes.
func DecodeHandle(data []byte) (Handle, []byte, error) {
	offset, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return Handle{}, nil, ErrBadHandle
	}
	data = data[n:]
	size, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return Handle{}, nil, ErrBadHandle
	}
	return Handle{Offset: offset, Size: size}, data[n:], nil
}

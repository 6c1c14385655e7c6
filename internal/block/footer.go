package block

import (
	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/encoding"
)

// The SSTable footer sits at the end of the file:
//
//	bloom handle + index handle (varint64 pairs), zero-padded to 40 bytes
//	magic number, 8 bytes little-endian
//
// The magic number identifies the file format.
const (
	// Magic is the SSTable magic number.
	Magic uint64 = 0xdb4775248b80fb57

	// handleArea is the padded region holding the two handles.
	handleArea = 2 * MaxEncodedHandleLength

	// FooterSize is the fixed footer length.
	FooterSize = handleArea + 8
)

// ErrBadFooter is returned when the footer is truncated or the magic
// number does not match.
var ErrBadFooter = errors.New("block: bad table footer")

// Footer holds the locations of the bloom and index blocks.
type Footer struct {
	BloomHandle Handle
	IndexHandle Handle
}

// Encode returns the fixed-size footer encoding.
func (f Footer) Encode() []byte {
	buf := make([]byte, 0, FooterSize)
	buf = f.BloomHandle.EncodeTo(buf)
	buf = f.IndexHandle.EncodeTo(buf)
	for len(buf) < handleArea {
		buf = append(buf, 0)
	}
	return encoding.AppendFixed64(buf, Magic)
}

// DecodeFooter parses a footer from the final FooterSize bytes of a file.
func DecodeFooter(data []byte) (Footer, error) {
	if len(data) != FooterSize {
		return Footer{}, ErrBadFooter
	}
	if encoding.DecodeFixed64(data[handleArea:]) != Magic {
		return Footer{}, ErrBadFooter
	}

	var f Footer
	var err error
	rest := data[:handleArea]
	if f.BloomHandle, rest, err = DecodeHandle(rest); err != nil {
		return Footer{}, ErrBadFooter
	}
	if f.IndexHandle, _, err = DecodeHandle(rest); err != nil {
		return Footer{}, ErrBadFooter
	}
	return f, nil
}

// Package dbformat defines the internal key format used throughout the
// engine.
//
// An internal key is the user key followed by an 8-byte trailer:
// (sequence_number << 8) | kind. The comparator orders internal keys by
// ascending user key, then by descending trailer, so the newest version of
// a key is the first one any ordered scan encounters.
package dbformat

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/encoding"
)

// SequenceNumber is a 56-bit sequence number stored in the upper 56 bits of
// the internal key trailer.
type SequenceNumber uint64

// MaxSequenceNumber is the maximum valid sequence number (2^56 - 1).
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// TrailerSize is the size of the internal key trailer (sequence + kind).
const TrailerSize = 8

// Kind identifies the type of a key-value record.
// These values are embedded in the on-disk format and MUST NOT change.
type Kind uint8

const (
	// KindDelete marks a tombstone.
	KindDelete Kind = 0x0

	// KindPut marks a regular value.
	KindPut Kind = 0x1
)

// KindForSeek is the kind used when building a lookup key: combined with
// the target sequence it sorts at or before every visible entry for the
// user key.
const KindForSeek = KindPut

// Valid reports whether k is a kind that may appear in memtables and
// SSTables.
func (k Kind) Valid() bool {
	return k == KindDelete || k == KindPut
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindDelete:
		return "DELETE"
	case KindPut:
		return "PUT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

var (
	// ErrKeyTooSmall is returned when an internal key is shorter than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key too small")

	// ErrInvalidKind is returned when the kind byte is not recognized.
	ErrInvalidKind = errors.New("dbformat: invalid kind")
)

// PackTrailer packs a sequence number and kind into the 64-bit trailer.
func PackTrailer(seq SequenceNumber, kind Kind) uint64 {
	return (uint64(seq) << 8) | uint64(kind)
}

// UnpackTrailer extracts the sequence number and kind from a packed trailer.
func UnpackTrailer(packed uint64) (SequenceNumber, Kind) {
	return SequenceNumber(packed >> 8), Kind(packed & 0xFF)
}

// ParsedInternalKey is a decoded internal key.
type ParsedInternalKey struct {
	UserKey  []byte
	Sequence SequenceNumber
	Kind     Kind
}

// String returns a debug representation.
func (p ParsedInternalKey) String() string {
	return fmt.Sprintf("%q @ %d : %s", p.UserKey, p.Sequence, p.Kind)
}

// AppendInternalKey appends the serialization of key to dst.
func AppendInternalKey(dst []byte, key ParsedInternalKey) []byte {
	dst = append(dst, key.UserKey...)
	return encoding.AppendFixed64(dst, PackTrailer(key.Sequence, key.Kind))
}

// MakeInternalKey builds a fresh internal key from its parts.
func MakeInternalKey(userKey []byte, seq SequenceNumber, kind Kind) []byte {
	return AppendInternalKey(make([]byte, 0, len(userKey)+TrailerSize), ParsedInternalKey{
		UserKey:  userKey,
		Sequence: seq,
		Kind:     kind,
	})
}

// ParseInternalKey decodes an internal key. The returned UserKey aliases
// data.
func ParseInternalKey(data []byte) (ParsedInternalKey, error) {
	n := len(data)
	if n < TrailerSize {
		return ParsedInternalKey{}, ErrKeyTooSmall
	}
	seq, kind := UnpackTrailer(encoding.DecodeFixed64(data[n-TrailerSize:]))
	p := ParsedInternalKey{
		UserKey:  data[:n-TrailerSize],
		Sequence: seq,
		Kind:     kind,
	}
	if !kind.Valid() {
		return p, ErrInvalidKind
	}
	return p, nil
}

// UserKey returns the user key portion of an internal key.
// REQUIRES: len(internalKey) >= TrailerSize.
func UserKey(internalKey []byte) []byte {
	if len(internalKey) < TrailerSize {
		return nil
	}
	return internalKey[:len(internalKey)-TrailerSize]
}

// Sequence returns the sequence number of an internal key.
func Sequence(internalKey []byte) SequenceNumber {
	if len(internalKey) < TrailerSize {
		return 0
	}
	return SequenceNumber(encoding.DecodeFixed64(internalKey[len(internalKey)-TrailerSize:]) >> 8)
}

// KindOf returns the kind of an internal key.
func KindOf(internalKey []byte) Kind {
	if len(internalKey) < TrailerSize {
		return KindDelete
	}
	return Kind(encoding.DecodeFixed64(internalKey[len(internalKey)-TrailerSize:]) & 0xFF)
}

// CompareUserKeys compares two user keys bytewise.
func CompareUserKeys(a, b []byte) int {
	minLen := min(len(a), len(b))
	for i := range minLen {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// CompareInternalKeys orders internal keys by ascending user key, then by
// descending trailer. A higher trailer (newer sequence, and Put above
// Delete at equal sequence) sorts first.
func CompareInternalKeys(a, b []byte) int {
	ua, ub := a, b
	if len(a) >= TrailerSize {
		ua = a[:len(a)-TrailerSize]
	}
	if len(b) >= TrailerSize {
		ub = b[:len(b)-TrailerSize]
	}
	if cmp := CompareUserKeys(ua, ub); cmp != 0 {
		return cmp
	}
	if len(a) >= TrailerSize && len(b) >= TrailerSize {
		ta := encoding.DecodeFixed64(a[len(a)-TrailerSize:])
		tb := encoding.DecodeFixed64(b[len(b)-TrailerSize:])
		if ta > tb {
			return -1
		}
		if ta < tb {
			return 1
		}
	}
	return 0
}

// Package manifest provides encoding and decoding of MANIFEST records.
//
// The MANIFEST is a record log (the WAL framing) of VersionEdits. The
// current database state is the fold of all edits. Each edit is a
// sequence of tagged fields; unknown tags are corruption, since metadata
// that cannot be fully understood cannot be trusted.
package manifest

import (
	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/encoding"
)

// Tag identifies a serialized VersionEdit field.
// These numbers are written to disk and MUST NOT change.
type Tag uint32

const (
	TagComparator     Tag = 1
	TagLogNumber      Tag = 2
	TagNextFileNumber Tag = 3
	TagLastSequence   Tag = 4
	TagDeletedFile    Tag = 6
	TagNewFile        Tag = 7
)

var (
	// ErrInvalidTag is returned when an edit carries an unknown tag.
	ErrInvalidTag = errors.New("manifest: unknown record tag")

	// ErrCorrupt is returned when an edit cannot be decoded.
	ErrCorrupt = errors.New("manifest: corrupted version edit")
)

// FileMetadata describes one SSTable.
type FileMetadata struct {
	FileNumber uint64
	FileSize   uint64

	// Smallest and Largest are internal keys bounding the file contents.
	Smallest []byte
	Largest  []byte
}

// DeletedFileEntry identifies a file removed from a level.
type DeletedFileEntry struct {
	Level      int
	FileNumber uint64
}

// NewFileEntry identifies a file added to a level.
type NewFileEntry struct {
	Level int
	Meta  *FileMetadata
}

// VersionEdit is a delta applied to a Version.
type VersionEdit struct {
	Comparator    string
	HasComparator bool

	LogNumber    uint64
	HasLogNumber bool

	NextFileNumber    uint64
	HasNextFileNumber bool

	LastSequence    dbformat.SequenceNumber
	HasLastSequence bool

	DeletedFiles []DeletedFileEntry
	NewFiles     []NewFileEntry
}

// SetComparatorName records the comparator the database was created with.
func (ve *VersionEdit) SetComparatorName(name string) {
	ve.Comparator = name
	ve.HasComparator = true
}

// SetLogNumber records the active WAL file number.
func (ve *VersionEdit) SetLogNumber(num uint64) {
	ve.LogNumber = num
	ve.HasLogNumber = true
}

// SetNextFileNumber records the next file number to allocate.
func (ve *VersionEdit) SetNextFileNumber(num uint64) {
	ve.NextFileNumber = num
	ve.HasNextFileNumber = true
}

// SetLastSequence records the last used sequence number.
func (ve *VersionEdit) SetLastSequence(seq dbformat.SequenceNumber) {
	ve.LastSequence = seq
	ve.HasLastSequence = true
}

// DeleteFile records the removal of a file from a level.
func (ve *VersionEdit) DeleteFile(level int, fileNumber uint64) {
	ve.DeletedFiles = append(ve.DeletedFiles, DeletedFileEntry{Level: level, FileNumber: fileNumber})
}

// AddFile records the addition of a file to a level.
func (ve *VersionEdit) AddFile(level int, meta *FileMetadata) {
	ve.NewFiles = append(ve.NewFiles, NewFileEntry{Level: level, Meta: meta})
}

// Encode serializes the edit.
func (ve *VersionEdit) Encode() []byte {
	var dst []byte

	if ve.HasComparator {
		dst = encoding.AppendVarint32(dst, uint32(TagComparator))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.Comparator))
	}
	if ve.HasLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagLogNumber))
		dst = encoding.AppendVarint64(dst, ve.LogNumber)
	}
	if ve.HasNextFileNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagNextFileNumber))
		dst = encoding.AppendVarint64(dst, ve.NextFileNumber)
	}
	if ve.HasLastSequence {
		dst = encoding.AppendVarint32(dst, uint32(TagLastSequence))
		dst = encoding.AppendVarint64(dst, uint64(ve.LastSequence))
	}
	for _, df := range ve.DeletedFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedFile))
		dst = encoding.AppendVarint32(dst, uint32(df.Level))
		dst = encoding.AppendVarint64(dst, df.FileNumber)
	}
	for _, nf := range ve.NewFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagNewFile))
		dst = encoding.AppendVarint32(dst, uint32(nf.Level))
		dst = encoding.AppendVarint64(dst, nf.Meta.FileNumber)
		dst = encoding.AppendVarint64(dst, nf.Meta.FileSize)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Smallest)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Largest)
	}
	return dst
}

// Decode parses an edit from data.
func (ve *VersionEdit) Decode(data []byte) error {
	for len(data) > 0 {
		tag, n, err := encoding.DecodeVarint32(data)
		if err != nil {
			return errors.WithSecondaryError(ErrCorrupt, err)
		}
		data = data[n:]

		switch Tag(tag) {
		case TagComparator:
			name, n, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			ve.SetComparatorName(string(name))

		case TagLogNumber:
			v, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			ve.SetLogNumber(v)

		case TagNextFileNumber:
			v, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			ve.SetNextFileNumber(v)

		case TagLastSequence:
			v, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			ve.SetLastSequence(dbformat.SequenceNumber(v))

		case TagDeletedFile:
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			fileNum, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			ve.DeleteFile(int(level), fileNum)

		case TagNewFile:
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]

			meta := &FileMetadata{}
			if meta.FileNumber, n, err = encoding.DecodeVarint64(data); err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			if meta.FileSize, n, err = encoding.DecodeVarint64(data); err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]

			var key []byte
			if key, n, err = encoding.DecodeLengthPrefixedSlice(data); err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			meta.Smallest = append([]byte(nil), key...)

			if key, n, err = encoding.DecodeLengthPrefixedSlice(data); err != nil {
				return errors.WithSecondaryError(ErrCorrupt, err)
			}
			data = data[n:]
			meta.Largest = append([]byte(nil), key...)

			ve.AddFile(int(level), meta)

		default:
			return errors.Wrapf(ErrInvalidTag, "tag %d", tag)
		}
	}
	return nil
}

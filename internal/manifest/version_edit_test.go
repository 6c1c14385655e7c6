package manifest

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/encoding"
)

func TestVersionEditRoundTrip(t *testing.T) {
	edit := &VersionEdit{}
	edit.SetComparatorName("middb.BytewiseComparator")
	edit.SetLogNumber(12)
	edit.SetNextFileNumber(34)
	edit.SetLastSequence(5678)
	edit.DeleteFile(1, 9)
	edit.DeleteFile(2, 10)
	edit.AddFile(0, &FileMetadata{
		FileNumber: 11,
		FileSize:   4096,
		Smallest:   dbformat.MakeInternalKey([]byte("a"), 1, dbformat.KindPut),
		Largest:    dbformat.MakeInternalKey([]byte("z"), 99, dbformat.KindPut),
	})

	var decoded VersionEdit
	if err := decoded.Decode(edit.Encode()); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Comparator != "middb.BytewiseComparator" || !decoded.HasComparator {
		t.Errorf("comparator = %q", decoded.Comparator)
	}
	if decoded.LogNumber != 12 || decoded.NextFileNumber != 34 || decoded.LastSequence != 5678 {
		t.Errorf("numbers = %d/%d/%d", decoded.LogNumber, decoded.NextFileNumber, decoded.LastSequence)
	}
	if len(decoded.DeletedFiles) != 2 || decoded.DeletedFiles[1] != (DeletedFileEntry{Level: 2, FileNumber: 10}) {
		t.Errorf("deleted files = %+v", decoded.DeletedFiles)
	}
	if len(decoded.NewFiles) != 1 {
		t.Fatalf("new files = %+v", decoded.NewFiles)
	}
	nf := decoded.NewFiles[0]
	if nf.Level != 0 || nf.Meta.FileNumber != 11 || nf.Meta.FileSize != 4096 {
		t.Errorf("new file = %+v", nf)
	}
	if !bytes.Equal(dbformat.UserKey(nf.Meta.Smallest), []byte("a")) ||
		!bytes.Equal(dbformat.UserKey(nf.Meta.Largest), []byte("z")) {
		t.Errorf("key range = %q..%q", nf.Meta.Smallest, nf.Meta.Largest)
	}
}

func TestVersionEditEmpty(t *testing.T) {
	edit := &VersionEdit{}
	encoded := edit.Encode()
	if len(encoded) != 0 {
		t.Errorf("empty edit encoded to %d bytes", len(encoded))
	}
	var decoded VersionEdit
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

// Unknown tags must be fatal: metadata that cannot be fully understood
// cannot be trusted.
func TestVersionEditUnknownTag(t *testing.T) {
	data := encoding.AppendVarint32(nil, 999)
	data = encoding.AppendVarint64(data, 1)

	var decoded VersionEdit
	if err := decoded.Decode(data); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("expected ErrInvalidTag, got %v", err)
	}
}

func TestVersionEditTruncated(t *testing.T) {
	edit := &VersionEdit{}
	edit.AddFile(3, &FileMetadata{
		FileNumber: 7,
		FileSize:   100,
		Smallest:   dbformat.MakeInternalKey([]byte("k1"), 1, dbformat.KindPut),
		Largest:    dbformat.MakeInternalKey([]byte("k2"), 2, dbformat.KindPut),
	})
	encoded := edit.Encode()

	for cut := 1; cut < len(encoded); cut++ {
		var decoded VersionEdit
		if err := decoded.Decode(encoded[:cut]); err == nil {
			t.Errorf("Decode accepted %d/%d bytes", cut, len(encoded))
		}
	}
}

package version

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/manifest"
	"github.com/willzeng274/MidDB/internal/vfs"
)

func ik(userKey string, seq uint64) []byte {
	return dbformat.MakeInternalKey([]byte(userKey), dbformat.SequenceNumber(seq), dbformat.KindPut)
}

func meta(num uint64, smallest, largest string) *manifest.FileMetadata {
	return &manifest.FileMetadata{
		FileNumber: num,
		FileSize:   1000,
		Smallest:   ik(smallest, 1),
		Largest:    ik(largest, 1),
	}
}

func newTestVersionSet(t *testing.T, fs vfs.FS) *VersionSet {
	t.Helper()
	if err := fs.MkdirAll("db", 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	vs := NewVersionSet(Options{DirName: "db", FS: fs})
	if err := vs.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return vs
}

func TestVersionSetCreateRecover(t *testing.T) {
	fs := vfs.NewMem()
	vs := newTestVersionSet(t, fs)

	edit := &manifest.VersionEdit{}
	edit.SetLogNumber(5)
	edit.SetLastSequence(42)
	edit.AddFile(0, meta(10, "a", "m"))
	edit.AddFile(1, meta(11, "a", "m"))
	if err := vs.LogAndApply(edit); err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recovered := NewVersionSet(Options{DirName: "db", FS: fs})
	if err := recovered.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered.LogNumber() != 5 {
		t.Errorf("LogNumber = %d", recovered.LogNumber())
	}
	if recovered.LastSequence() != 42 {
		t.Errorf("LastSequence = %d", recovered.LastSequence())
	}

	v := recovered.Current()
	defer v.Unref()
	if v.NumFiles(0) != 1 || v.NumFiles(1) != 1 {
		t.Errorf("files = L0:%d L1:%d", v.NumFiles(0), v.NumFiles(1))
	}
	// File numbers seen in the manifest must never be reused.
	if num := recovered.NextFileNumber(); num <= 11 {
		t.Errorf("NextFileNumber = %d, must exceed 11", num)
	}
}

func TestVersionSetRecoverWithoutCurrent(t *testing.T) {
	fs := vfs.NewMem()
	_ = fs.MkdirAll("db", 0755)
	vs := NewVersionSet(Options{DirName: "db", FS: fs})
	if err := vs.Recover(); !errors.Is(err, ErrNoCurrentManifest) {
		t.Fatalf("expected ErrNoCurrentManifest, got %v", err)
	}
}

func TestVersionSetCorruptManifest(t *testing.T) {
	fs := vfs.NewMem()
	vs := newTestVersionSet(t, fs)
	_ = vs.Close()

	// Flip a byte inside the manifest payload.
	name := "db/MANIFEST-000002"
	raf, err := fs.OpenRandomAccess(name)
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	data := make([]byte, raf.Size())
	_, _ = raf.ReadAt(data, 0)
	_ = raf.Close()
	data[len(data)-1] ^= 0xff
	out, _ := fs.Create(name)
	_, _ = out.Write(data)
	_ = out.Close()

	recovered := NewVersionSet(Options{DirName: "db", FS: fs})
	if err := recovered.Recover(); !errors.Is(err, ErrCorruption) {
		t.Fatalf("expected ErrCorruption, got %v", err)
	}
}

// Installing files that overlap within a level above L0 must fail: the
// level invariant is what makes binary-search reads sound.
func TestBuilderRejectsOverlap(t *testing.T) {
	fs := vfs.NewMem()
	vs := newTestVersionSet(t, fs)
	defer func() { _ = vs.Close() }()

	edit := &manifest.VersionEdit{}
	edit.AddFile(1, meta(10, "a", "m"))
	edit.AddFile(1, meta(11, "k", "z"))
	if err := vs.LogAndApply(edit); !errors.Is(err, ErrLevelOverlap) {
		t.Fatalf("expected ErrLevelOverlap, got %v", err)
	}

	// Disjoint files are fine; L0 overlap is always allowed.
	ok := &manifest.VersionEdit{}
	ok.AddFile(1, meta(12, "a", "m"))
	ok.AddFile(1, meta(13, "n", "z"))
	ok.AddFile(0, meta(14, "a", "z"))
	ok.AddFile(0, meta(15, "b", "y"))
	if err := vs.LogAndApply(ok); err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}
}

func TestFindFile(t *testing.T) {
	files := []*manifest.FileMetadata{
		meta(1, "b", "d"),
		meta(2, "f", "h"),
		meta(3, "j", "l"),
	}

	tests := []struct {
		key  string
		want uint64 // 0 = none
	}{
		{"a", 0},
		{"b", 1},
		{"c", 1},
		{"d", 1},
		{"e", 0},
		{"f", 2},
		{"i", 0},
		{"l", 3},
		{"z", 0},
	}
	for _, tc := range tests {
		f := FindFile(files, []byte(tc.key))
		switch {
		case tc.want == 0 && f != nil:
			t.Errorf("FindFile(%q) = %d, want none", tc.key, f.FileNumber)
		case tc.want != 0 && (f == nil || f.FileNumber != tc.want):
			t.Errorf("FindFile(%q) = %v, want %d", tc.key, f, tc.want)
		}
	}
}

func TestVersionRefCounting(t *testing.T) {
	fs := vfs.NewMem()
	vs := newTestVersionSet(t, fs)
	defer func() { _ = vs.Close() }()

	v1 := vs.Current()

	edit := &manifest.VersionEdit{}
	edit.AddFile(0, meta(20, "a", "b"))
	if err := vs.LogAndApply(edit); err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}

	// Both versions are live while v1 is held.
	live := vs.LiveFiles()
	if _, ok := live[20]; !ok {
		t.Error("new file not live")
	}

	v1.Unref()
	v2 := vs.Current()
	defer v2.Unref()
	if v2.NumFiles(0) != 1 {
		t.Errorf("current L0 files = %d", v2.NumFiles(0))
	}
}

func TestVersionOverlappingInputs(t *testing.T) {
	v := NewVersion(nil)
	v.files[1] = []*manifest.FileMetadata{
		meta(1, "a", "c"),
		meta(2, "e", "g"),
		meta(3, "i", "k"),
	}

	got := v.OverlappingInputs(1, ik("b", 100), ik("f", 1))
	if len(got) != 2 || got[0].FileNumber != 1 || got[1].FileNumber != 2 {
		t.Errorf("overlap = %+v", got)
	}

	all := v.OverlappingInputs(1, nil, nil)
	if len(all) != 3 {
		t.Errorf("unbounded overlap = %d files", len(all))
	}
}

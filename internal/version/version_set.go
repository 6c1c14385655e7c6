package version

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/manifest"
	"github.com/willzeng274/MidDB/internal/vfs"
	"github.com/willzeng274/MidDB/internal/wal"
)

// ComparatorName identifies the bytewise comparator in the MANIFEST.
const ComparatorName = "middb.BytewiseComparator"

var (
	// ErrCorruption indicates an unreadable MANIFEST.
	ErrCorruption = errors.New("version: manifest corruption")

	// ErrNoCurrentManifest indicates a database directory without a
	// CURRENT file.
	ErrNoCurrentManifest = errors.New("version: no CURRENT manifest")

	// ErrComparatorMismatch indicates the database was created with a
	// different comparator.
	ErrComparatorMismatch = errors.New("version: comparator mismatch")
)

// Options configures a VersionSet.
type Options struct {
	// DirName is the database directory.
	DirName string

	// FS is the filesystem.
	FS vfs.FS
}

// VersionSet manages the version list and the MANIFEST file.
type VersionSet struct {
	mu sync.Mutex

	// listMu protects the version linked list; separate from mu so
	// Unref can run while mu is held.
	listMu sync.Mutex

	opts Options

	current       *Version
	dummyVersions Version

	nextFileNumber     atomic.Uint64
	lastSequence       atomic.Uint64
	logNumber          uint64
	manifestFileNumber uint64

	manifestFile   vfs.WritableFile
	manifestWriter *wal.Writer

	// compactPointer[level] is the largest internal key compacted from
	// that level so far, for round-robin input selection.
	compactPointer [NumLevels][]byte
}

// NewVersionSet creates an empty VersionSet.
func NewVersionSet(opts Options) *VersionSet {
	vs := &VersionSet{opts: opts}
	vs.nextFileNumber.Store(2) // 1 is reserved for the first MANIFEST
	vs.dummyVersions.prev = &vs.dummyVersions
	vs.dummyVersions.next = &vs.dummyVersions
	return vs
}

// Current returns the current version with a reference held for the
// caller, which must Unref it.
func (vs *VersionSet) Current() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v := vs.current
	if v != nil {
		v.Ref()
	}
	return v
}

// NextFileNumber allocates a new file number.
func (vs *VersionSet) NextFileNumber() uint64 {
	return vs.nextFileNumber.Add(1) - 1
}

// MarkFileNumberUsed bumps the allocator past a file number observed
// during recovery.
func (vs *VersionSet) MarkFileNumberUsed(num uint64) {
	for {
		cur := vs.nextFileNumber.Load()
		if cur > num {
			return
		}
		if vs.nextFileNumber.CompareAndSwap(cur, num+1) {
			return
		}
	}
}

// LastSequence returns the last committed sequence number.
func (vs *VersionSet) LastSequence() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(vs.lastSequence.Load())
}

// SetLastSequence advances the last committed sequence number.
func (vs *VersionSet) SetLastSequence(seq dbformat.SequenceNumber) {
	vs.lastSequence.Store(uint64(seq))
}

// LogNumber returns the active WAL file number.
func (vs *VersionSet) LogNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.logNumber
}

// ManifestFileNumber returns the active MANIFEST file number.
func (vs *VersionSet) ManifestFileNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.manifestFileNumber
}

// CompactPointer returns the round-robin cursor for a level.
func (vs *VersionSet) CompactPointer(level int) []byte {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.compactPointer[level]
}

// SetCompactPointer advances the round-robin cursor for a level.
func (vs *VersionSet) SetCompactPointer(level int, key []byte) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.compactPointer[level] = append([]byte(nil), key...)
}

// Create initializes a fresh database: an empty version and the first
// MANIFEST.
func (vs *VersionSet) Create() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	vs.current = NewVersion(vs)
	vs.current.Ref()
	vs.appendVersion(vs.current)

	edit := &manifest.VersionEdit{}
	edit.SetComparatorName(ComparatorName)
	edit.SetLogNumber(0)
	edit.SetLastSequence(0)
	return vs.writeEditLocked(edit)
}

// Recover rebuilds state from the MANIFEST named by CURRENT.
func (vs *VersionSet) Recover() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	currentPath := filepath.Join(vs.opts.DirName, "CURRENT")
	if !vs.opts.FS.Exists(currentPath) {
		return ErrNoCurrentManifest
	}
	currentFile, err := vs.opts.FS.Open(currentPath)
	if err != nil {
		return err
	}
	currentData, err := io.ReadAll(currentFile)
	_ = currentFile.Close()
	if err != nil {
		return err
	}

	manifestName := strings.TrimSpace(string(currentData))
	if !strings.HasPrefix(manifestName, "MANIFEST-") {
		return errors.Wrapf(ErrCorruption, "CURRENT names %q", manifestName)
	}
	manifestNum, err := strconv.ParseUint(manifestName[len("MANIFEST-"):], 10, 64)
	if err != nil {
		return errors.Wrapf(ErrCorruption, "CURRENT names %q", manifestName)
	}

	manifestFile, err := vs.opts.FS.Open(filepath.Join(vs.opts.DirName, manifestName))
	if err != nil {
		return err
	}
	defer func() { _ = manifestFile.Close() }()

	// MANIFEST corruption is always fatal; damaged metadata cannot be
	// trusted, unlike a torn WAL tail.
	reader := wal.NewStrictReader(manifestFile)
	builder := NewBuilder(vs, nil)

	var hasLogNumber, hasLastSequence bool
	maxFileNumSeen := manifestNum

	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.CombineErrors(ErrCorruption, err)
		}

		var edit manifest.VersionEdit
		if err := edit.Decode(record); err != nil {
			return errors.CombineErrors(ErrCorruption, err)
		}
		if err := builder.Apply(&edit); err != nil {
			return err
		}

		if edit.HasComparator && edit.Comparator != ComparatorName {
			return errors.Wrapf(ErrComparatorMismatch,
				"database uses %q, expected %q", edit.Comparator, ComparatorName)
		}
		if edit.HasLogNumber {
			hasLogNumber = true
			vs.logNumber = edit.LogNumber
			if edit.LogNumber > maxFileNumSeen {
				maxFileNumSeen = edit.LogNumber
			}
		}
		if edit.HasNextFileNumber && edit.NextFileNumber > maxFileNumSeen {
			maxFileNumSeen = edit.NextFileNumber - 1
		}
		if edit.HasLastSequence {
			hasLastSequence = true
			vs.lastSequence.Store(uint64(edit.LastSequence))
		}
		for _, nf := range edit.NewFiles {
			if nf.Meta.FileNumber > maxFileNumSeen {
				maxFileNumSeen = nf.Meta.FileNumber
			}
		}
	}

	if !hasLogNumber {
		return errors.Wrap(ErrCorruption, "manifest missing log number")
	}
	if !hasLastSequence {
		return errors.Wrap(ErrCorruption, "manifest missing last sequence")
	}

	// Never reuse a file number referenced by recovered state.
	vs.nextFileNumber.Store(maxFileNumSeen + 1)

	v, err := builder.Save()
	if err != nil {
		return err
	}
	vs.manifestFileNumber = manifestNum
	vs.current = v
	vs.current.Ref()
	vs.appendVersion(vs.current)
	return nil
}

// LogAndApply writes an edit to the MANIFEST, syncs it, and installs the
// resulting version as current.
func (vs *VersionSet) LogAndApply(edit *manifest.VersionEdit) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	builder := NewBuilder(vs, vs.current)
	if err := builder.Apply(edit); err != nil {
		return err
	}
	newVersion, err := builder.Save()
	if err != nil {
		return err
	}

	if err := vs.writeEditLocked(edit); err != nil {
		return err
	}
	if edit.HasLogNumber {
		vs.logNumber = edit.LogNumber
	}

	vs.appendVersion(newVersion)
	newVersion.Ref()
	if vs.current != nil {
		vs.current.Unref()
	}
	vs.current = newVersion
	return nil
}

// writeEditLocked appends an edit to the MANIFEST, creating the file (and
// rewriting CURRENT) if needed. Caller holds mu.
func (vs *VersionSet) writeEditLocked(edit *manifest.VersionEdit) error {
	// Persist the allocator with every edit so recovery never reuses
	// file numbers.
	edit.SetNextFileNumber(vs.nextFileNumber.Load())
	if !edit.HasLastSequence {
		edit.SetLastSequence(vs.LastSequence())
	}

	newManifest := vs.manifestWriter == nil
	if newManifest {
		manifestNum := vs.NextFileNumber()
		file, err := vs.opts.FS.Create(vs.manifestFilePath(manifestNum))
		if err != nil {
			return err
		}
		vs.manifestFile = file
		vs.manifestWriter = wal.NewWriter(file)
		vs.manifestFileNumber = manifestNum

		// A fresh MANIFEST starts with a snapshot of the current state.
		snapshot := vs.snapshotEditLocked()
		if err := vs.manifestWriter.AddRecord(snapshot.Encode()); err != nil {
			return err
		}
	}

	if err := vs.manifestWriter.AddRecord(edit.Encode()); err != nil {
		return err
	}
	if err := vs.manifestFile.Sync(); err != nil {
		return err
	}

	// CURRENT flips only after the MANIFEST it names is durable.
	if newManifest {
		if err := vs.setCurrentFile(vs.manifestFileNumber); err != nil {
			return err
		}
	}
	return nil
}

// snapshotEditLocked captures the complete current state as one edit.
func (vs *VersionSet) snapshotEditLocked() *manifest.VersionEdit {
	edit := &manifest.VersionEdit{}
	edit.SetComparatorName(ComparatorName)
	edit.SetLogNumber(vs.logNumber)
	edit.SetNextFileNumber(vs.nextFileNumber.Load())
	edit.SetLastSequence(vs.LastSequence())
	if vs.current != nil {
		for level := range NumLevels {
			for _, f := range vs.current.files[level] {
				edit.AddFile(level, f)
			}
		}
	}
	return edit
}

// setCurrentFile atomically points CURRENT at the given manifest.
func (vs *VersionSet) setCurrentFile(manifestNum uint64) error {
	tempPath := filepath.Join(vs.opts.DirName, "CURRENT.tmp")
	currentPath := filepath.Join(vs.opts.DirName, "CURRENT")

	tempFile, err := vs.opts.FS.Create(tempPath)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("MANIFEST-%06d\n", manifestNum)
	if _, err := tempFile.Write([]byte(content)); err != nil {
		_ = tempFile.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return err
	}
	if err := tempFile.Close(); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return err
	}
	if err := vs.opts.FS.Rename(tempPath, currentPath); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return err
	}
	return vs.opts.FS.SyncDir(vs.opts.DirName)
}

// SyncManifest forces the MANIFEST to stable storage.
func (vs *VersionSet) SyncManifest() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.manifestFile == nil {
		return nil
	}
	return vs.manifestFile.Sync()
}

// Close releases the MANIFEST writer.
func (vs *VersionSet) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.manifestFile != nil {
		err := vs.manifestFile.Close()
		vs.manifestFile = nil
		vs.manifestWriter = nil
		return err
	}
	return nil
}

// LiveFiles returns the file numbers referenced by any live version.
func (vs *VersionSet) LiveFiles() map[uint64]struct{} {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	live := make(map[uint64]struct{})
	for v := vs.dummyVersions.next; v != &vs.dummyVersions; v = v.next {
		for level := range NumLevels {
			for _, f := range v.files[level] {
				live[f.FileNumber] = struct{}{}
			}
		}
	}
	return live
}

func (vs *VersionSet) appendVersion(v *Version) {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	v.prev = vs.dummyVersions.prev
	v.next = &vs.dummyVersions
	v.prev.next = v
	v.next.prev = v
}

func (vs *VersionSet) manifestFilePath(num uint64) string {
	return filepath.Join(vs.opts.DirName, fmt.Sprintf("MANIFEST-%06d", num))
}

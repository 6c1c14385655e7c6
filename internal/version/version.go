// Package version tracks which SSTables belong to which level.
//
// A Version is an immutable snapshot of level membership. The VersionSet
// owns the current version, the MANIFEST, and the file number and
// sequence counters. New versions are produced by applying VersionEdits
// and installed with an atomic swap, so readers always observe a
// consistent file set.
package version

import (
	"sync/atomic"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/manifest"
)

// NumLevels is the number of levels in the LSM tree.
const NumLevels = 7

// Version is an immutable snapshot of the file layout.
//
// L0 files may overlap and are ordered oldest-first by file number (reads
// walk them newest-first). Files in L1+ are disjoint and sorted by
// smallest key. Versions are reference counted; readers hold a reference
// for the duration of a read so obsolete files are never deleted from
// under them.
type Version struct {
	files [NumLevels][]*manifest.FileMetadata

	refs int32
	vset *VersionSet

	prev *Version
	next *Version
}

// NewVersion creates an empty version.
func NewVersion(vset *VersionSet) *Version {
	return &Version{vset: vset}
}

// Ref increments the reference count.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count, unlinking the version when it
// drops to zero.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refs, -1) == 0 {
		if v.vset != nil {
			v.vset.listMu.Lock()
			defer v.vset.listMu.Unlock()
		}
		if v.prev != nil {
			v.prev.next = v.next
		}
		if v.next != nil {
			v.next.prev = v.prev
		}
		v.prev = nil
		v.next = nil
	}
}

// NumFiles returns the number of files at the given level.
func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= NumLevels {
		return 0
	}
	return len(v.files[level])
}

// Files returns the files at the given level.
func (v *Version) Files(level int) []*manifest.FileMetadata {
	if level < 0 || level >= NumLevels {
		return nil
	}
	return v.files[level]
}

// TotalFiles returns the number of files across all levels.
func (v *Version) TotalFiles() int {
	total := 0
	for level := range NumLevels {
		total += len(v.files[level])
	}
	return total
}

// LevelBytes returns the total size of files at the given level.
func (v *Version) LevelBytes(level int) uint64 {
	if level < 0 || level >= NumLevels {
		return 0
	}
	var size uint64
	for _, f := range v.files[level] {
		size += f.FileSize
	}
	return size
}

// MaxPopulatedLevel returns the deepest level holding any file, or -1 for
// an empty tree.
func (v *Version) MaxPopulatedLevel() int {
	for level := NumLevels - 1; level >= 0; level-- {
		if len(v.files[level]) > 0 {
			return level
		}
	}
	return -1
}

// OverlappingInputs returns the files at level whose key range intersects
// [smallest, largest] (internal keys; nil means unbounded). Overlap is
// judged on user keys: two files holding different versions of the same
// user key overlap even when their internal key ranges are disjoint.
func (v *Version) OverlappingInputs(level int, smallest, largest []byte) []*manifest.FileMetadata {
	var result []*manifest.FileMetadata
	for _, f := range v.Files(level) {
		if smallest != nil &&
			dbformat.CompareUserKeys(dbformat.UserKey(f.Largest), dbformat.UserKey(smallest)) < 0 {
			continue
		}
		if largest != nil &&
			dbformat.CompareUserKeys(dbformat.UserKey(f.Smallest), dbformat.UserKey(largest)) > 0 {
			continue
		}
		result = append(result, f)
	}
	return result
}

// UserKeyOverlapsLevel reports whether any file at level may contain the
// user key.
func (v *Version) UserKeyOverlapsLevel(level int, userKey []byte) bool {
	if level == 0 {
		for _, f := range v.files[0] {
			if dbformat.CompareUserKeys(userKey, dbformat.UserKey(f.Smallest)) >= 0 &&
				dbformat.CompareUserKeys(userKey, dbformat.UserKey(f.Largest)) <= 0 {
				return true
			}
		}
		return false
	}
	return FindFile(v.Files(level), userKey) != nil
}

// FindFile returns the unique file in a sorted non-overlapping level that
// may contain userKey, or nil.
func FindFile(files []*manifest.FileMetadata, userKey []byte) *manifest.FileMetadata {
	lo, hi := 0, len(files)
	for lo < hi {
		mid := (lo + hi) / 2
		if dbformat.CompareUserKeys(dbformat.UserKey(files[mid].Largest), userKey) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(files) {
		return nil
	}
	f := files[lo]
	if dbformat.CompareUserKeys(userKey, dbformat.UserKey(f.Smallest)) < 0 {
		return nil
	}
	return f
}

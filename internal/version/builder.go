package version

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/manifest"
)

// ErrLevelOverlap is returned when applying an edit would leave a level
// above L0 with overlapping files.
var ErrLevelOverlap = errors.New("version: overlapping files above level 0")

// Builder applies a sequence of edits to a base version and produces the
// resulting version without materializing intermediates.
type Builder struct {
	vset *VersionSet
	base *Version

	addedFiles   [NumLevels]map[uint64]*manifest.FileMetadata
	deletedFiles [NumLevels]map[uint64]struct{}
}

// NewBuilder creates a builder over the given base version (which may be
// nil for an empty base).
func NewBuilder(vset *VersionSet, base *Version) *Builder {
	b := &Builder{vset: vset, base: base}
	for i := range NumLevels {
		b.addedFiles[i] = make(map[uint64]*manifest.FileMetadata)
		b.deletedFiles[i] = make(map[uint64]struct{})
	}
	return b
}

// Apply folds one edit into the builder.
func (b *Builder) Apply(edit *manifest.VersionEdit) error {
	for _, df := range edit.DeletedFiles {
		if df.Level < 0 || df.Level >= NumLevels {
			return errors.Newf("version: deleted file at invalid level %d", df.Level)
		}
		if _, wasAdded := b.addedFiles[df.Level][df.FileNumber]; wasAdded {
			delete(b.addedFiles[df.Level], df.FileNumber)
			continue
		}
		b.deletedFiles[df.Level][df.FileNumber] = struct{}{}
	}

	for _, nf := range edit.NewFiles {
		if nf.Level < 0 || nf.Level >= NumLevels {
			return errors.Newf("version: new file at invalid level %d", nf.Level)
		}
		delete(b.deletedFiles[nf.Level], nf.Meta.FileNumber)
		b.addedFiles[nf.Level][nf.Meta.FileNumber] = nf.Meta
	}
	return nil
}

// Save materializes the accumulated state as a new version, verifying the
// non-overlap invariant for levels above 0.
func (b *Builder) Save() (*Version, error) {
	v := NewVersion(b.vset)

	for level := range NumLevels {
		var files []*manifest.FileMetadata
		if b.base != nil {
			for _, f := range b.base.files[level] {
				if _, deleted := b.deletedFiles[level][f.FileNumber]; deleted {
					continue
				}
				files = append(files, f)
			}
		}
		for _, f := range b.addedFiles[level] {
			files = append(files, f)
		}

		if level == 0 {
			// L0 files overlap; order by file number so reads can walk
			// them newest-first.
			sort.Slice(files, func(i, j int) bool {
				return files[i].FileNumber < files[j].FileNumber
			})
		} else {
			sort.Slice(files, func(i, j int) bool {
				return dbformat.CompareInternalKeys(files[i].Smallest, files[j].Smallest) < 0
			})
			for i := 1; i < len(files); i++ {
				if dbformat.CompareUserKeys(
					dbformat.UserKey(files[i-1].Largest),
					dbformat.UserKey(files[i].Smallest)) >= 0 {
					return nil, errors.Wrapf(ErrLevelOverlap,
						"level %d files %d and %d", level, files[i-1].FileNumber, files[i].FileNumber)
				}
			}
		}
		v.files[level] = files
	}

	return v, nil
}

package compaction

import (
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/iterator"
	"github.com/willzeng274/MidDB/internal/manifest"
	"github.com/willzeng274/MidDB/internal/table"
	"github.com/willzeng274/MidDB/internal/version"
	"github.com/willzeng274/MidDB/internal/vfs"
)

// TableSource supplies open table readers for input files.
type TableSource interface {
	Reader(fileNumber uint64) (*table.Reader, error)
}

// JobOptions configures a compaction job.
type JobOptions struct {
	// DirName is the database directory.
	DirName string

	// FS is the filesystem.
	FS vfs.FS

	// Tables opens input file readers.
	Tables TableSource

	// NextFileNumber allocates output file numbers.
	NextFileNumber func() uint64

	// MinSnapshot is the smallest sequence any open snapshot or
	// transaction may read at; versions at or above it are preserved.
	// When nothing is open this is the current last sequence.
	MinSnapshot dbformat.SequenceNumber

	// Builder configures output tables.
	Builder table.BuilderOptions
}

// Job executes one compaction: merge the inputs, drop shadowed versions,
// and write the outputs.
type Job struct {
	compaction *Compaction
	opts       JobOptions

	outputs []*manifest.FileMetadata

	builder     *table.Builder
	outputFile  vfs.WritableFile
	currentMeta *manifest.FileMetadata
}

// NewJob creates a job for the given compaction.
func NewJob(c *Compaction, opts JobOptions) *Job {
	return &Job{compaction: c, opts: opts}
}

// Run merges the inputs into new output files. On error every partial
// output is removed and the previous version is left untouched.
func (j *Job) Run() ([]*manifest.FileMetadata, error) {
	if j.compaction.IsTrivialMove() {
		return j.trivialMove()
	}

	iters, err := j.inputIterators()
	if err != nil {
		return nil, err
	}

	merged := iterator.NewMerging(iters...)
	if err := j.mergeEntries(merged); err != nil {
		j.discardOutputs()
		return nil, err
	}

	if err := j.opts.FS.SyncDir(j.opts.DirName); err != nil {
		j.discardOutputs()
		return nil, err
	}

	j.compaction.AddInputDeletions()
	for _, meta := range j.outputs {
		j.compaction.Edit.AddFile(j.compaction.OutputLevel, meta)
	}
	return j.outputs, nil
}

// trivialMove re-parents a single input file without rewriting it.
func (j *Job) trivialMove() ([]*manifest.FileMetadata, error) {
	f := j.compaction.Inputs[0].Files[0]
	j.compaction.Edit.DeleteFile(j.compaction.StartLevel, f.FileNumber)
	j.compaction.Edit.AddFile(j.compaction.OutputLevel, f)
	return nil, nil
}

func (j *Job) inputIterators() ([]iterator.Iterator, error) {
	var iters []iterator.Iterator
	for _, in := range j.compaction.Inputs {
		for _, f := range in.Files {
			reader, err := j.opts.Tables.Reader(f.FileNumber)
			if err != nil {
				return nil, errors.Wrapf(err, "compaction input %06d", f.FileNumber)
			}
			iters = append(iters, reader.NewIter())
		}
	}
	return iters, nil
}

// mergeEntries walks the merged inputs in internal key order and applies
// the version retention rules.
func (j *Job) mergeEntries(merged *iterator.Merging) error {
	var currentUserKey []byte
	hasCurrentUserKey := false
	// Sequence of the previous (newer) entry for the current user key.
	lastSequenceForKey := dbformat.MaxSequenceNumber

	for merged.SeekToFirst(); merged.Valid(); merged.Next() {
		key := merged.Key()
		parsed, err := dbformat.ParseInternalKey(key)
		if err != nil {
			return errors.CombineErrors(table.ErrCorrupt, err)
		}

		if !hasCurrentUserKey || dbformat.CompareUserKeys(parsed.UserKey, currentUserKey) != 0 {
			currentUserKey = append(currentUserKey[:0], parsed.UserKey...)
			hasCurrentUserKey = true
			lastSequenceForKey = dbformat.MaxSequenceNumber
		}

		drop := false
		switch {
		case lastSequenceForKey <= j.opts.MinSnapshot:
			// A newer version of this key is already visible at the
			// oldest snapshot; nothing below it can ever be read.
			drop = true
		case parsed.Kind == dbformat.KindDelete &&
			parsed.Sequence <= j.opts.MinSnapshot &&
			j.isBaseLevelForKey(parsed.UserKey):
			// The tombstone shadows nothing in deeper levels and every
			// open snapshot already sees the deletion.
			drop = true
		}
		lastSequenceForKey = parsed.Sequence

		if drop {
			continue
		}
		if err := j.addToOutput(key, merged.Value()); err != nil {
			return err
		}
	}
	if err := merged.Error(); err != nil {
		return err
	}
	return j.finishOutput()
}

// isBaseLevelForKey reports whether the output level is the deepest level
// holding any file and no level below it can contain the user key.
func (j *Job) isBaseLevelForKey(userKey []byte) bool {
	v := j.compaction.Version
	if v == nil {
		return false
	}
	if j.compaction.OutputLevel < v.MaxPopulatedLevel() {
		return false
	}
	for level := j.compaction.OutputLevel + 1; level < version.NumLevels; level++ {
		if v.UserKeyOverlapsLevel(level, userKey) {
			return false
		}
	}
	return true
}

func (j *Job) addToOutput(internalKey, value []byte) error {
	// Roll the output at the size threshold, but never split the
	// versions of one user key across files: the level invariant keys
	// off user-key ranges.
	if j.builder != nil && j.builder.FileSize() >= j.compaction.MaxOutputFileSize {
		if j.currentMeta.Largest == nil ||
			dbformat.CompareUserKeys(dbformat.UserKey(internalKey), dbformat.UserKey(j.currentMeta.Largest)) != 0 {
			if err := j.finishOutput(); err != nil {
				return err
			}
		}
	}

	if j.builder == nil {
		if err := j.openOutput(); err != nil {
			return err
		}
	}

	if err := j.builder.Add(internalKey, value); err != nil {
		return err
	}
	if j.currentMeta.Smallest == nil {
		j.currentMeta.Smallest = append([]byte(nil), internalKey...)
	}
	j.currentMeta.Largest = append(j.currentMeta.Largest[:0], internalKey...)
	return nil
}

func (j *Job) openOutput() error {
	fileNum := j.opts.NextFileNumber()
	file, err := j.opts.FS.Create(sstPath(j.opts.DirName, fileNum))
	if err != nil {
		return err
	}
	j.outputFile = file
	j.builder = table.NewBuilder(file, j.opts.Builder)
	j.currentMeta = &manifest.FileMetadata{FileNumber: fileNum}
	return nil
}

func (j *Job) finishOutput() error {
	if j.builder == nil {
		return nil
	}

	if j.builder.NumEntries() == 0 {
		j.builder.Abandon()
		_ = j.outputFile.Close()
		_ = j.opts.FS.Remove(sstPath(j.opts.DirName, j.currentMeta.FileNumber))
		j.builder, j.outputFile, j.currentMeta = nil, nil, nil
		return nil
	}

	if err := j.builder.Finish(); err != nil {
		return err
	}
	j.currentMeta.FileSize = j.builder.FileSize()

	if err := j.outputFile.Sync(); err != nil {
		return err
	}
	if err := j.outputFile.Close(); err != nil {
		return err
	}

	j.outputs = append(j.outputs, j.currentMeta)
	j.builder, j.outputFile, j.currentMeta = nil, nil, nil
	return nil
}

// discardOutputs removes every file written so far.
func (j *Job) discardOutputs() {
	if j.outputFile != nil {
		_ = j.outputFile.Close()
		if j.currentMeta != nil {
			_ = j.opts.FS.Remove(sstPath(j.opts.DirName, j.currentMeta.FileNumber))
		}
		j.builder, j.outputFile, j.currentMeta = nil, nil, nil
	}
	for _, meta := range j.outputs {
		_ = j.opts.FS.Remove(sstPath(j.opts.DirName, meta.FileNumber))
	}
	j.outputs = nil
}

func sstPath(dir string, fileNum uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.sst", fileNum))
}

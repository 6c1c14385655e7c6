// Package compaction implements leveled compaction: input selection and
// the merge that rewrites inputs into the next level.
package compaction

import (
	"github.com/willzeng274/MidDB/internal/manifest"
	"github.com/willzeng274/MidDB/internal/version"
)

// InputFiles is the set of files participating from one level.
type InputFiles struct {
	Level int
	Files []*manifest.FileMetadata
}

// Compaction describes one unit of compaction work: the input files from
// the start level and the overlapping files from the output level.
type Compaction struct {
	// Inputs[0] holds the start-level files, Inputs[1] (if present) the
	// output-level files.
	Inputs []InputFiles

	// StartLevel and OutputLevel bound the compaction; OutputLevel is
	// StartLevel+1 except for L0, which also outputs to level 1.
	StartLevel  int
	OutputLevel int

	// MaxOutputFileSize rolls output files when exceeded.
	MaxOutputFileSize uint64

	// Edit accumulates the deletions and additions to install.
	Edit manifest.VersionEdit

	// Version is the version the inputs were picked from. The picker
	// holds a reference that the runner releases.
	Version *version.Version
}

// NumInputFiles returns the total number of input files.
func (c *Compaction) NumInputFiles() int {
	n := 0
	for _, in := range c.Inputs {
		n += len(in.Files)
	}
	return n
}

// IsTrivialMove reports whether the compaction can be performed by
// re-parenting a single file without rewriting it: one start-level file
// and nothing overlapping in the output level.
func (c *Compaction) IsTrivialMove() bool {
	if len(c.Inputs) != 1 || len(c.Inputs[0].Files) != 1 {
		return false
	}
	return c.StartLevel != c.OutputLevel
}

// AddInputDeletions records every input file as deleted in the edit.
func (c *Compaction) AddInputDeletions() {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			c.Edit.DeleteFile(in.Level, f.FileNumber)
		}
	}
}

// Release drops the version reference held by the compaction.
func (c *Compaction) Release() {
	if c.Version != nil {
		c.Version.Unref()
		c.Version = nil
	}
}

package compaction

import (
	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/manifest"
	"github.com/willzeng274/MidDB/internal/version"
)

// PickerOptions configures compaction triggering.
type PickerOptions struct {
	// L0CompactionTrigger is the L0 file count that starts a compaction.
	L0CompactionTrigger int

	// BaseLevelBytes is the byte budget for L1.
	BaseLevelBytes uint64

	// LevelBytesMultiplier grows the budget per level.
	LevelBytesMultiplier float64

	// MaxOutputFileSize rolls compaction outputs.
	MaxOutputFileSize uint64
}

// DefaultPickerOptions returns the standard trigger configuration.
func DefaultPickerOptions() PickerOptions {
	return PickerOptions{
		L0CompactionTrigger:  4,
		BaseLevelBytes:       10 * 1024 * 1024,
		LevelBytesMultiplier: 10.0,
		MaxOutputFileSize:    2 * 1024 * 1024,
	}
}

// Picker selects compaction inputs for a leveled LSM.
type Picker struct {
	opts PickerOptions
}

// NewPicker creates a picker.
func NewPicker(opts PickerOptions) *Picker {
	if opts.L0CompactionTrigger <= 0 {
		opts.L0CompactionTrigger = 4
	}
	if opts.BaseLevelBytes == 0 {
		opts.BaseLevelBytes = 10 * 1024 * 1024
	}
	if opts.LevelBytesMultiplier <= 1 {
		opts.LevelBytesMultiplier = 10.0
	}
	return &Picker{opts: opts}
}

// levelBudget returns the byte budget for a level >= 1.
func (p *Picker) levelBudget(level int) uint64 {
	budget := float64(p.opts.BaseLevelBytes)
	for i := 1; i < level; i++ {
		budget *= p.opts.LevelBytesMultiplier
	}
	return uint64(budget)
}

// score computes the compaction urgency of a level; >= 1.0 means due.
func (p *Picker) score(v *version.Version, level int) float64 {
	if level == 0 {
		return float64(v.NumFiles(0)) / float64(p.opts.L0CompactionTrigger)
	}
	return float64(v.LevelBytes(level)) / float64(p.levelBudget(level))
}

// NeedsCompaction reports whether any level is due.
func (p *Picker) NeedsCompaction(v *version.Version) bool {
	level, score := p.pickLevel(v)
	return level >= 0 && score >= 1.0
}

func (p *Picker) pickLevel(v *version.Version) (int, float64) {
	bestLevel, bestScore := -1, 0.0
	for level := 0; level < version.NumLevels-1; level++ {
		if score := p.score(v, level); score > bestScore {
			bestLevel, bestScore = level, score
		}
	}
	return bestLevel, bestScore
}

// Pick selects the next compaction from the current version of vs, or nil
// if nothing is due. The returned compaction holds a reference on the
// version it was picked from.
func (p *Picker) Pick(vs *version.VersionSet) *Compaction {
	v := vs.Current()
	if v == nil {
		return nil
	}

	level, score := p.pickLevel(v)
	if level < 0 || score < 1.0 {
		v.Unref()
		return nil
	}

	c := p.pickInputs(vs, v, level)
	if c == nil {
		v.Unref()
		return nil
	}
	return c
}

// PickRange builds a compaction of the files at level overlapping the
// given internal key range, for manual compaction. Returns nil when the
// level has no overlapping files.
func (p *Picker) PickRange(vs *version.VersionSet, level int, smallest, largest []byte) *Compaction {
	v := vs.Current()
	if v == nil {
		return nil
	}
	start := v.OverlappingInputs(level, smallest, largest)
	if len(start) == 0 {
		v.Unref()
		return nil
	}
	// The round-robin cursor is not advanced for manual compactions.
	return p.buildCompaction(v, level, start)
}

// pickInputs chooses the start file by round-robin cursor and expands it
// per the overlap rules.
func (p *Picker) pickInputs(vs *version.VersionSet, v *version.Version, level int) *Compaction {
	files := v.Files(level)
	if len(files) == 0 {
		return nil
	}

	cursor := vs.CompactPointer(level)
	var seed *manifest.FileMetadata
	for _, f := range files {
		if cursor == nil || dbformat.CompareInternalKeys(f.Largest, cursor) > 0 {
			seed = f
			break
		}
	}
	if seed == nil {
		// Cursor wrapped past the last file.
		seed = files[0]
	}

	start := []*manifest.FileMetadata{seed}
	if level == 0 {
		// L0 files overlap each other, so the chosen range must absorb
		// every transitively overlapping L0 file.
		start = expandL0(v, seed)
	}

	c := p.buildCompaction(v, level, start)

	// Advance the round-robin cursor past these inputs.
	largest := start[0].Largest
	for _, f := range start[1:] {
		if dbformat.CompareInternalKeys(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	vs.SetCompactPointer(level, largest)

	return c
}

// buildCompaction expands the start set with output-level overlaps and
// optionally grows the start level while that adds no new output files.
func (p *Picker) buildCompaction(v *version.Version, level int, start []*manifest.FileMetadata) *Compaction {
	outputLevel := level + 1
	smallest, largest := keyRange(start)
	outputs := v.OverlappingInputs(outputLevel, smallest, largest)

	// Growing the start set is free as long as it drags in no additional
	// output-level files.
	if len(outputs) > 0 {
		allSmallest, allLargest := keyRange(append(append([]*manifest.FileMetadata{}, start...), outputs...))
		grown := v.OverlappingInputs(level, allSmallest, allLargest)
		if len(grown) > len(start) {
			grownSmallest, grownLargest := keyRange(grown)
			regrownOutputs := v.OverlappingInputs(outputLevel, grownSmallest, grownLargest)
			if len(regrownOutputs) == len(outputs) {
				start = grown
			}
		}
	}

	c := &Compaction{
		StartLevel:        level,
		OutputLevel:       outputLevel,
		MaxOutputFileSize: p.opts.MaxOutputFileSize,
		Version:           v,
	}
	c.Inputs = append(c.Inputs, InputFiles{Level: level, Files: start})
	if len(outputs) > 0 {
		c.Inputs = append(c.Inputs, InputFiles{Level: outputLevel, Files: outputs})
	}
	return c
}

// expandL0 grows the seed to the transitive closure of overlapping L0
// files.
func expandL0(v *version.Version, seed *manifest.FileMetadata) []*manifest.FileMetadata {
	picked := map[uint64]bool{seed.FileNumber: true}
	result := []*manifest.FileMetadata{seed}
	smallest, largest := seed.Smallest, seed.Largest

	for {
		grew := false
		for _, f := range v.Files(0) {
			if picked[f.FileNumber] {
				continue
			}
			if dbformat.CompareUserKeys(dbformat.UserKey(f.Largest), dbformat.UserKey(smallest)) < 0 ||
				dbformat.CompareUserKeys(dbformat.UserKey(f.Smallest), dbformat.UserKey(largest)) > 0 {
				continue
			}
			picked[f.FileNumber] = true
			result = append(result, f)
			if dbformat.CompareInternalKeys(f.Smallest, smallest) < 0 {
				smallest = f.Smallest
			}
			if dbformat.CompareInternalKeys(f.Largest, largest) > 0 {
				largest = f.Largest
			}
			grew = true
		}
		if !grew {
			return result
		}
	}
}

// keyRange returns the smallest and largest internal keys across files.
func keyRange(files []*manifest.FileMetadata) (smallest, largest []byte) {
	for _, f := range files {
		if smallest == nil || dbformat.CompareInternalKeys(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if largest == nil || dbformat.CompareInternalKeys(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	return smallest, largest
}

package db

import (
	"path/filepath"

	"github.com/willzeng274/MidDB/internal/compaction"
	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/logging"
	"github.com/willzeng274/MidDB/internal/memtable"
)

// notifyBackground nudges the background worker without blocking.
func (d *database) notifyBackground() {
	select {
	case d.bgWork <- struct{}{}:
	default:
	}
}

// backgroundWorker is the single background goroutine: it flushes frozen
// memtables and runs compactions until the database closes.
func (d *database) backgroundWorker() {
	defer d.bgDone.Done()
	for {
		select {
		case <-d.bgStop:
			return
		case <-d.bgWork:
		}
		d.compactionMu.Lock()
		d.backgroundWork()
		d.compactionMu.Unlock()
	}
}

func (d *database) backgroundWork() {
	d.flushPending()
	if d.opts.BackgroundCompaction {
		d.compactPending()
	}
}

// flushPending drains the immutable memtable list, oldest first.
func (d *database) flushPending() {
	for {
		if d.stopping() {
			return
		}

		d.mu.RLock()
		var mt *memtable.MemTable
		retiredBelow := uint64(0)
		if len(d.imm) > 0 {
			mt = d.imm[0]
			// Once mt is flushed, the oldest WAL still needed is the one
			// backing the next memtable in line.
			if len(d.imm) > 1 {
				retiredBelow = d.imm[1].LogNumber()
			} else {
				retiredBelow = d.mem.LogNumber()
			}
		}
		d.mu.RUnlock()
		if mt == nil {
			return
		}

		if err := d.flushMemTable(mt, retiredBelow); err != nil {
			d.recordBackgroundError(err)
			return
		}

		d.mu.Lock()
		d.imm = d.imm[1:]
		d.flushCond.Broadcast()
		d.mu.Unlock()
		mt.Unref()

		d.deleteObsoleteFiles()
	}
}

// compactPending runs compactions until no level is over its trigger.
func (d *database) compactPending() {
	for !d.stopping() {
		v := d.versions.Current()
		due := d.picker.NeedsCompaction(v)
		v.Unref()
		if !due {
			return
		}
		if !d.compactOnce() {
			return
		}
	}
}

// compactOnce picks and runs one compaction. Returns false when no work
// was done or the compaction failed.
func (d *database) compactOnce() bool {
	c := d.picker.Pick(d.versions)
	if c == nil {
		return false
	}
	return d.runCompaction(c)
}

// runCompaction executes a compaction and installs its edit. A failed
// compaction is discarded, never fatal: the previous version stays
// intact.
func (d *database) runCompaction(c *compaction.Compaction) bool {
	defer c.Release()

	minSnapshot := d.snapshots.min(d.versions.LastSequence())
	d.logger.Infof(logging.NSCompact+"L%d -> L%d: %d input files (min snapshot %d)",
		c.StartLevel, c.OutputLevel, c.NumInputFiles(), minSnapshot)

	job := compaction.NewJob(c, compaction.JobOptions{
		DirName:        d.dirname,
		FS:             d.fs,
		Tables:         d.tables,
		NextFileNumber: d.versions.NextFileNumber,
		MinSnapshot:    minSnapshot,
		Builder:        d.builderOptions(),
	})
	outputs, err := job.Run()
	if err != nil {
		d.logger.Errorf(logging.NSCompact+"compaction discarded: %v", err)
		return false
	}

	if err := d.versions.LogAndApply(&c.Edit); err != nil {
		// Losing the manifest write is fatal; outputs are orphaned and
		// swept on the next open.
		d.recordBackgroundError(err)
		return false
	}

	d.logger.Infof(logging.NSCompact+"L%d -> L%d complete: %d output files",
		c.StartLevel, c.OutputLevel, len(outputs))
	d.deleteObsoleteFiles()
	return true
}

// CompactRange compacts all levels overlapping [start, end], top down.
func (d *database) CompactRange(start, end []byte) error {
	if err := d.writable(); err != nil {
		return err
	}
	if err := d.Flush(); err != nil {
		return err
	}

	var smallest, largest []byte
	if start != nil {
		smallest = dbformat.MakeInternalKey(start, dbformat.MaxSequenceNumber, dbformat.KindForSeek)
	}
	if end != nil {
		largest = dbformat.MakeInternalKey(end, 0, dbformat.KindDelete)
	}

	d.compactionMu.Lock()
	defer d.compactionMu.Unlock()

	// Compact down to the deepest populated level (at least into L1), but
	// no further: manual compaction flattens the range, it does not push
	// data to the bottom of the tree.
	v := d.versions.Current()
	maxLevel := v.MaxPopulatedLevel()
	v.Unref()
	if maxLevel < 1 {
		maxLevel = 1
	}

	for level := 0; level < maxLevel; level++ {
		c := d.picker.PickRange(d.versions, level, smallest, largest)
		if c == nil {
			continue
		}
		if !d.runCompaction(c) {
			d.mu.RLock()
			err := d.bgErr
			d.mu.RUnlock()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *database) stopping() bool {
	select {
	case <-d.bgStop:
		return true
	default:
		return false
	}
}

// deleteObsoleteFiles removes files referenced by no live version: old
// WAL segments, superseded manifests, and unreferenced SSTables.
func (d *database) deleteObsoleteFiles() {
	live := d.versions.LiveFiles()
	logNumber := d.versions.LogNumber()
	manifestNumber := d.versions.ManifestFileNumber()

	names, err := d.fs.ListDir(d.dirname)
	if err != nil {
		d.logger.Warnf(logging.NSDB+"obsolete file sweep: %v", err)
		return
	}

	for _, name := range names {
		ft, num := parseFileName(name)
		keep := true
		switch ft {
		case fileTypeLog:
			keep = num >= logNumber
		case fileTypeTable:
			_, keep = live[num]
		case fileTypeManifest:
			keep = num >= manifestNumber
		case fileTypeTemp:
			keep = false
		case fileTypeCurrent, fileTypeLock, fileTypeUnknown:
			keep = true
		}
		if keep {
			continue
		}
		if ft == fileTypeTable {
			d.tables.Evict(num)
		}
		if err := d.fs.Remove(filepath.Join(d.dirname, name)); err != nil {
			d.logger.Warnf(logging.NSDB+"remove obsolete %s: %v", name, err)
		} else {
			d.logger.Debugf(logging.NSDB+"removed obsolete %s", name)
		}
	}
}

package db

import (
	"github.com/willzeng274/MidDB/internal/logging"
	"github.com/willzeng274/MidDB/internal/manifest"
	"github.com/willzeng274/MidDB/internal/memtable"
	"github.com/willzeng274/MidDB/internal/table"
)

// flushMemTable writes mt as a level-0 SSTable and installs it.
// retiredBelow is recorded as the new log number: WAL files below it hold
// only flushed data and become garbage once the edit is durable.
func (d *database) flushMemTable(mt *memtable.MemTable, retiredBelow uint64) error {
	fileNum := d.versions.NextFileNumber()
	path := sstFilePath(d.dirname, fileNum)
	d.logger.Infof(logging.NSFlush+"flushing memtable (%d entries) to %06d.sst", mt.Count(), fileNum)

	file, err := d.fs.Create(path)
	if err != nil {
		return err
	}

	builder := table.NewBuilder(file, d.builderOptions())
	meta := &manifest.FileMetadata{FileNumber: fileNum}

	iter := mt.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		if err := builder.Add(iter.Key(), iter.Value()); err != nil {
			builder.Abandon()
			_ = file.Close()
			_ = d.fs.Remove(path)
			return err
		}
		if meta.Smallest == nil {
			meta.Smallest = append([]byte(nil), iter.Key()...)
		}
		meta.Largest = append(meta.Largest[:0], iter.Key()...)
	}

	if builder.NumEntries() == 0 {
		builder.Abandon()
		_ = file.Close()
		_ = d.fs.Remove(path)
		return nil
	}

	if err := builder.Finish(); err != nil {
		_ = file.Close()
		_ = d.fs.Remove(path)
		return err
	}
	meta.FileSize = builder.FileSize()

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	// The directory entry must be durable before the MANIFEST can
	// reference the file.
	if err := d.fs.SyncDir(d.dirname); err != nil {
		return err
	}

	edit := &manifest.VersionEdit{}
	edit.AddFile(0, meta)
	edit.SetLogNumber(retiredBelow)
	edit.SetLastSequence(d.versions.LastSequence())
	if err := d.versions.LogAndApply(edit); err != nil {
		return err
	}

	d.logger.Infof(logging.NSFlush+"installed %06d.sst at L0 (%d bytes)", fileNum, meta.FileSize)
	return nil
}

// Flush freezes the active memtable and blocks until every frozen
// memtable has reached level 0.
func (d *database) Flush() error {
	if err := d.writable(); err != nil {
		return err
	}

	d.writeMu.Lock()
	var err error
	d.mu.RLock()
	empty := d.mem.Empty()
	d.mu.RUnlock()
	if !empty {
		err = d.rotateMemTable()
	}
	d.writeMu.Unlock()
	if err != nil {
		return err
	}

	d.notifyBackground()

	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.imm) > 0 && d.bgErr == nil {
		d.flushCond.Wait()
	}
	return d.bgErr
}

// Package db implements the MidDB embedding API: an embedded ordered
// key-value store with an LSM storage engine, snapshot-isolated
// transactions, and leveled background compaction.
package db

import (
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/batch"
	"github.com/willzeng274/MidDB/internal/compaction"
	"github.com/willzeng274/MidDB/internal/compression"
	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/logging"
	"github.com/willzeng274/MidDB/internal/manifest"
	"github.com/willzeng274/MidDB/internal/memtable"
	"github.com/willzeng274/MidDB/internal/table"
	"github.com/willzeng274/MidDB/internal/version"
	"github.com/willzeng274/MidDB/internal/vfs"
	"github.com/willzeng274/MidDB/internal/wal"
)

// DB is an open database handle. All methods are safe for concurrent use.
type DB interface {
	// Get returns the value for key, or ErrNotFound.
	Get(opts *ReadOptions, key []byte) ([]byte, error)

	// Put sets the value for key.
	Put(opts *WriteOptions, key, value []byte) error

	// Delete removes key.
	Delete(opts *WriteOptions, key []byte) error

	// Write applies a batch atomically.
	Write(opts *WriteOptions, wb *WriteBatch) error

	// NewIterator returns a forward iterator over the database.
	NewIterator(opts *ReadOptions) (*Iterator, error)

	// GetSnapshot pins the current state; release it when done.
	GetSnapshot() *Snapshot

	// ReleaseSnapshot releases a snapshot obtained from GetSnapshot.
	ReleaseSnapshot(s *Snapshot)

	// Begin starts an optimistic transaction.
	Begin() (*Transaction, error)

	// Flush writes the active memtable to level 0.
	Flush() error

	// CompactRange compacts every level overlapping [start, end]
	// (nil means unbounded).
	CompactRange(start, end []byte) error

	// Stats reports engine counters.
	Stats() Stats

	// Close shuts the database down.
	Close() error
}

// Stats reports engine counters.
type Stats struct {
	MemTableSize    int64
	MemTableEntries int64
	NumSSTables     int
	LastSequence    uint64
	LevelFiles      [version.NumLevels]int
	LevelBytes      [version.NumLevels]uint64
}

type database struct {
	dirname string
	opts    *Options
	fs      vfs.FS
	logger  logging.Logger
	codec   compression.Type

	dirLock io.Closer

	// mu guards the memtable pointers, the background error, and
	// flushCond. Readers take it briefly to pin their view.
	mu        sync.RWMutex
	mem       *memtable.MemTable
	imm       []*memtable.MemTable // frozen memtables, oldest first
	bgErr     error
	flushCond *sync.Cond

	// writeMu serializes committing writers.
	writeMu   sync.Mutex
	walFile   vfs.WritableFile
	walWriter *wal.Writer

	// compactionMu serializes flush/compaction work between the
	// background worker and manual CompactRange.
	compactionMu sync.Mutex

	versions  *version.VersionSet
	tables    *tableSet
	picker    *compaction.Picker
	snapshots *snapshotRegistry
	committed *committedTracker

	commitCount atomic.Uint64

	bgWork chan struct{}
	bgStop chan struct{}
	bgDone sync.WaitGroup

	closed atomic.Bool
}

// Open opens or creates a database at path.
func Open(path string, opts *Options) (DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	} else {
		cp := *opts
		opts = &cp
	}
	if err := opts.sanitize(); err != nil {
		return nil, err
	}
	codec, err := opts.compressionType()
	if err != nil {
		return nil, err
	}

	d := &database{
		dirname:   path,
		opts:      opts,
		fs:        opts.FS,
		logger:    opts.Logger,
		codec:     codec,
		snapshots: newSnapshotRegistry(),
		committed: newCommittedTracker(),
		bgWork:    make(chan struct{}, 1),
		bgStop:    make(chan struct{}),
	}
	d.flushCond = sync.NewCond(&d.mu)
	d.tables = newTableSet(path, d.fs)
	d.picker = compaction.NewPicker(compaction.PickerOptions{
		L0CompactionTrigger: opts.L0CompactionTrigger,
		MaxOutputFileSize:   opts.MaxSSTableSize,
	})

	if err := d.fs.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	lock, err := d.fs.Lock(lockFilePath(path))
	if err != nil {
		return nil, errors.Wrapf(ErrLockFailure, "%s: %v", path, err)
	}
	d.dirLock = lock

	if err := d.openVersions(); err != nil {
		_ = lock.Close()
		return nil, err
	}
	if err := d.recoverWALs(); err != nil {
		_ = lock.Close()
		return nil, err
	}
	d.deleteObsoleteFiles()

	// Wire fatal log events into the background error so the write path
	// stops.
	if dl, ok := d.logger.(*logging.DefaultLogger); ok {
		dl.SetFatalHandler(func(msg string) {
			d.recordBackgroundError(errors.Newf("fatal: %s", msg))
		})
	}

	d.bgDone.Add(1)
	go d.backgroundWorker()

	return d, nil
}

// openVersions recovers the manifest or creates a fresh database.
func (d *database) openVersions() error {
	d.versions = version.NewVersionSet(version.Options{DirName: d.dirname, FS: d.fs})
	if d.fs.Exists(currentFilePath(d.dirname)) {
		d.logger.Infof(logging.NSRecovery + "recovering manifest")
		if err := d.versions.Recover(); err != nil {
			return errors.Mark(err, ErrCorruption)
		}
		return nil
	}
	d.logger.Infof(logging.NSDB + "creating new database")
	return d.versions.Create()
}

// recoverWALs replays every live WAL into a fresh memtable, flushes the
// result, and opens a new WAL for subsequent writes.
func (d *database) recoverWALs() error {
	minLog := d.versions.LogNumber()

	names, err := d.fs.ListDir(d.dirname)
	if err != nil {
		return err
	}
	var logs []uint64
	for _, name := range names {
		if ft, num := parseFileName(name); ft == fileTypeLog && num >= minLog {
			logs = append(logs, num)
			// A crashed rotation may have left a WAL the manifest never
			// learned about; its number must not be reallocated or the
			// new WAL would truncate it before its contents are flushed.
			d.versions.MarkFileNumberUsed(num)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i] < logs[j] })

	recovered := memtable.New(0)
	maxSeq := d.versions.LastSequence()
	for _, num := range logs {
		seq, err := d.replayLog(num, recovered)
		if err != nil {
			return err
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	d.versions.SetLastSequence(maxSeq)

	// Open the WAL that will receive new writes.
	newLogNum := d.versions.NextFileNumber()
	walFile, err := d.fs.Create(logFilePath(d.dirname, newLogNum))
	if err != nil {
		return err
	}
	d.walFile = walFile
	d.walWriter = wal.NewWriter(walFile)

	if !recovered.Empty() {
		d.logger.Infof(logging.NSRecovery+"replayed %d WAL entries", recovered.Count())
		// Flushing the recovered memtable retires the old logs: the
		// edit advances the log number only once their contents are in
		// an SSTable.
		if err := d.flushMemTable(recovered, newLogNum); err != nil {
			return err
		}
	} else {
		// Nothing to replay: advance the log number so stale WALs are
		// retired by the next sweep.
		edit := &manifest.VersionEdit{}
		edit.SetLogNumber(newLogNum)
		edit.SetLastSequence(d.versions.LastSequence())
		if err := d.versions.LogAndApply(edit); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.mem = memtable.New(newLogNum)
	d.mu.Unlock()
	return nil
}

// replayLog streams one WAL file into mem and returns the highest
// sequence seen. A torn tail ends replay silently; a corrupt batch is
// fatal.
func (d *database) replayLog(num uint64, mem *memtable.MemTable) (dbformat.SequenceNumber, error) {
	file, err := d.fs.Open(logFilePath(d.dirname, num))
	if err != nil {
		return 0, err
	}
	defer func() { _ = file.Close() }()

	reader := wal.NewReader(file)
	var maxSeq dbformat.SequenceNumber
	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			return maxSeq, nil
		}
		if err != nil {
			return 0, errors.Mark(err, ErrCorruption)
		}

		wb, err := batch.Load(record)
		if err != nil {
			return 0, errors.Mark(err, ErrCorruption)
		}
		ins := &memtableInserter{mem: mem, seq: wb.Sequence()}
		if err := wb.Iterate(ins); err != nil {
			return 0, errors.Mark(err, ErrCorruption)
		}
		if end := wb.Sequence() + dbformat.SequenceNumber(wb.Count()) - 1; end > maxSeq {
			maxSeq = end
		}
	}
}

// Put sets the value for key.
func (d *database) Put(opts *WriteOptions, key, value []byte) error {
	if len(key) == 0 {
		return errors.Wrap(ErrInvalidArgument, "empty key")
	}
	wb := NewWriteBatch()
	wb.Put(key, value)
	return d.Write(opts, wb)
}

// Delete removes key.
func (d *database) Delete(opts *WriteOptions, key []byte) error {
	if len(key) == 0 {
		return errors.Wrap(ErrInvalidArgument, "empty key")
	}
	wb := NewWriteBatch()
	wb.Delete(key)
	return d.Write(opts, wb)
}

// Write applies a batch atomically.
func (d *database) Write(opts *WriteOptions, wb *WriteBatch) error {
	if wb == nil || wb.b.Count() == 0 {
		return nil
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.commitLocked(opts, wb.b)
}

// commitLocked runs the single-writer commit protocol: room check, WAL
// append + sync, memtable insert, sequence advance, tracker update.
// Caller holds writeMu.
func (d *database) commitLocked(opts *WriteOptions, b *batch.WriteBatch) error {
	if err := d.writable(); err != nil {
		return err
	}
	if err := d.makeRoomForWrite(); err != nil {
		return err
	}

	n := dbformat.SequenceNumber(b.Count())
	seq := d.versions.LastSequence() + 1
	b.SetSequence(seq)

	if err := d.walWriter.AddRecord(b.Contents()); err != nil {
		err = errors.Mark(err, ErrIO)
		d.recordBackgroundError(err)
		return err
	}
	if d.opts.WALSyncMode == WALSyncAlways && (opts == nil || !opts.NoSync) {
		if err := d.walWriter.Sync(); err != nil {
			err = errors.Mark(err, ErrIO)
			d.recordBackgroundError(err)
			return err
		}
	}

	ins := &memtableInserter{mem: d.mem, seq: seq}
	if err := b.Iterate(ins); err != nil {
		d.recordBackgroundError(err)
		return err
	}

	// A read observing last_sequence sees every write at or below it:
	// the memtable insert above happens strictly before this advance.
	d.versions.SetLastSequence(seq + n - 1)

	rec := &trackerInserter{t: d.committed, seq: seq}
	_ = b.Iterate(rec)

	if d.commitCount.Add(1)%512 == 0 {
		d.committed.prune(d.snapshots.min(d.versions.LastSequence()))
	}
	return nil
}

// makeRoomForWrite freezes the active memtable once it is over the size
// limit: a new WAL is opened, the memtable moves to the immutable list,
// and the background worker is nudged. Caller holds writeMu.
func (d *database) makeRoomForWrite() error {
	if d.mem.ApproximateMemoryUsage() < d.opts.MemTableSizeLimit {
		return nil
	}
	return d.rotateMemTable()
}

// rotateMemTable freezes the active memtable unconditionally.
// Caller holds writeMu.
func (d *database) rotateMemTable() error {
	newLogNum := d.versions.NextFileNumber()
	walFile, err := d.fs.Create(logFilePath(d.dirname, newLogNum))
	if err != nil {
		err = errors.Mark(err, ErrIO)
		d.recordBackgroundError(err)
		return err
	}
	_ = d.walFile.Close()
	d.walFile = walFile
	d.walWriter = wal.NewWriter(walFile)

	d.mu.Lock()
	d.imm = append(d.imm, d.mem)
	d.mem = memtable.New(newLogNum)
	d.mu.Unlock()

	d.notifyBackground()
	return nil
}

// Get returns the value for key at the read snapshot.
func (d *database) Get(opts *ReadOptions, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "empty key")
	}
	if d.closed.Load() {
		return nil, ErrClosed
	}

	seq := d.versions.LastSequence()
	if opts != nil && opts.Snapshot != nil {
		if opts.Snapshot.released {
			return nil, errors.Wrap(ErrInvalidArgument, "released snapshot")
		}
		seq = opts.Snapshot.seq
	}
	return d.getAt(key, seq)
}

// getAt runs the read path: active memtable, immutable memtables newest
// first, L0 newest file first, then one candidate file per deeper level.
func (d *database) getAt(key []byte, seq dbformat.SequenceNumber) ([]byte, error) {
	mem, imms, v := d.pinReadState()
	defer func() {
		mem.Unref()
		for _, mt := range imms {
			mt.Unref()
		}
		v.Unref()
	}()

	if value, res := mem.Get(key, seq); res != memtable.NotFound {
		return finishGet(value, res)
	}
	for i := len(imms) - 1; i >= 0; i-- {
		if value, res := imms[i].Get(key, seq); res != memtable.NotFound {
			return finishGet(value, res)
		}
	}

	// L0 files overlap; all of them must be checked newest first.
	l0 := v.Files(0)
	for i := len(l0) - 1; i >= 0; i-- {
		f := l0[i]
		if dbformat.CompareUserKeys(key, dbformat.UserKey(f.Smallest)) < 0 ||
			dbformat.CompareUserKeys(key, dbformat.UserKey(f.Largest)) > 0 {
			continue
		}
		value, kind, ok, err := d.getFromTable(f.FileNumber, key, seq)
		if err != nil {
			return nil, err
		}
		if ok {
			return finishTableGet(value, kind)
		}
	}

	// Deeper levels are disjoint: at most one candidate per level.
	for level := 1; level < version.NumLevels; level++ {
		f := version.FindFile(v.Files(level), key)
		if f == nil {
			continue
		}
		value, kind, ok, err := d.getFromTable(f.FileNumber, key, seq)
		if err != nil {
			return nil, err
		}
		if ok {
			return finishTableGet(value, kind)
		}
	}

	return nil, ErrNotFound
}

func (d *database) getFromTable(fileNum uint64, key []byte, seq dbformat.SequenceNumber) ([]byte, dbformat.Kind, bool, error) {
	reader, err := d.tables.Reader(fileNum)
	if err != nil {
		return nil, 0, false, err
	}
	value, kind, ok, err := reader.Get(key, seq)
	if err != nil {
		return nil, 0, false, errors.Mark(err, ErrCorruption)
	}
	return value, kind, ok, nil
}

func finishGet(value []byte, res memtable.GetResult) ([]byte, error) {
	if res == memtable.Deleted {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func finishTableGet(value []byte, kind dbformat.Kind) ([]byte, error) {
	if kind == dbformat.KindDelete {
		return nil, ErrNotFound
	}
	return value, nil
}

// pinReadState takes references on the memtables and current version so
// the read can proceed without locks.
func (d *database) pinReadState() (*memtable.MemTable, []*memtable.MemTable, *version.Version) {
	d.mu.RLock()
	mem := d.mem
	mem.Ref()
	imms := make([]*memtable.MemTable, len(d.imm))
	copy(imms, d.imm)
	for _, mt := range imms {
		mt.Ref()
	}
	d.mu.RUnlock()
	v := d.versions.Current()
	return mem, imms, v
}

// GetSnapshot pins the current state.
func (d *database) GetSnapshot() *Snapshot {
	seq := d.versions.LastSequence()
	d.snapshots.acquire(seq)
	return &Snapshot{seq: seq}
}

// ReleaseSnapshot releases a snapshot.
func (d *database) ReleaseSnapshot(s *Snapshot) {
	if s == nil || s.released {
		return
	}
	s.released = true
	d.snapshots.release(s.seq)
}

// Begin starts an optimistic transaction at the current sequence.
func (d *database) Begin() (*Transaction, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	seq := d.versions.LastSequence()
	d.snapshots.acquire(seq)
	return &Transaction{
		db:          d,
		snapshotSeq: seq,
		reads:       make(map[string]struct{}),
		writes:      make(map[string]txnWrite),
	}, nil
}

// Stats reports engine counters.
func (d *database) Stats() Stats {
	d.mu.RLock()
	mem := d.mem
	d.mu.RUnlock()

	v := d.versions.Current()
	defer v.Unref()

	s := Stats{
		LastSequence: uint64(d.versions.LastSequence()),
	}
	if mem != nil {
		s.MemTableSize = mem.ApproximateMemoryUsage()
		s.MemTableEntries = mem.Count()
	}
	for level := range version.NumLevels {
		s.LevelFiles[level] = v.NumFiles(level)
		s.LevelBytes[level] = v.LevelBytes(level)
		s.NumSSTables += v.NumFiles(level)
	}
	return s
}

// Close stops background work, flushes the memtables, and releases the
// directory lock.
func (d *database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	close(d.bgStop)
	d.bgDone.Wait()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	// Flush what remains so reopen does not need WAL replay. Skipped
	// after a background error: the engine state is suspect.
	d.mu.RLock()
	bgErr := d.bgErr
	imms := append([]*memtable.MemTable(nil), d.imm...)
	mem := d.mem
	d.mu.RUnlock()

	var firstErr error
	if bgErr == nil {
		for i, mt := range imms {
			logNum := mem.LogNumber()
			if i+1 < len(imms) {
				logNum = imms[i+1].LogNumber()
			}
			if err := d.flushMemTable(mt, logNum); err != nil {
				firstErr = err
				break
			}
		}
		if firstErr == nil && mem != nil && !mem.Empty() {
			// No WAL follows the active memtable at close; retire every
			// log below a fresh number.
			if err := d.flushMemTable(mem, d.versions.NextFileNumber()); err != nil {
				firstErr = err
			}
		}
	}

	d.mu.Lock()
	for _, mt := range d.imm {
		mt.Unref()
	}
	d.imm = nil
	d.flushCond.Broadcast()
	d.mu.Unlock()

	if err := d.versions.SyncManifest(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.versions.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if d.walFile != nil {
		if err := d.walFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.tables.CloseAll()
	if err := d.dirLock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.logger.Infof(logging.NSDB + "closed")
	return firstErr
}

// writable returns the sticky error preventing writes, if any.
func (d *database) writable() error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bgErr != nil {
		return errors.CombineErrors(ErrReadOnly, d.bgErr)
	}
	return nil
}

// recordBackgroundError moves the database to read-only mode.
func (d *database) recordBackgroundError(err error) {
	d.mu.Lock()
	if d.bgErr == nil {
		d.bgErr = err
		d.logger.Errorf(logging.NSDB+"background error, entering read-only mode: %v", err)
	}
	d.flushCond.Broadcast()
	d.mu.Unlock()
}

// memtableInserter applies batch entries to a memtable with ascending
// sequences.
type memtableInserter struct {
	mem *memtable.MemTable
	seq dbformat.SequenceNumber
}

func (m *memtableInserter) Put(key, value []byte) error {
	m.mem.Add(m.seq, dbformat.KindPut, key, value)
	m.seq++
	return nil
}

func (m *memtableInserter) Delete(key []byte) error {
	m.mem.Add(m.seq, dbformat.KindDelete, key, nil)
	m.seq++
	return nil
}

// trackerInserter records committed user keys for conflict detection.
type trackerInserter struct {
	t   *committedTracker
	seq dbformat.SequenceNumber
}

func (r *trackerInserter) Put(key, _ []byte) error {
	r.t.record(key, r.seq)
	r.seq++
	return nil
}

func (r *trackerInserter) Delete(key []byte) error {
	r.t.record(key, r.seq)
	r.seq++
	return nil
}

// builderOptions returns the table builder configuration.
func (d *database) builderOptions() table.BuilderOptions {
	return table.BuilderOptions{
		BlockSize:       d.opts.BlockSize,
		RestartInterval: 16,
		BloomBitsPerKey: d.opts.BloomBitsPerKey,
		Compression:     d.codec,
	}
}

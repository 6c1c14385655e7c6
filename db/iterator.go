package db

import (
	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/iterator"
	"github.com/willzeng274/MidDB/internal/memtable"
	"github.com/willzeng274/MidDB/internal/version"
)

// Iterator walks user keys in ascending order, exposing for each key the
// newest version visible at the read snapshot and hiding tombstones.
// It pins the memtables and version it was created over; Close releases
// them.
type Iterator struct {
	db     *database
	merged *iterator.Merging
	seq    dbformat.SequenceNumber

	mem  *memtable.MemTable
	imms []*memtable.MemTable
	ver  *version.Version

	key    []byte
	value  []byte
	valid  bool
	err    error
	closed bool
}

// NewIterator returns a forward iterator over the database.
func (d *database) NewIterator(opts *ReadOptions) (*Iterator, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	seq := d.versions.LastSequence()
	if opts != nil && opts.Snapshot != nil {
		seq = opts.Snapshot.seq
	}

	mem, imms, v := d.pinReadState()

	children := []iterator.Iterator{mem.NewIterator()}
	for i := len(imms) - 1; i >= 0; i-- {
		children = append(children, imms[i].NewIterator())
	}
	for level := range version.NumLevels {
		files := v.Files(level)
		for i := len(files) - 1; i >= 0; i-- {
			reader, err := d.tables.Reader(files[i].FileNumber)
			if err != nil {
				mem.Unref()
				for _, mt := range imms {
					mt.Unref()
				}
				v.Unref()
				return nil, err
			}
			children = append(children, reader.NewIter())
		}
	}

	return &Iterator{
		db:     d,
		merged: iterator.NewMerging(children...),
		seq:    seq,
		mem:    mem,
		imms:   imms,
		ver:    v,
	}, nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.valid && it.err == nil
}

// Key returns the current user key.
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	return it.value
}

// Error returns any error encountered during iteration.
func (it *Iterator) Error() error {
	return it.err
}

// SeekToFirst positions the iterator at the first visible user key.
func (it *Iterator) SeekToFirst() {
	it.merged.SeekToFirst()
	it.findNextVisible(nil)
}

// Seek positions the iterator at the first visible user key >= target.
func (it *Iterator) Seek(target []byte) {
	it.merged.Seek(dbformat.MakeInternalKey(target, it.seq, dbformat.KindForSeek))
	it.findNextVisible(nil)
}

// Next advances to the next visible user key.
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	skip := append([]byte(nil), it.key...)
	it.merged.Next()
	it.findNextVisible(skip)
}

// findNextVisible scans the merged stream for the newest visible version
// of the next user key after skip, suppressing older versions and
// tombstoned keys.
func (it *Iterator) findNextVisible(skip []byte) {
	it.valid = false
	for it.merged.Valid() {
		parsed, err := dbformat.ParseInternalKey(it.merged.Key())
		if err != nil {
			it.err = err
			return
		}

		switch {
		case parsed.Sequence > it.seq:
			// Not visible at this snapshot.
		case skip != nil && dbformat.CompareUserKeys(parsed.UserKey, skip) == 0:
			// Older version of a key already emitted (or tombstoned).
		case parsed.Kind == dbformat.KindDelete:
			// Tombstone hides every older version of this key.
			skip = append(skip[:0], parsed.UserKey...)
		default:
			it.key = append(it.key[:0], parsed.UserKey...)
			it.value = append(it.value[:0], it.merged.Value()...)
			it.valid = true
			return
		}
		it.merged.Next()
	}
	if err := it.merged.Error(); err != nil {
		it.err = err
	}
}

// Close releases the resources pinned by the iterator.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.valid = false
	it.mem.Unref()
	for _, mt := range it.imms {
		mt.Unref()
	}
	it.ver.Unref()
	return it.err
}

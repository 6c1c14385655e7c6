package memtable

import (
	"sync/atomic"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/encoding"
)

// GetResult describes the outcome of a point lookup.
type GetResult int

const (
	// NotFound means the memtable holds no visible entry for the key.
	NotFound GetResult = iota

	// Found means a value is present.
	Found

	// Deleted means the newest visible entry is a tombstone.
	Deleted
)

// MemTable buffers writes before they are flushed to an SSTable.
//
// Entries are stored in the skip list as a single buffer:
//
//	[internal_key_len:varint][internal_key][value_len:varint][value]
//
// ordered by the internal key comparator, so all versions of a user key
// are adjacent, newest first.
type MemTable struct {
	skiplist    *SkipList
	memoryUsage atomic.Int64
	refs        atomic.Int32

	// logNumber is the WAL file whose records this memtable holds.
	logNumber uint64
}

// New creates an empty memtable bound to the given WAL file number.
func New(logNumber uint64) *MemTable {
	mt := &MemTable{
		skiplist:  NewSkipList(compareEntries),
		logNumber: logNumber,
	}
	mt.refs.Store(1)
	return mt
}

// compareEntries orders encoded memtable entries by internal key.
func compareEntries(a, b []byte) int {
	return dbformat.CompareInternalKeys(extractInternalKey(a), extractInternalKey(b))
}

func extractInternalKey(entry []byte) []byte {
	keyLen, n, err := encoding.DecodeVarint32(entry)
	if err != nil || n+int(keyLen) > len(entry) {
		return entry
	}
	return entry[n : n+int(keyLen)]
}

// Ref increments the reference count.
func (mt *MemTable) Ref() {
	mt.refs.Add(1)
}

// Unref decrements the reference count; true means the table is dead.
func (mt *MemTable) Unref() bool {
	return mt.refs.Add(-1) == 0
}

// LogNumber returns the WAL file number backing this memtable.
func (mt *MemTable) LogNumber() uint64 {
	return mt.logNumber
}

// Add inserts an entry.
// REQUIRES: external synchronization (the DB write mutex).
func (mt *MemTable) Add(seq dbformat.SequenceNumber, kind dbformat.Kind, key, value []byte) {
	ikLen := len(key) + dbformat.TrailerSize

	entry := make([]byte, 0, ikLen+len(value)+2*encoding.MaxVarint32Length)
	entry = encoding.AppendVarint32(entry, uint32(ikLen))
	entry = append(entry, key...)
	entry = encoding.AppendFixed64(entry, dbformat.PackTrailer(seq, kind))
	entry = encoding.AppendVarint32(entry, uint32(len(value)))
	entry = append(entry, value...)

	mt.skiplist.Insert(entry)
	mt.memoryUsage.Add(int64(len(entry)) + 64) // node overhead
}

// Get looks up the newest version of key visible at seq.
func (mt *MemTable) Get(key []byte, seq dbformat.SequenceNumber) (value []byte, result GetResult) {
	lookup := dbformat.MakeInternalKey(key, seq, dbformat.KindForSeek)

	iter := mt.skiplist.NewIterator()
	iter.Seek(buildLookupEntry(lookup))
	if !iter.Valid() {
		return nil, NotFound
	}

	entryKey, entryValue, entrySeq, kind, ok := parseEntry(iter.Key())
	if !ok || dbformat.CompareUserKeys(key, entryKey) != 0 || entrySeq > seq {
		return nil, NotFound
	}

	if kind == dbformat.KindDelete {
		return nil, Deleted
	}
	return entryValue, Found
}

func buildLookupEntry(internalKey []byte) []byte {
	entry := make([]byte, 0, len(internalKey)+encoding.MaxVarint32Length)
	entry = encoding.AppendVarint32(entry, uint32(len(internalKey)))
	return append(entry, internalKey...)
}

func parseEntry(entry []byte) (userKey, value []byte, seq dbformat.SequenceNumber, kind dbformat.Kind, ok bool) {
	keyLen, n, err := encoding.DecodeVarint32(entry)
	if err != nil || keyLen < dbformat.TrailerSize || n+int(keyLen) > len(entry) {
		return nil, nil, 0, 0, false
	}
	internalKey := entry[n : n+int(keyLen)]
	rest := entry[n+int(keyLen):]

	userKey = internalKey[:len(internalKey)-dbformat.TrailerSize]
	seq, kind = dbformat.UnpackTrailer(encoding.DecodeFixed64(internalKey[len(internalKey)-dbformat.TrailerSize:]))

	value, _, err = encoding.DecodeLengthPrefixedSlice(rest)
	if err != nil {
		return nil, nil, 0, 0, false
	}
	return userKey, value, seq, kind, true
}

// ApproximateMemoryUsage returns the buffered byte count.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return mt.memoryUsage.Load()
}

// Count returns the number of entries.
func (mt *MemTable) Count() int64 {
	return mt.skiplist.Count()
}

// Empty reports whether the memtable holds no entries.
func (mt *MemTable) Empty() bool {
	return mt.Count() == 0
}

// NewIterator returns an iterator over the memtable in internal key order.
func (mt *MemTable) NewIterator() *Iter {
	return &Iter{iter: mt.skiplist.NewIterator()}
}

// Iter iterates over memtable entries, exposing internal keys and values.
type Iter struct {
	iter  *Iterator
	key   []byte
	value []byte
	valid bool
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iter) Valid() bool {
	return it.valid
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iter) SeekToFirst() {
	it.iter.SeekToFirst()
	it.parse()
}

// Seek positions the iterator at the first entry with internal key >= target.
func (it *Iter) Seek(target []byte) {
	it.iter.Seek(buildLookupEntry(target))
	it.parse()
}

// Next advances the iterator.
func (it *Iter) Next() {
	it.iter.Next()
	it.parse()
}

// Key returns the internal key at the current position.
func (it *Iter) Key() []byte {
	return it.key
}

// Value returns the value at the current position.
func (it *Iter) Value() []byte {
	return it.value
}

// Error always returns nil; memtable iteration cannot fail.
func (it *Iter) Error() error {
	return nil
}

func (it *Iter) parse() {
	if !it.iter.Valid() {
		it.valid = false
		it.key = nil
		it.value = nil
		return
	}
	entry := it.iter.Key()
	keyLen, n, err := encoding.DecodeVarint32(entry)
	if err != nil || n+int(keyLen) > len(entry) {
		it.valid = false
		return
	}
	it.key = entry[n : n+int(keyLen)]
	it.value, _, err = encoding.DecodeLengthPrefixedSlice(entry[n+int(keyLen):])
	it.valid = err == nil
}

package block

import (
	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/encoding"
)

// Block is a parsed, immutable block.
type Block struct {
	data        []byte
	restarts    int // offset of the restart array within data
	numRestarts int
}

// New parses a block from raw data. The data slice is not copied.
func New(data []byte) (*Block, error) {
	if len(data) < 4 {
		return nil, ErrBadBlock
	}
	numRestarts := int(encoding.DecodeFixed32(data[len(data)-4:]))
	if numRestarts == 0 {
		return nil, ErrBadBlock
	}
	restartsSize := (numRestarts + 1) * 4
	if restartsSize > len(data) {
		return nil, ErrBadBlock
	}
	return &Block{
		data:        data,
		restarts:    len(data) - restartsSize,
		numRestarts: numRestarts,
	}, nil
}

// NumRestarts returns the number of restart points.
func (b *Block) NumRestarts() int {
	return b.numRestarts
}

// restartOffset returns the offset of the i-th restart point.
func (b *Block) restartOffset(i int) int {
	return int(encoding.DecodeFixed32(b.data[b.restarts+i*4:]))
}

// Iter iterates over the entries of a block.
type Iter struct {
	block      *Block
	current    int // offset of the current entry
	nextOffset int // offset of the entry after current
	key        []byte
	value      []byte
	valid      bool
	err        error
}

// NewIter returns an iterator positioned before the first entry.
func (b *Block) NewIter() *Iter {
	return &Iter{block: b}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iter) Valid() bool {
	return it.valid && it.err == nil
}

// Key returns the current internal key.
func (it *Iter) Key() []byte {
	return it.key
}

// Value returns the current value.
func (it *Iter) Value() []byte {
	return it.value
}

// Error returns any corruption encountered during iteration.
func (it *Iter) Error() error {
	return it.err
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iter) SeekToFirst() {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	it.current = 0
	it.nextOffset = 0
	it.Next()
}

// Next advances to the next entry.
func (it *Iter) Next() {
	if it.err != nil {
		it.valid = false
		return
	}
	if it.nextOffset >= it.block.restarts {
		it.valid = false
		return
	}
	it.current = it.nextOffset
	it.parseCurrentEntry()
}

// Seek positions the iterator at the first entry with key >= target.
// Binary search over restart points, then a linear scan.
func (it *Iter) Seek(target []byte) {
	left, right := 0, it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		it.seekToRestart(mid)
		it.Next()
		if !it.Valid() || dbformat.CompareInternalKeys(it.key, target) > 0 {
			right = mid - 1
		} else {
			left = mid
		}
	}

	it.seekToRestart(left)
	for {
		it.Next()
		if !it.Valid() {
			return
		}
		if dbformat.CompareInternalKeys(it.key, target) >= 0 {
			return
		}
	}
}

func (it *Iter) seekToRestart(index int) {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	offset := it.block.restartOffset(index)
	it.current = offset
	it.nextOffset = offset
}

func (it *Iter) parseCurrentEntry() {
	data := it.block.data[it.current:it.block.restarts]
	consumed := 0

	shared, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.corrupt()
		return
	}
	consumed += n
	data = data[n:]

	unshared, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.corrupt()
		return
	}
	consumed += n
	data = data[n:]

	valueLen, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.corrupt()
		return
	}
	consumed += n
	data = data[n:]

	if int(shared) > len(it.key) || len(data) < int(unshared)+int(valueLen) {
		it.corrupt()
		return
	}

	it.key = append(it.key[:shared], data[:unshared]...)
	it.value = data[unshared : unshared+valueLen]
	it.nextOffset = it.current + consumed + int(unshared) + int(valueLen)
	it.valid = true
}

func (it *Iter) corrupt() {
	it.err = ErrBadBlock
	it.valid = false
}

package block

import "github.com/willzeng274/MidDB/internal/encoding"

// DefaultRestartInterval is the number of entries between restart points.
const DefaultRestartInterval = 16

// Builder assembles a block with prefix-compressed keys.
//
// When a key is added, the prefix shared with the previous key is dropped.
// Every restartInterval entries the full key is stored instead, bounding
// the cost of decoding from a restart point.
type Builder struct {
	buffer          []byte
	restarts        []uint32
	counter         int
	restartInterval int
	lastKey         []byte
	finished        bool
}

// NewBuilder creates a block builder. restartInterval values below 1 are
// clamped to 1 (no compression).
func NewBuilder(restartInterval int) *Builder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	return &Builder{
		buffer:          make([]byte, 0, 4096),
		restartInterval: restartInterval,
		restarts:        []uint32{0},
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buffer = b.buffer[:0]
	b.restarts = b.restarts[:1]
	b.restarts[0] = 0
	b.counter = 0
	b.lastKey = b.lastKey[:0]
	b.finished = false
}

// Add appends a key-value pair.
// REQUIRES: key is larger than every previously added key.
// REQUIRES: Finish has not been called since the last Reset.
func (b *Builder) Add(key, value []byte) {
	if b.finished {
		panic("block: Add called after Finish")
	}

	shared := 0
	if b.counter < b.restartInterval {
		shared = sharedPrefixLength(b.lastKey, key)
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buffer)))
		b.counter = 0
	}

	b.buffer = encoding.AppendVarint32(b.buffer, uint32(shared))
	b.buffer = encoding.AppendVarint32(b.buffer, uint32(len(key)-shared))
	b.buffer = encoding.AppendVarint32(b.buffer, uint32(len(value)))
	b.buffer = append(b.buffer, key[shared:]...)
	b.buffer = append(b.buffer, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

// SizeEstimate returns the current encoded size of the block.
func (b *Builder) SizeEstimate() int {
	// entries + restart array + restart count
	return len(b.buffer) + len(b.restarts)*4 + 4
}

// Empty reports whether no entries have been added.
func (b *Builder) Empty() bool {
	return len(b.buffer) == 0
}

// Finish appends the restart array and returns the complete block. The
// returned slice is valid until Reset.
func (b *Builder) Finish() []byte {
	for _, restart := range b.restarts {
		b.buffer = encoding.AppendFixed32(b.buffer, restart)
	}
	b.buffer = encoding.AppendFixed32(b.buffer, uint32(len(b.restarts)))
	b.finished = true
	return b.buffer
}

func sharedPrefixLength(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Package filter implements the Bloom filter stored in each SSTable.
//
// The filter uses double hashing: the 64-bit XXH3 of the user key is split
// into two 32-bit halves h1 and h2, and probe i sets bit (h1 + i*h2) mod
// nbits. The encoded filter is the bit array followed by a single byte
// holding the probe count.
package filter

import "github.com/zeebo/xxh3"

// DefaultBitsPerKey gives roughly a 1% false positive rate.
const DefaultBitsPerKey = 10

// maxProbes bounds the number of probes per key.
const maxProbes = 30

// Builder accumulates key hashes and produces an encoded filter.
type Builder struct {
	bitsPerKey int
	hashes     []uint64
}

// NewBuilder creates a filter builder. bitsPerKey values below 1 are
// clamped.
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return &Builder{
		bitsPerKey: bitsPerKey,
		hashes:     make([]uint64, 0, 256),
	}
}

// AddKey adds a user key to the filter.
func (b *Builder) AddKey(key []byte) {
	b.hashes = append(b.hashes, xxh3.Hash(key))
}

// NumKeys returns the number of keys added so far.
func (b *Builder) NumKeys() int {
	return len(b.hashes)
}

// Finish builds the encoded filter and resets the builder.
func (b *Builder) Finish() []byte {
	n := len(b.hashes)
	if n == 0 {
		// A zero-probe filter never matches.
		return []byte{0}
	}

	k := numProbes(b.bitsPerKey)

	bits := n * b.bitsPerKey
	// Small filters have high false positive rates; 64 bits is the floor.
	if bits < 64 {
		bits = 64
	}
	nbytes := (bits + 7) / 8
	bits = nbytes * 8

	data := make([]byte, nbytes+1)
	for _, h := range b.hashes {
		h1 := uint32(h)
		h2 := uint32(h >> 32)
		for range k {
			pos := h1 % uint32(bits)
			data[pos/8] |= 1 << (pos % 8)
			h1 += h2
		}
	}
	data[nbytes] = byte(k)

	b.hashes = b.hashes[:0]
	return data
}

// numProbes returns bitsPerKey * 0.69 (about ln 2), rounded down and
// clamped to [1, maxProbes].
func numProbes(bitsPerKey int) int {
	k := int(float64(bitsPerKey) * 0.69)
	if k < 1 {
		k = 1
	}
	if k > maxProbes {
		k = maxProbes
	}
	return k
}

// MayContain reports whether key may have been added to the encoded
// filter. A false return is definitive.
func MayContain(filter, key []byte) bool {
	if len(filter) < 2 {
		return false
	}
	k := int(filter[len(filter)-1])
	if k == 0 || k > maxProbes {
		// Zero probes means an empty filter; an out-of-range count means
		// a format newer than this reader, treated as a forced match.
		return k > maxProbes
	}

	bits := uint32((len(filter) - 1) * 8)
	h := xxh3.Hash(key)
	h1 := uint32(h)
	h2 := uint32(h >> 32)
	for range k {
		pos := h1 % bits
		if filter[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
		h1 += h2
	}
	return true
}

// Package iterator provides the k-way merging iterator used by reads and
// compactions.
package iterator

import (
	"container/heap"

	"github.com/willzeng274/MidDB/internal/dbformat"
)

// Iterator is the common forward iteration interface over internal keys.
type Iterator interface {
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool

	// Key returns the current internal key.
	Key() []byte

	// Value returns the current value.
	Value() []byte

	// SeekToFirst positions the iterator at the first entry.
	SeekToFirst()

	// Seek positions the iterator at the first entry with key >= target.
	Seek(target []byte)

	// Next advances the iterator.
	Next()

	// Error returns any error encountered during iteration.
	Error() error
}

// Merging merges multiple sorted iterators into one, using a min-heap
// keyed by internal key.
type Merging struct {
	children []Iterator
	minHeap  iterHeap
	current  int // index into children, -1 if exhausted
	err      error
}

// NewMerging creates a merging iterator over children.
func NewMerging(children ...Iterator) *Merging {
	return &Merging{
		children: children,
		minHeap:  iterHeap{items: make([]heapItem, 0, len(children))},
		current:  -1,
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (mi *Merging) Valid() bool {
	return mi.err == nil && mi.current >= 0
}

// Key returns the current internal key.
func (mi *Merging) Key() []byte {
	return mi.children[mi.current].Key()
}

// Value returns the current value.
func (mi *Merging) Value() []byte {
	return mi.children[mi.current].Value()
}

// Error returns the first error encountered by any child.
func (mi *Merging) Error() error {
	return mi.err
}

// SeekToFirst positions every child at its first entry.
func (mi *Merging) SeekToFirst() {
	mi.initHeap(func(child Iterator) { child.SeekToFirst() })
}

// Seek positions every child at its first entry >= target.
func (mi *Merging) Seek(target []byte) {
	mi.initHeap(func(child Iterator) { child.Seek(target) })
}

func (mi *Merging) initHeap(position func(Iterator)) {
	mi.err = nil
	mi.minHeap.items = mi.minHeap.items[:0]
	for i, child := range mi.children {
		position(child)
		if err := child.Error(); err != nil {
			mi.err = err
			mi.current = -1
			return
		}
		if child.Valid() {
			mi.minHeap.items = append(mi.minHeap.items, heapItem{index: i, key: child.Key()})
		}
	}
	heap.Init(&mi.minHeap)
	mi.pickSmallest()
}

// Next advances the child holding the smallest key.
func (mi *Merging) Next() {
	if !mi.Valid() {
		return
	}

	child := mi.children[mi.current]
	child.Next()
	if err := child.Error(); err != nil {
		mi.err = err
		mi.current = -1
		return
	}

	if child.Valid() {
		mi.minHeap.items[0].key = child.Key()
		heap.Fix(&mi.minHeap, 0)
	} else {
		heap.Pop(&mi.minHeap)
	}
	mi.pickSmallest()
}

func (mi *Merging) pickSmallest() {
	if mi.minHeap.Len() == 0 {
		mi.current = -1
		return
	}
	mi.current = mi.minHeap.items[0].index
}

type heapItem struct {
	index int
	key   []byte
}

type iterHeap struct {
	items []heapItem
}

func (h *iterHeap) Len() int { return len(h.items) }

func (h *iterHeap) Less(i, j int) bool {
	return dbformat.CompareInternalKeys(h.items[i].key, h.items[j].key) < 0
}

func (h *iterHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *iterHeap) Push(x any) {
	h.items = append(h.items, x.(heapItem))
}

func (h *iterHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

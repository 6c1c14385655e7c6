// Package memtable implements the in-memory write buffer.
//
// The skip list permits lock-free concurrent reads: forward pointers are
// atomic, and a node is fully initialized before it is linked, so a reader
// never observes a partially built node. Writes require external
// synchronization (the database write mutex).
package memtable

import (
	"sync/atomic"

	"github.com/zhangyunhao116/fastrand"
)

const (
	maxHeight       = 12
	branchingFactor = 4
)

// Comparator orders the opaque entry keys stored in the skip list.
type Comparator func(a, b []byte) int

type skipNode struct {
	key  []byte
	next []atomic.Pointer[skipNode]
}

func newSkipNode(key []byte, height int) *skipNode {
	return &skipNode{
		key:  key,
		next: make([]atomic.Pointer[skipNode], height),
	}
}

func (n *skipNode) getNext(level int) *skipNode {
	return n.next[level].Load()
}

func (n *skipNode) setNext(level int, node *skipNode) {
	n.next[level].Store(node)
}

// SkipList stores byte-slice keys in sorted order. Nodes are never removed;
// the whole list is dropped when its memtable is retired.
type SkipList struct {
	head    *skipNode
	height  atomic.Int32
	compare Comparator
	count   atomic.Int64

	scaledInvBranching uint32
}

// NewSkipList creates an empty skip list ordered by cmp.
func NewSkipList(cmp Comparator) *SkipList {
	sl := &SkipList{
		head:               newSkipNode(nil, maxHeight),
		compare:            cmp,
		scaledInvBranching: uint32(0xFFFFFFFF) / branchingFactor,
	}
	sl.height.Store(1)
	return sl
}

// Insert adds a key.
// REQUIRES: external synchronization; no equal key is present.
func (sl *SkipList) Insert(key []byte) {
	prev := make([]*skipNode, maxHeight)
	x := sl.findGreaterOrEqual(key, prev)
	if x != nil && sl.compare(key, x.key) == 0 {
		return
	}

	height := sl.randomHeight()
	if cur := int(sl.height.Load()); height > cur {
		for i := cur; i < height; i++ {
			prev[i] = sl.head
		}
		sl.height.Store(int32(height))
	}

	node := newSkipNode(key, height)
	for i := range height {
		// Publish the node bottom-up after its own pointers are set, so a
		// concurrent reader following next[i] sees a complete node.
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}

	sl.count.Add(1)
}

// Count returns the number of entries.
func (sl *SkipList) Count() int64 {
	return sl.count.Load()
}

func (sl *SkipList) findGreaterOrEqual(key []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.getNext(level)
		if next != nil && sl.compare(key, next.key) > 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

func (sl *SkipList) randomHeight() int {
	height := 1
	for height < maxHeight && fastrand.Uint32() < sl.scaledInvBranching {
		height++
	}
	return height
}

// Iterator walks the skip list in key order.
type Iterator struct {
	list *SkipList
	node *skipNode
}

// NewIterator returns an iterator; position it with Seek or SeekToFirst.
func (sl *SkipList) NewIterator() *Iterator {
	return &Iterator{list: sl}
}

// Valid reports whether the iterator is positioned at a node.
func (it *Iterator) Valid() bool {
	return it.node != nil
}

// Key returns the key at the current position.
// REQUIRES: Valid().
func (it *Iterator) Key() []byte {
	return it.node.key
}

// Next advances to the next node.
// REQUIRES: Valid().
func (it *Iterator) Next() {
	it.node = it.node.getNext(0)
}

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

// SeekToFirst positions the iterator at the first key.
func (it *Iterator) SeekToFirst() {
	it.node = it.list.head.getNext(0)
}

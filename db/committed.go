package db

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/willzeng274/MidDB/internal/dbformat"
)

// committedShards must be a power of two for mask-based selection.
const committedShards = 16

// committedTracker remembers the commit sequence of recently written user
// keys, for optimistic conflict detection: a transaction conflicts when a
// key it read or wrote was committed after its snapshot.
//
// Entries are pruned once they fall below the oldest snapshot any open
// transaction holds; nothing older can conflict.
type committedTracker struct {
	shards [committedShards]committedShard
}

type committedShard struct {
	mu   sync.Mutex
	keys map[string]dbformat.SequenceNumber
}

func newCommittedTracker() *committedTracker {
	t := &committedTracker{}
	for i := range t.shards {
		t.shards[i].keys = make(map[string]dbformat.SequenceNumber)
	}
	return t
}

func (t *committedTracker) shard(key []byte) *committedShard {
	return &t.shards[xxhash.Sum64(key)&(committedShards-1)]
}

// record notes that key was committed at seq.
func (t *committedTracker) record(key []byte, seq dbformat.SequenceNumber) {
	s := t.shard(key)
	s.mu.Lock()
	if seq > s.keys[string(key)] {
		s.keys[string(key)] = seq
	}
	s.mu.Unlock()
}

// committedAfter reports whether key was committed with a sequence in
// (snapshot, +inf).
func (t *committedTracker) committedAfter(key string, snapshot dbformat.SequenceNumber) bool {
	s := t.shard([]byte(key))
	s.mu.Lock()
	seq, ok := s.keys[key]
	s.mu.Unlock()
	return ok && seq > snapshot
}

// prune discards entries at or below minSnapshot.
func (t *committedTracker) prune(minSnapshot dbformat.SequenceNumber) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for key, seq := range s.keys {
			if seq <= minSnapshot {
				delete(s.keys, key)
			}
		}
		s.mu.Unlock()
	}
}

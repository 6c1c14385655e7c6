package db

import (
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"github.com/willzeng274/MidDB/internal/dbformat"
)

// Snapshot pins reads to the database state at a fixed sequence number.
// Snapshots also hold back compaction from discarding the versions they
// can still observe; release them promptly.
type Snapshot struct {
	seq      dbformat.SequenceNumber
	released bool
}

// Sequence returns the sequence number the snapshot reads at.
func (s *Snapshot) Sequence() dbformat.SequenceNumber {
	return s.seq
}

// snapshotRegistry tracks the sequence numbers held by open snapshots and
// transactions. The ordered map makes the minimum a first-element scan,
// which is what compaction asks for on every run.
type snapshotRegistry struct {
	mu   sync.Mutex
	seqs *skipmap.FuncMap[uint64, int]
}

func newSnapshotRegistry() *snapshotRegistry {
	return &snapshotRegistry{
		seqs: skipmap.NewFunc[uint64, int](func(a, b uint64) bool { return a < b }),
	}
}

// acquire registers a snapshot at seq.
func (r *snapshotRegistry) acquire(seq dbformat.SequenceNumber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs, _ := r.seqs.Load(uint64(seq))
	r.seqs.Store(uint64(seq), refs+1)
}

// release unregisters a snapshot at seq.
func (r *snapshotRegistry) release(seq dbformat.SequenceNumber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs, ok := r.seqs.Load(uint64(seq))
	if !ok {
		return
	}
	if refs <= 1 {
		r.seqs.Delete(uint64(seq))
		return
	}
	r.seqs.Store(uint64(seq), refs-1)
}

// min returns the smallest registered sequence, or fallback when none is
// held.
func (r *snapshotRegistry) min(fallback dbformat.SequenceNumber) dbformat.SequenceNumber {
	result := fallback
	found := false
	r.seqs.Range(func(seq uint64, _ int) bool {
		result = dbformat.SequenceNumber(seq)
		found = true
		return false
	})
	if !found {
		return fallback
	}
	return result
}

package db

import "github.com/willzeng274/MidDB/internal/batch"

// WriteBatch collects puts and deletes that DB.Write applies atomically:
// either every entry is durable and visible, or none is.
type WriteBatch struct {
	b *batch.WriteBatch
}

// NewWriteBatch creates an empty batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{b: batch.New()}
}

// Put queues a put.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.b.Put(key, value)
}

// Delete queues a tombstone.
func (wb *WriteBatch) Delete(key []byte) {
	wb.b.Delete(key)
}

// Count returns the number of queued entries.
func (wb *WriteBatch) Count() uint32 {
	return wb.b.Count()
}

// Clear empties the batch for reuse.
func (wb *WriteBatch) Clear() {
	wb.b.Clear()
}

package db

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/willzeng274/MidDB/internal/batch"
	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/logging"
)

// Transaction is an optimistic, snapshot-isolated transaction.
//
// Reads see the database as of Begin plus the transaction's own buffered
// writes. Commit detects conflicts: if any key this transaction read or
// wrote was committed by someone else after the snapshot, Commit returns
// ErrConflict and nothing is applied. Write-only transactions conflict on
// write-set overlap alone.
type Transaction struct {
	mu sync.Mutex

	db          *database
	snapshotSeq dbformat.SequenceNumber

	reads  map[string]struct{}
	writes map[string]txnWrite
	order  []string // write keys in first-touch order

	done bool
}

type txnWrite struct {
	value   []byte
	deleted bool
}

// Get reads a key: the write buffer first, then the database as of the
// transaction's snapshot. The key is added to the read set.
func (txn *Transaction) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "empty key")
	}
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.done {
		return nil, ErrClosed
	}

	txn.reads[string(key)] = struct{}{}

	if w, ok := txn.writes[string(key)]; ok {
		if w.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), w.value...), nil
	}
	return txn.db.getAt(key, txn.snapshotSeq)
}

// Put buffers a put. Later writes to the same key win.
func (txn *Transaction) Put(key, value []byte) error {
	if len(key) == 0 {
		return errors.Wrap(ErrInvalidArgument, "empty key")
	}
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.done {
		return ErrClosed
	}
	txn.bufferWrite(key, txnWrite{value: append([]byte(nil), value...)})
	return nil
}

// Delete buffers a tombstone.
func (txn *Transaction) Delete(key []byte) error {
	if len(key) == 0 {
		return errors.Wrap(ErrInvalidArgument, "empty key")
	}
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.done {
		return ErrClosed
	}
	txn.bufferWrite(key, txnWrite{deleted: true})
	return nil
}

func (txn *Transaction) bufferWrite(key []byte, w txnWrite) {
	k := string(key)
	if _, seen := txn.writes[k]; !seen {
		txn.order = append(txn.order, k)
	}
	txn.writes[k] = w
}

// Commit validates and applies the transaction. On ErrConflict the
// transaction is finished and nothing was written; retry with a fresh
// Begin.
func (txn *Transaction) Commit() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.done {
		return ErrClosed
	}

	d := txn.db
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	// Conflict check: any committed write to a key we read or wrote,
	// with a sequence after our snapshot, aborts.
	for key := range txn.reads {
		if d.committed.committedAfter(key, txn.snapshotSeq) {
			txn.finishLocked()
			d.logger.Debugf(logging.NSTxn+"conflict on read key %q", key)
			return ErrConflict
		}
	}
	for _, key := range txn.order {
		if _, alsoRead := txn.reads[key]; alsoRead {
			continue
		}
		if d.committed.committedAfter(key, txn.snapshotSeq) {
			txn.finishLocked()
			d.logger.Debugf(logging.NSTxn+"conflict on written key %q", key)
			return ErrConflict
		}
	}

	if len(txn.order) == 0 {
		txn.finishLocked()
		return nil
	}

	wb := batch.New()
	for _, key := range txn.order {
		w := txn.writes[key]
		if w.deleted {
			wb.Delete([]byte(key))
		} else {
			wb.Put([]byte(key), w.value)
		}
	}

	if err := d.commitLocked(nil, wb); err != nil {
		txn.finishLocked()
		return err
	}

	d.logger.Debugf(logging.NSTxn+"committed %d writes at seq %d", wb.Count(), wb.Sequence())
	txn.finishLocked()
	return nil
}

// Abort discards the transaction. Safe to call after Commit; it then
// does nothing.
func (txn *Transaction) Abort() error {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.done {
		return nil
	}
	txn.finishLocked()
	return nil
}

// finishLocked releases the snapshot and marks the transaction done.
func (txn *Transaction) finishLocked() {
	txn.db.snapshots.release(txn.snapshotSeq)
	txn.reads = nil
	txn.writes = nil
	txn.order = nil
	txn.done = true
}

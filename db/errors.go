package db

import "github.com/cockroachdb/errors"

var (
	// ErrNotFound is returned when a key has no visible value.
	ErrNotFound = errors.New("db: not found")

	// ErrCorruption indicates unreadable data: a bad checksum, a
	// truncated block, or an unparsable MANIFEST.
	ErrCorruption = errors.New("db: corruption")

	// ErrIO marks a failure propagated from storage. On the write path
	// it is fatal to the writer and leaves the database read-only until
	// reopened.
	ErrIO = errors.New("db: i/o error")

	// ErrConflict is returned by Commit when another transaction
	// committed a conflicting write after this transaction's snapshot.
	// The caller may retry the whole transaction.
	ErrConflict = errors.New("db: transaction conflict")

	// ErrInvalidArgument is returned for malformed inputs such as an
	// empty key.
	ErrInvalidArgument = errors.New("db: invalid argument")

	// ErrClosed is returned when operating on a closed database or a
	// finished transaction.
	ErrClosed = errors.New("db: already closed")

	// ErrLockFailure is returned when another process holds the database
	// directory lock.
	ErrLockFailure = errors.New("db: directory lock held")

	// ErrReadOnly is returned for writes after a background error has
	// stopped the write path. Reopen the database to recover.
	ErrReadOnly = errors.New("db: database is in read-only mode")
)

package db

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/willzeng274/MidDB/internal/vfs"
)

// Durability across a clean close: everything written is there after
// reopen.
func TestCloseReopen(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, testOptions(fs))

	const n = 10000
	for i := range n {
		key := fmt.Sprintf("key-%05d", i)
		require.NoError(t, d.Put(nil, []byte(key), []byte(key)))
	}
	require.NoError(t, d.Close())

	d = openTestDB(t, testOptions(fs))
	defer func() { _ = d.Close() }()

	v, err := d.Get(nil, []byte("key-05000"))
	require.NoError(t, err)
	require.Equal(t, []byte("key-05000"), v)

	for _, i := range []int{0, 1, 4999, 9998, 9999} {
		key := fmt.Sprintf("key-%05d", i)
		v, err := d.Get(nil, []byte(key))
		require.NoError(t, err, "key %s", key)
		require.Equal(t, key, string(v))
	}

	_, err = d.Get(nil, []byte("key-10000"))
	require.ErrorIs(t, err, ErrNotFound)
}

// Durability across a crash: a synced write whose memtable state is lost
// reappears through WAL replay.
func TestWALReplayAfterCrash(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, testOptions(fs))

	require.NoError(t, d.Put(nil, []byte("durable"), []byte("yes")))
	require.NoError(t, d.Delete(nil, []byte("durable-then-deleted")))
	crash(d)

	d = openTestDB(t, testOptions(fs))
	defer func() { _ = d.Close() }()

	v, err := d.Get(nil, []byte("durable"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), v)
}

// Repeated crashes and reopens never lose synced state.
func TestCrashReopenCycles(t *testing.T) {
	fs := vfs.NewMem()
	expected := make(map[string]string)

	for cycle := range 5 {
		d := openTestDB(t, testOptions(fs))
		for i := range 100 {
			key := fmt.Sprintf("cycle-%d-key-%03d", cycle, i)
			value := fmt.Sprintf("v-%d-%d", cycle, i)
			require.NoError(t, d.Put(nil, []byte(key), []byte(value)))
			expected[key] = value
		}
		for key, want := range expected {
			v, err := d.Get(nil, []byte(key))
			require.NoError(t, err, "cycle %d key %s", cycle, key)
			require.Equal(t, want, string(v))
		}
		crash(d)
	}
}

// Truncating the tail of the active WAL loses the last batch entirely or
// not at all, never partially.
func TestWALTornTailAllOrNothing(t *testing.T) {
	writeWorkload := func(fs *vfs.MemFS) (logPath string, size1, size2 int64) {
		d := openTestDB(t, testOptions(fs))
		logPath = activeLogPath(d)

		wb1 := NewWriteBatch()
		wb1.Put([]byte("first-a"), []byte("1"))
		wb1.Put([]byte("first-b"), []byte("2"))
		require.NoError(t, d.Write(nil, wb1))
		size1, _ = fs.FileSize(logPath)

		wb2 := NewWriteBatch()
		wb2.Put([]byte("second-a"), []byte("3"))
		wb2.Put([]byte("second-b"), []byte("4"))
		wb2.Delete([]byte("first-a"))
		require.NoError(t, d.Write(nil, wb2))
		size2, _ = fs.FileSize(logPath)

		crash(d)
		return logPath, size1, size2
	}

	// Probe the cut positions once.
	probe := vfs.NewMem()
	_, size1, size2 := writeWorkload(probe)
	require.Greater(t, size2, size1)

	for cut := size1; cut <= size2; cut++ {
		fs := vfs.NewMem()
		logPath, _, _ := writeWorkload(fs)
		require.NoError(t, fs.Truncate(logPath, cut))

		d := openTestDB(t, testOptions(fs))

		// The first batch is always intact.
		v, err := d.Get(nil, []byte("first-b"))
		require.NoError(t, err, "cut %d", cut)
		require.Equal(t, []byte("2"), v)

		// The second batch is all-or-nothing.
		_, errA := d.Get(nil, []byte("second-a"))
		_, errB := d.Get(nil, []byte("second-b"))
		_, errDel := d.Get(nil, []byte("first-a"))

		if cut == size2 {
			require.NoError(t, errA, "cut %d: full batch must survive", cut)
		}
		if errA == nil {
			// Batch applied: every part of it is visible.
			require.NoError(t, errB, "cut %d", cut)
			require.ErrorIs(t, errDel, ErrNotFound, "cut %d", cut)
		} else {
			// Batch lost: no part of it is visible.
			require.ErrorIs(t, errA, ErrNotFound, "cut %d", cut)
			require.ErrorIs(t, errB, ErrNotFound, "cut %d", cut)
			require.NoError(t, errDel, "cut %d: first-a must still be visible", cut)
		}
		crash(d)
	}
}

// Recovery must also cover data already flushed to SSTables.
func TestRecoveryWithFlushedData(t *testing.T) {
	fs := vfs.NewMem()
	opts := testOptions(fs)
	opts.MemTableSizeLimit = 8 * 1024
	d := openTestDB(t, opts)

	expected := make(map[string]string)
	for i := range 2000 {
		key := fmt.Sprintf("key-%05d", i)
		value := fmt.Sprintf("value-%05d", i)
		require.NoError(t, d.Put(nil, []byte(key), []byte(value)))
		expected[key] = value
	}
	require.NoError(t, d.Flush())
	s := d.Stats()
	require.Positive(t, s.NumSSTables)
	crash(d)

	d = openTestDB(t, testOptions(fs))
	defer func() { _ = d.Close() }()
	for _, i := range []int{0, 500, 1000, 1500, 1999} {
		key := fmt.Sprintf("key-%05d", i)
		v, err := d.Get(nil, []byte(key))
		require.NoError(t, err, "key %s", key)
		require.Equal(t, expected[key], string(v))
	}
}

// Sequence numbers continue monotonically after recovery.
func TestSequenceMonotonicAcrossReopen(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, testOptions(fs))
	require.NoError(t, d.Put(nil, []byte("a"), []byte("1")))
	require.NoError(t, d.Put(nil, []byte("b"), []byte("2")))
	seqBefore := d.Stats().LastSequence
	require.NoError(t, d.Close())

	d = openTestDB(t, testOptions(fs))
	defer func() { _ = d.Close() }()
	require.GreaterOrEqual(t, d.Stats().LastSequence, seqBefore)

	require.NoError(t, d.Put(nil, []byte("c"), []byte("3")))
	require.Greater(t, d.Stats().LastSequence, seqBefore)
}

package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "middb.yaml")
	content := `
memtable_size_limit: 1048576
l0_compaction_trigger: 8
max_sstable_size: 4194304
block_size: 8192
bloom_bits_per_key: 14
wal_sync_mode: never
background_compaction: false
compression: snappy
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	opts, err := OptionsFromFile(path)
	require.NoError(t, err)
	require.EqualValues(t, 1048576, opts.MemTableSizeLimit)
	require.Equal(t, 8, opts.L0CompactionTrigger)
	require.EqualValues(t, 4194304, opts.MaxSSTableSize)
	require.Equal(t, 8192, opts.BlockSize)
	require.Equal(t, 14, opts.BloomBitsPerKey)
	require.Equal(t, WALSyncNever, opts.WALSyncMode)
	require.False(t, opts.BackgroundCompaction)
	require.Equal(t, "snappy", opts.Compression)
}

func TestOptionsFromFilePartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "middb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_size: 2048\n"), 0644))

	opts, err := OptionsFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 2048, opts.BlockSize)
	// Unspecified fields keep their defaults.
	require.EqualValues(t, 4*1024*1024, opts.MemTableSizeLimit)
	require.Equal(t, WALSyncAlways, opts.WALSyncMode)
}

func TestOptionsInvalidCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "middb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compression: gzip\n"), 0644))

	_, err := OptionsFromFile(path)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOptionsSanitize(t *testing.T) {
	opts := &Options{WALSyncMode: "sometimes"}
	require.ErrorIs(t, opts.sanitize(), ErrInvalidArgument)

	opts = &Options{}
	require.NoError(t, opts.sanitize())
	require.EqualValues(t, 4*1024*1024, opts.MemTableSizeLimit)
	require.Equal(t, 4, opts.L0CompactionTrigger)
	require.NotNil(t, opts.Logger)
	require.NotNil(t, opts.FS)
}

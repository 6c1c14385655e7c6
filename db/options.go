package db

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"

	"github.com/willzeng274/MidDB/internal/compression"
	"github.com/willzeng274/MidDB/internal/filter"
	"github.com/willzeng274/MidDB/internal/logging"
	"github.com/willzeng274/MidDB/internal/vfs"
)

// WALSyncMode controls when the WAL is fsynced.
type WALSyncMode string

const (
	// WALSyncAlways fsyncs the WAL before acknowledging each write.
	WALSyncAlways WALSyncMode = "always"

	// WALSyncNever skips the fsync. Committed writes may be lost on a
	// crash; intended for tests only.
	WALSyncNever WALSyncMode = "never"
)

// Options configures a database.
type Options struct {
	// MemTableSizeLimit freezes the active memtable once its
	// approximate size exceeds this many bytes.
	MemTableSizeLimit int64 `yaml:"memtable_size_limit"`

	// L0CompactionTrigger starts a compaction when L0 reaches this many
	// files.
	L0CompactionTrigger int `yaml:"l0_compaction_trigger"`

	// MaxSSTableSize rolls compaction output files at this size.
	MaxSSTableSize uint64 `yaml:"max_sstable_size"`

	// BlockSize is the uncompressed target size of SSTable data blocks.
	BlockSize int `yaml:"block_size"`

	// BloomBitsPerKey controls bloom filter accuracy; 0 disables.
	BloomBitsPerKey int `yaml:"bloom_bits_per_key"`

	// WALSyncMode selects the durability mode ("always" or "never").
	WALSyncMode WALSyncMode `yaml:"wal_sync_mode"`

	// BackgroundCompaction enables the compaction worker.
	BackgroundCompaction bool `yaml:"background_compaction"`

	// Compression selects the SSTable block codec
	// ("none", "snappy", "lz4", "zstd").
	Compression string `yaml:"compression"`

	// Logger receives engine diagnostics. Defaults to a WARN stderr
	// logger.
	Logger logging.Logger `yaml:"-"`

	// FS is the filesystem backend. Defaults to the OS filesystem.
	FS vfs.FS `yaml:"-"`
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() *Options {
	return &Options{
		MemTableSizeLimit:    4 * 1024 * 1024,
		L0CompactionTrigger:  4,
		MaxSSTableSize:       2 * 1024 * 1024,
		BlockSize:            4096,
		BloomBitsPerKey:      filter.DefaultBitsPerKey,
		WALSyncMode:          WALSyncAlways,
		BackgroundCompaction: true,
		Compression:          "none",
	}
}

// OptionsFromFile loads options from a YAML file, applying defaults for
// absent fields.
func OptionsFromFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "options file %s: %v", path, err)
	}
	if _, err := opts.compressionType(); err != nil {
		return nil, err
	}
	return opts, nil
}

// sanitize fills zero values with defaults and validates enumerations.
func (o *Options) sanitize() error {
	def := DefaultOptions()
	if o.MemTableSizeLimit <= 0 {
		o.MemTableSizeLimit = def.MemTableSizeLimit
	}
	if o.L0CompactionTrigger <= 0 {
		o.L0CompactionTrigger = def.L0CompactionTrigger
	}
	if o.MaxSSTableSize == 0 {
		o.MaxSSTableSize = def.MaxSSTableSize
	}
	if o.BlockSize <= 0 {
		o.BlockSize = def.BlockSize
	}
	if o.WALSyncMode == "" {
		o.WALSyncMode = WALSyncAlways
	}
	if o.WALSyncMode != WALSyncAlways && o.WALSyncMode != WALSyncNever {
		return errors.Wrapf(ErrInvalidArgument, "wal_sync_mode %q", o.WALSyncMode)
	}
	if o.Compression == "" {
		o.Compression = "none"
	}
	if _, err := o.compressionType(); err != nil {
		return err
	}
	o.Logger = logging.OrDefault(o.Logger)
	if o.FS == nil {
		o.FS = vfs.Default()
	}
	return nil
}

func (o *Options) compressionType() (compression.Type, error) {
	switch o.Compression {
	case "", "none":
		return compression.None, nil
	case "snappy":
		return compression.Snappy, nil
	case "lz4":
		return compression.LZ4, nil
	case "zstd":
		return compression.Zstd, nil
	default:
		return compression.None, errors.Wrapf(ErrInvalidArgument, "compression %q", o.Compression)
	}
}

// ReadOptions configures individual reads.
type ReadOptions struct {
	// Snapshot pins the read to a point in time. Nil reads the latest
	// committed state.
	Snapshot *Snapshot
}

// WriteOptions configures individual writes.
type WriteOptions struct {
	// NoSync skips the WAL fsync for this write even in "always" mode.
	NoSync bool
}

package db

import (
	"sync"

	"github.com/willzeng274/MidDB/internal/table"
	"github.com/willzeng274/MidDB/internal/vfs"
)

// tableSet keeps one open reader per live SSTable. Readers are opened on
// first use and closed when the file is garbage collected.
type tableSet struct {
	dir string
	fs  vfs.FS

	mu      sync.Mutex
	readers map[uint64]*table.Reader
}

func newTableSet(dir string, fs vfs.FS) *tableSet {
	return &tableSet{
		dir:     dir,
		fs:      fs,
		readers: make(map[uint64]*table.Reader),
	}
}

// Reader returns the open reader for a file, opening it if needed.
func (ts *tableSet) Reader(fileNumber uint64) (*table.Reader, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if r, ok := ts.readers[fileNumber]; ok {
		return r, nil
	}

	f, err := ts.fs.OpenRandomAccess(sstFilePath(ts.dir, fileNumber))
	if err != nil {
		return nil, err
	}
	r, err := table.NewReader(f)
	if err != nil {
		return nil, err
	}
	ts.readers[fileNumber] = r
	return r, nil
}

// Evict closes and forgets the reader for a deleted file.
func (ts *tableSet) Evict(fileNumber uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if r, ok := ts.readers[fileNumber]; ok {
		_ = r.Close()
		delete(ts.readers, fileNumber)
	}
}

// CloseAll closes every open reader.
func (ts *tableSet) CloseAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for num, r := range ts.readers {
		_ = r.Close()
		delete(ts.readers, num)
	}
}

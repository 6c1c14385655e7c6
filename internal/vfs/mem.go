package vfs

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemFS is an in-memory filesystem for tests. It mirrors the FS API and
// additionally exposes Truncate for simulating torn writes at the tail of
// a file.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFile
	dirs  map[string]bool
	locks map[string]bool
}

// NewMem returns an empty in-memory filesystem.
func NewMem() *MemFS {
	return &MemFS{
		files: make(map[string]*memFile),
		dirs:  map[string]bool{"/": true, ".": true},
		locks: make(map[string]bool),
	}
}

type memFile struct {
	mu   sync.Mutex
	data []byte
}

func clean(name string) string {
	return path.Clean(strings.ReplaceAll(name, string(os.PathSeparator), "/"))
}

func (fs *MemFS) Create(name string) (WritableFile, error) {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f := &memFile{}
	fs.files[name] = f
	return &memWritableFile{f: f}, nil
}

func (fs *MemFS) Open(name string) (SequentialFile, error) {
	f, err := fs.lookup(name)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	data := append([]byte(nil), f.data...)
	f.mu.Unlock()
	return &memSequentialFile{data: data}, nil
}

func (fs *MemFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	f, err := fs.lookup(name)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	data := append([]byte(nil), f.data...)
	f.mu.Unlock()
	return &memRandomAccessFile{data: data}, nil
}

func (fs *MemFS) lookup(name string) (*memFile, error) {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[name]
	if !ok {
		return nil, errors.Wrapf(os.ErrNotExist, "open %s", name)
	}
	return f, nil
}

func (fs *MemFS) Rename(oldname, newname string) error {
	oldname, newname = clean(oldname), clean(newname)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[oldname]
	if !ok {
		return errors.Wrapf(os.ErrNotExist, "rename %s", oldname)
	}
	fs.files[newname] = f
	delete(fs.files, oldname)
	return nil
}

func (fs *MemFS) Remove(name string) error {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return errors.Wrapf(os.ErrNotExist, "remove %s", name)
	}
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) MkdirAll(dir string, _ os.FileMode) error {
	dir = clean(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for dir != "/" && dir != "." {
		fs.dirs[dir] = true
		dir = path.Dir(dir)
	}
	return nil
}

func (fs *MemFS) Exists(name string) bool {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; ok {
		return true
	}
	return fs.dirs[name]
}

func (fs *MemFS) ListDir(dir string) ([]string, error) {
	dir = clean(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	seen := make(map[string]bool)
	for name := range fs.files {
		if path.Dir(name) == dir {
			seen[path.Base(name)] = true
		}
	}
	for name := range fs.dirs {
		if name != dir && path.Dir(name) == dir {
			seen[path.Base(name)] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *MemFS) Lock(name string) (io.Closer, error) {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.locks[name] {
		return nil, errors.Newf("vfs: lock held: %s", name)
	}
	fs.locks[name] = true
	if _, ok := fs.files[name]; !ok {
		fs.files[name] = &memFile{}
	}
	return &memLock{fs: fs, name: name}, nil
}

func (fs *MemFS) SyncDir(string) error {
	return nil
}

// Truncate shortens the named file to size bytes. Used by tests to model
// torn writes.
func (fs *MemFS) Truncate(name string, size int64) error {
	f, err := fs.lookup(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if int64(len(f.data)) > size {
		f.data = f.data[:size]
	}
	return nil
}

// FileSize returns the size of the named file.
func (fs *MemFS) FileSize(name string) (int64, error) {
	f, err := fs.lookup(name)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data)), nil
}

type memWritableFile struct {
	f *memFile
}

func (wf *memWritableFile) Write(p []byte) (int, error) {
	wf.f.mu.Lock()
	defer wf.f.mu.Unlock()
	wf.f.data = append(wf.f.data, p...)
	return len(p), nil
}

func (wf *memWritableFile) Close() error { return nil }

func (wf *memWritableFile) Sync() error { return nil }

func (wf *memWritableFile) Size() (int64, error) {
	wf.f.mu.Lock()
	defer wf.f.mu.Unlock()
	return int64(len(wf.f.data)), nil
}

type memSequentialFile struct {
	data []byte
	pos  int
}

func (sf *memSequentialFile) Read(p []byte) (int, error) {
	if sf.pos >= len(sf.data) {
		return 0, io.EOF
	}
	n := copy(p, sf.data[sf.pos:])
	sf.pos += n
	return n, nil
}

func (sf *memSequentialFile) Close() error { return nil }

type memRandomAccessFile struct {
	data []byte
}

func (rf *memRandomAccessFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(rf.data)) {
		return 0, io.EOF
	}
	n := copy(p, rf.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (rf *memRandomAccessFile) Close() error { return nil }

func (rf *memRandomAccessFile) Size() int64 { return int64(len(rf.data)) }

type memLock struct {
	fs   *MemFS
	name string
}

func (l *memLock) Close() error {
	l.fs.mu.Lock()
	defer l.fs.mu.Unlock()
	delete(l.fs.locks, l.name)
	return nil
}

package vfs

import (
	"bytes"
	"io"
	"testing"
)

func TestMemFSReadWrite(t *testing.T) {
	fs := NewMem()

	f, err := fs.Create("dir/file")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := f.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	_ = f.Close()

	sf, err := fs.Open("dir/file")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(sf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(data, []byte("hello world")) {
		t.Fatalf("contents = %q", data)
	}
	_ = sf.Close()

	raf, err := fs.OpenRandomAccess("dir/file")
	if err != nil {
		t.Fatalf("OpenRandomAccess: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := raf.ReadAt(buf, 6); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "world" {
		t.Fatalf("ReadAt = %q", buf)
	}
	if raf.Size() != 11 {
		t.Fatalf("Size = %d", raf.Size())
	}
	_ = raf.Close()
}

func TestMemFSOpenMissing(t *testing.T) {
	fs := NewMem()
	if _, err := fs.Open("absent"); err == nil {
		t.Fatal("Open of a missing file succeeded")
	}
	if fs.Exists("absent") {
		t.Fatal("Exists reported a missing file")
	}
}

func TestMemFSRenameRemove(t *testing.T) {
	fs := NewMem()
	f, _ := fs.Create("a")
	_, _ = f.Write([]byte("x"))
	_ = f.Close()

	if err := fs.Rename("a", "b"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if fs.Exists("a") || !fs.Exists("b") {
		t.Fatal("rename left wrong state")
	}
	if err := fs.Remove("b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fs.Exists("b") {
		t.Fatal("Remove left the file")
	}
}

func TestMemFSListDir(t *testing.T) {
	fs := NewMem()
	_ = fs.MkdirAll("db", 0755)
	for _, name := range []string{"db/b.sst", "db/a.log", "db/CURRENT"} {
		f, _ := fs.Create(name)
		_ = f.Close()
	}
	other, _ := fs.Create("elsewhere/c")
	_ = other.Close()

	names, err := fs.ListDir("db")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	want := []string{"CURRENT", "a.log", "b.sst"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestMemFSLock(t *testing.T) {
	fs := NewMem()
	lock, err := fs.Lock("LOCK")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := fs.Lock("LOCK"); err == nil {
		t.Fatal("second Lock succeeded")
	}
	if err := lock.Close(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	relock, err := fs.Lock("LOCK")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	_ = relock.Close()
}

func TestMemFSTruncate(t *testing.T) {
	fs := NewMem()
	f, _ := fs.Create("file")
	_, _ = f.Write([]byte("0123456789"))
	_ = f.Close()

	if err := fs.Truncate("file", 4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	size, err := fs.FileSize("file")
	if err != nil || size != 4 {
		t.Fatalf("FileSize = %d, %v", size, err)
	}

	sf, _ := fs.Open("file")
	data, _ := io.ReadAll(sf)
	if string(data) != "0123" {
		t.Fatalf("contents = %q", data)
	}
}

// Writes after an Open must not be visible through the already-open
// reader: readers see a stable view.
func TestMemFSReaderIsolation(t *testing.T) {
	fs := NewMem()
	f, _ := fs.Create("file")
	_, _ = f.Write([]byte("before"))

	sf, _ := fs.Open("file")
	_, _ = f.Write([]byte("-after"))

	data, _ := io.ReadAll(sf)
	if string(data) != "before" {
		t.Fatalf("reader saw %q", data)
	}
}

func TestOSFSRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs := Default()

	f, err := fs.Create(dir + "/file")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	_ = f.Close()

	raf, err := fs.OpenRandomAccess(dir + "/file")
	if err != nil {
		t.Fatalf("OpenRandomAccess: %v", err)
	}
	buf := make([]byte, 7)
	if _, err := raf.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "payload" {
		t.Fatalf("contents = %q", buf)
	}
	_ = raf.Close()

	if err := fs.SyncDir(dir); err != nil {
		t.Fatalf("SyncDir: %v", err)
	}

	lock, err := fs.Lock(dir + "/LOCK")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	_ = lock.Close()
}

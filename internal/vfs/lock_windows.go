//go:build windows

package vfs

import (
	"io"
	"os"
)

type fileLock struct {
	f *os.File
}

// lockFile acquires an exclusive lock on the named file. Windows enforces
// exclusive access on open handles, so holding the file open suffices.
func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	return l.f.Close()
}

//go:build !unix

package storage

// fileLock is a no-op where flock(2) is unavailable; the file driver is then
// only safe for a single process.
type fileLock struct {
	path string
}

func newFileLock(path string) *fileLock { return &fileLock{path: path} }

func (l *fileLock) Lock() error { return nil }

func (l *fileLock) Unlock() error { return nil }

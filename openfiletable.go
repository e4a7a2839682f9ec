package cryptovfs

import (
	"sync"

	"github.com/absfs/absfs"
)

// OpenFileTable is the registry that lets every absfs.File handle opened
// against the same ciphertext path share one OpenCryptoFile, so writes
// through one handle are visible to reads through another and a rename can
// find every live handle that needs its path updated. Grounded on
// gocryptfs's internal/openfiletable package, which keys the same way by
// device+inode; this module keys by host path since absfs backends don't
// expose inode numbers uniformly.
type OpenFileTable struct {
	mu      sync.Mutex
	entries map[string]*OpenCryptoFile
}

func NewOpenFileTable() *OpenFileTable {
	return &OpenFileTable{entries: make(map[string]*OpenCryptoFile)}
}

// GetOrOpen returns the shared OpenCryptoFile for hostPath, opening it via
// openHost if no handle is currently registered. On a fresh open, isNew
// tells the OpenCryptoFile whether to initialize a header or read one.
func (t *OpenFileTable) GetOrOpen(hostPath, cleartextPath string, cryptor Cryptor, cacheCapacity int, stats *Stats, isNew bool, parallel ParallelConfig, openHost func() (absfs.File, error)) (*OpenCryptoFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[hostPath]; ok {
		existing.retain()
		return existing, nil
	}

	host, err := openHost()
	if err != nil {
		return nil, err
	}
	f, err := newOpenCryptoFile(host, cryptor, cleartextPath, cacheCapacity, stats, isNew, parallel)
	if err != nil {
		host.Close()
		return nil, err
	}
	t.entries[hostPath] = f
	return f, nil
}

// peek returns the live handle for hostPath without affecting its refcount,
// or nil if no handle is currently open, for Stat to prefer in-memory state
// over what's been flushed to host.
func (t *OpenFileTable) peek(hostPath string) *OpenCryptoFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[hostPath]
}

// Release decrements hostPath's reference count and closes the shared
// handle once no absfs.File wrapper references it anymore.
func (t *OpenFileTable) Release(hostPath string) error {
	t.mu.Lock()
	f, ok := t.entries[hostPath]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	last := f.release()
	if last {
		delete(t.entries, hostPath)
	}
	t.mu.Unlock()

	if last {
		return f.closeHost()
	}
	return nil
}

// Rename moves the registry entry (and every live handle's idea of its own
// path) from oldHostPath to newHostPath, called after the underlying host
// rename has already succeeded.
func (t *OpenFileTable) Rename(oldHostPath, newHostPath, newCleartextPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.entries[oldHostPath]
	if !ok {
		return
	}
	delete(t.entries, oldHostPath)
	t.entries[newHostPath] = f
	f.setPath(newCleartextPath)
}

// FlushAll flushes every currently open file, used by CryptoFileSystem.Close.
func (t *OpenFileTable) FlushAll() error {
	t.mu.Lock()
	files := make([]*OpenCryptoFile, 0, len(t.entries))
	for _, f := range t.entries {
		files = append(files, f)
	}
	t.mu.Unlock()

	var firstErr error
	for _, f := range files {
		if err := f.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

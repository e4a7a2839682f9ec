package cryptovfs

import (
	"sync"
	"testing"

	"github.com/absfs/absfs"
)

func newTestOpenFileTableEntry(t *testing.T, table *OpenFileTable, hostPath, cleartextPath string) *OpenCryptoFile {
	t.Helper()
	cryptor, err := NewCryptor(CipherAES256GCM, testMasterKey(), DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	f, err := table.GetOrOpen(hostPath, cleartextPath, cryptor, 8, NewStats(), true, ParallelConfig{}, func() (absfs.File, error) {
		return &memFile{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestOpenFileTableGetOrOpenSharesInstance(t *testing.T) {
	table := NewOpenFileTable()
	a := newTestOpenFileTableEntry(t, table, "/vault/d/aa/one", "/one.txt")

	cryptor, err := NewCryptor(CipherAES256GCM, testMasterKey(), DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	opened := false
	b, err := table.GetOrOpen("/vault/d/aa/one", "/one.txt", cryptor, 8, NewStats(), true, ParallelConfig{}, func() (absfs.File, error) {
		opened = true
		return &memFile{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if opened {
		t.Error("a second GetOrOpen for the same hostPath should not call openHost again")
	}
	if a != b {
		t.Error("GetOrOpen should return the same *OpenCryptoFile for the same hostPath")
	}
}

func TestOpenFileTablePeekReturnsNilWhenNotOpen(t *testing.T) {
	table := NewOpenFileTable()
	if table.peek("/vault/d/aa/missing") != nil {
		t.Error("peek on a hostPath with no entry should return nil")
	}
	f := newTestOpenFileTableEntry(t, table, "/vault/d/aa/one", "/one.txt")
	if table.peek("/vault/d/aa/one") != f {
		t.Error("peek should return the registered entry without affecting its refcount")
	}
}

func TestOpenFileTableReleaseClosesOnLastReference(t *testing.T) {
	table := NewOpenFileTable()
	f := newTestOpenFileTableEntry(t, table, "/vault/d/aa/one", "/one.txt")
	f.retain() // refcount now 2, matching two GetOrOpen callers

	if err := table.Release("/vault/d/aa/one"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if table.peek("/vault/d/aa/one") == nil {
		t.Fatal("entry should still be registered while a reference remains")
	}

	if err := table.Release("/vault/d/aa/one"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if table.peek("/vault/d/aa/one") != nil {
		t.Error("entry should be removed once its last reference is released")
	}
}

func TestOpenFileTableRenameRekeysEntryAndPath(t *testing.T) {
	table := NewOpenFileTable()
	f := newTestOpenFileTableEntry(t, table, "/vault/d/aa/old", "/old.txt")

	table.Rename("/vault/d/aa/old", "/vault/d/aa/new", "/new.txt")

	if table.peek("/vault/d/aa/old") != nil {
		t.Error("old hostPath should no longer resolve after Rename")
	}
	renamed := table.peek("/vault/d/aa/new")
	if renamed != f {
		t.Fatal("Rename should re-key the same *OpenCryptoFile under the new hostPath")
	}
	if renamed.Path() != "/new.txt" {
		t.Errorf("Path() = %q, want %q", renamed.Path(), "/new.txt")
	}
}

func TestOpenFileTableRenameOfUnknownPathIsNoop(t *testing.T) {
	table := NewOpenFileTable()
	table.Rename("/vault/d/aa/never-opened", "/vault/d/aa/still-never", "/x.txt")
	if table.peek("/vault/d/aa/still-never") != nil {
		t.Error("Rename of a hostPath with no live entry should not create one")
	}
}

func TestOpenFileTableFlushAllFlushesEveryEntry(t *testing.T) {
	table := NewOpenFileTable()
	a := newTestOpenFileTableEntry(t, table, "/vault/d/aa/one", "/one.txt")
	b := newTestOpenFileTableEntry(t, table, "/vault/d/aa/two", "/two.txt")

	if _, err := a.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := b.WriteAt([]byte("world"), 0); err != nil {
		t.Fatal(err)
	}

	if err := table.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
}

// TestOpenFileTableGetOrOpenConcurrentIsSingleInstance is the object-identity
// property under concurrency: many goroutines racing to open the same
// hostPath must all observe exactly one *OpenCryptoFile, never two
// independent handles racing over the same ciphertext file.
func TestOpenFileTableGetOrOpenConcurrentIsSingleInstance(t *testing.T) {
	table := NewOpenFileTable()
	cryptor, err := NewCryptor(CipherAES256GCM, testMasterKey(), DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}

	const goroutines = 32
	results := make([]*OpenCryptoFile, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			f, err := table.GetOrOpen("/vault/d/aa/shared", "/shared.txt", cryptor, 8, NewStats(), true, ParallelConfig{}, func() (absfs.File, error) {
				return &memFile{}, nil
			})
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = f
		}(i)
	}
	wg.Wait()

	first := results[0]
	for i, f := range results {
		if f != first {
			t.Errorf("goroutine %d got a different *OpenCryptoFile instance than goroutine 0", i)
		}
	}
}

package cryptovfs

import (
	"bytes"
	"os"
	"testing"
)

// memFile is a minimal in-memory absfs.File backed by a growable byte
// buffer, standing in for a host handle in tests that only exercise
// ReadAt/WriteAt.
type memFile struct {
	buf []byte
}

func (f *memFile) Read(p []byte) (int, error)  { return 0, os.ErrInvalid }
func (f *memFile) Write(p []byte) (int, error) { return 0, os.ErrInvalid }
func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	return 0, os.ErrInvalid
}
func (f *memFile) Sync() error  { return nil }
func (f *memFile) Close() error { return nil }
func (f *memFile) Stat() (os.FileInfo, error) {
	return nil, os.ErrInvalid
}
func (f *memFile) Name() string { return "memfile" }
func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.buf)) {
		return 0, nil
	}
	n := copy(p, f.buf[off:])
	return n, nil
}
func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[off:end], p)
	return len(p), nil
}
func (f *memFile) WriteString(s string) (int, error)         { return f.Write([]byte(s)) }
func (f *memFile) Truncate(size int64) error {
	if size > int64(len(f.buf)) {
		grown := make([]byte, size)
		copy(grown, f.buf)
		f.buf = grown
		return nil
	}
	f.buf = f.buf[:size]
	return nil
}
func (f *memFile) Readdirnames(n int) ([]string, error)      { return nil, os.ErrInvalid }
func (f *memFile) Readdir(n int) ([]os.FileInfo, error)      { return nil, os.ErrInvalid }

func TestChunkCacheWriteBackOnEviction(t *testing.T) {
	cryptor, err := NewCryptor(CipherAES256GCM, testMasterKey(), 16)
	if err != nil {
		t.Fatal(err)
	}
	header, err := cryptor.NewFileHeader()
	if err != nil {
		t.Fatal(err)
	}
	host := &memFile{}
	stats := NewStats()
	cache := NewChunkCache(cryptor, header, host, 1, stats, ParallelConfig{})

	cache.WriteChunk(0, []byte("0123456789012345"))
	// Writing a second chunk evicts chunk 0, which should flush it to host.
	cache.WriteChunk(1, []byte("abcdefghijklmnop"))

	if len(host.buf) == 0 {
		t.Fatal("evicting a dirty chunk should have written it to host")
	}

	got, err := cache.ReadChunk(0, cryptor.CiphertextChunkSize())
	if err != nil {
		t.Fatalf("ReadChunk after eviction: %v", err)
	}
	if !bytes.Equal(got, []byte("0123456789012345")) {
		t.Errorf("ReadChunk(0) = %q, want the original plaintext", got)
	}
}

func TestChunkCacheFlushWritesAllDirty(t *testing.T) {
	cryptor, err := NewCryptor(CipherAES256GCM, testMasterKey(), 16)
	if err != nil {
		t.Fatal(err)
	}
	header, _ := cryptor.NewFileHeader()
	host := &memFile{}
	cache := NewChunkCache(cryptor, header, host, 4, NewStats(), ParallelConfig{})

	cache.WriteChunk(0, []byte("aaaaaaaaaaaaaaaa"))
	cache.WriteChunk(1, []byte("bbbbbbbbbbbbbbbb"))
	if err := cache.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stride := cryptor.CiphertextChunkSize()
	headerSize := cryptor.HeaderSize()
	if len(host.buf) < headerSize+2*stride {
		t.Fatalf("host buffer too small after flush: %d bytes", len(host.buf))
	}
}

func TestChunkCacheFlushParallelWritesAllDirty(t *testing.T) {
	cryptor, err := NewCryptor(CipherAES256GCM, testMasterKey(), 8)
	if err != nil {
		t.Fatal(err)
	}
	header, _ := cryptor.NewFileHeader()
	host := &memFile{}
	parallel := ParallelConfig{Enabled: true, MaxWorkers: 2, MinChunksForParallel: 2}
	cache := NewChunkCache(cryptor, header, host, 8, NewStats(), parallel)

	for i := uint64(0); i < 6; i++ {
		cache.WriteChunk(i, []byte("abcdefgh"))
	}
	if err := cache.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for i := uint64(0); i < 6; i++ {
		got, err := cache.ReadChunk(i, cryptor.CiphertextChunkSize())
		if err != nil {
			t.Fatalf("ReadChunk(%d): %v", i, err)
		}
		if string(got) != "abcdefgh" {
			t.Errorf("chunk %d = %q, want %q", i, got, "abcdefgh")
		}
	}

	stride := cryptor.CiphertextChunkSize()
	headerSize := cryptor.HeaderSize()
	if len(host.buf) < headerSize+6*stride {
		t.Fatalf("host buffer too small after parallel flush: %d bytes", len(host.buf))
	}
}

func TestChunkCacheInvalidateFromDropsWithoutWriteBack(t *testing.T) {
	cryptor, err := NewCryptor(CipherAES256GCM, testMasterKey(), 16)
	if err != nil {
		t.Fatal(err)
	}
	header, _ := cryptor.NewFileHeader()
	host := &memFile{}
	cache := NewChunkCache(cryptor, header, host, 4, NewStats(), ParallelConfig{})

	cache.WriteChunk(0, []byte("aaaaaaaaaaaaaaaa"))
	cache.WriteChunk(1, []byte("bbbbbbbbbbbbbbbb"))
	cache.InvalidateFrom(1)

	if err := cache.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if want := cryptor.HeaderSize() + cryptor.CiphertextChunkSize(); len(host.buf) != want {
		t.Errorf("host buffer is %d bytes, want %d: only chunk 0 should have been flushed; chunk 1 was invalidated", len(host.buf), want)
	}
}

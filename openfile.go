package cryptovfs

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absfs/absfs"
)

// OpenCryptoFile is one open handle's shared state: the decrypted view over
// a ciphertext file on the host, coordinated so that every absfs.File handle
// referencing the same ciphertext path sees the same cache and size. Field
// shapes are grounded on Cryptomator's OpenCryptoFileModule (an
// AtomicReference<Path> for the current path, an AtomicLong for size, a
// ReentrantReadWriteLock guarding the rest), adapted to a plain struct since
// this module has no dependency-injection container.
type OpenCryptoFile struct {
	mu sync.RWMutex

	host    absfs.File
	cryptor Cryptor
	header  *FileHeader
	cache   *ChunkCache
	stats   *Stats

	chunkSize  int
	stride     int
	overhead   int
	headerSize int

	path     atomic.Pointer[string]
	size     atomic.Int64
	mtimeNs  atomic.Int64
	refCount atomic.Int32
	closed   bool
}

// newOpenCryptoFile wraps host. With isNew it mints a fresh header, writes
// it at offset 0 and starts at size 0; otherwise it reads the header at
// offset 0 and derives the plaintext size from the host file's length.
func newOpenCryptoFile(host absfs.File, cryptor Cryptor, cleartextPath string, cacheCapacity int, stats *Stats, isNew bool, parallel ParallelConfig) (*OpenCryptoFile, error) {
	f := &OpenCryptoFile{
		host:       host,
		cryptor:    cryptor,
		stats:      stats,
		chunkSize:  cryptor.ChunkSize(),
		stride:     cryptor.CiphertextChunkSize(),
		headerSize: cryptor.HeaderSize(),
	}
	f.overhead = f.stride - f.chunkSize
	f.path.Store(&cleartextPath)
	f.mtimeNs.Store(time.Now().UnixNano())

	if isNew {
		header, err := cryptor.NewFileHeader()
		if err != nil {
			return nil, err
		}
		f.header = header
		packed, err := cryptor.PackHeader(header)
		if err != nil {
			return nil, err
		}
		if _, err := host.WriteAt(packed, 0); err != nil {
			return nil, wrapHostErr("createFile", cleartextPath, err)
		}
		f.size.Store(0)
	} else {
		raw := make([]byte, f.headerSize)
		if _, err := io.ReadFull(&offsetReaderAt{host, 0}, raw); err != nil {
			return nil, newErr(KindCorruptedFile, "openFile", cleartextPath, err)
		}
		header, err := cryptor.UnpackHeader(raw)
		if err != nil {
			return nil, newErr(KindCorruptedFile, "openFile", cleartextPath, err)
		}
		f.header = header
		info, err := host.Stat()
		if err != nil {
			return nil, wrapHostErr("openFile", cleartextPath, err)
		}
		f.size.Store(plaintextSizeFromHostSize(info.Size(), f.headerSize, f.stride, f.chunkSize))
	}

	f.cache = NewChunkCache(cryptor, f.header, host, cacheCapacity, stats, parallel)
	f.refCount.Store(1)
	return f, nil
}

// plaintextSizeFromHostSize inverts the fixed-stride layout: total host size
// minus the header is a whole number of full strides plus one partial tail
// chunk, whose plaintext length is its ciphertext length minus the fixed
// per-chunk overhead.
func plaintextSizeFromHostSize(hostSize int64, headerSize, stride, chunkSize int) int64 {
	body := hostSize - int64(headerSize)
	if body <= 0 {
		return 0
	}
	overhead := int64(stride - chunkSize)
	fullChunks := body / int64(stride)
	tail := body % int64(stride)
	if tail == 0 {
		return fullChunks * int64(chunkSize)
	}
	return fullChunks*int64(chunkSize) + (tail - overhead)
}

// offsetReaderAt adapts absfs.File.ReadAt to io.Reader starting at a fixed
// offset, for io.ReadFull's benefit.
type offsetReaderAt struct {
	f   absfs.File
	off int64
}

func (r *offsetReaderAt) Read(p []byte) (int, error) {
	n, err := r.f.ReadAt(p, r.off)
	r.off += int64(n)
	return n, err
}

func (f *OpenCryptoFile) Path() string { return *f.path.Load() }

func (f *OpenCryptoFile) setPath(p string) { f.path.Store(&p) }

func (f *OpenCryptoFile) Size() int64 { return f.size.Load() }

func (f *OpenCryptoFile) ModTime() time.Time { return time.Unix(0, f.mtimeNs.Load()) }

func (f *OpenCryptoFile) touch() { f.mtimeNs.Store(time.Now().UnixNano()) }

func (f *OpenCryptoFile) retain() { f.refCount.Add(1) }

// release decrements the reference count and reports whether it reached
// zero, meaning the caller should Flush, Sync and Close the host file.
func (f *OpenCryptoFile) release() bool {
	return f.refCount.Add(-1) == 0
}

func (f *OpenCryptoFile) chunkPlaintextLen(index uint64) int {
	total := f.size.Load()
	start := int64(index) * int64(f.chunkSize)
	remaining := total - start
	if remaining <= 0 {
		return 0
	}
	if remaining > int64(f.chunkSize) {
		return f.chunkSize
	}
	return int(remaining)
}

func (f *OpenCryptoFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if off < 0 {
		return 0, newErr(KindOther, "readAt", f.Path(), nil)
	}
	size := f.size.Load()
	if off >= size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	total := 0
	for total < len(p) {
		pos := off + int64(total)
		if pos >= size {
			break
		}
		index := uint64(pos) / uint64(f.chunkSize)
		offsetInChunk := int(pos % int64(f.chunkSize))
		plainLen := f.chunkPlaintextLen(index)
		if plainLen == 0 {
			break
		}
		chunk, err := f.cache.ReadChunk(index, plainLen+f.overhead)
		if err != nil {
			return total, err
		}
		if offsetInChunk >= len(chunk) {
			break
		}
		n := copy(p[total:], chunk[offsetInChunk:])
		total += n
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (f *OpenCryptoFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeAtLocked(off, p)
}

// AppendAt reserves space at the current end of the file and writes p
// there, atomically with respect to other writers: the size read and the
// write it authorizes happen under the same lock, so two concurrent
// appenders can never both reserve the same offset the way they could if
// each computed Size() and then called WriteAt separately.
func (f *OpenCryptoFile) AppendAt(p []byte) (int64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	off := f.size.Load()
	n, err := f.writeAtLocked(off, p)
	return off, n, err
}

// writeAtLocked is WriteAt's body; caller holds f.mu.
func (f *OpenCryptoFile) writeAtLocked(off int64, p []byte) (int, error) {
	if off < 0 {
		return 0, newErr(KindOther, "writeAt", f.Path(), nil)
	}
	total := 0
	for total < len(p) {
		pos := off + int64(total)
		index := uint64(pos) / uint64(f.chunkSize)
		offsetInChunk := int(pos % int64(f.chunkSize))
		toWrite := len(p) - total
		if toWrite > f.chunkSize-offsetInChunk {
			toWrite = f.chunkSize - offsetInChunk
		}

		plainLen := f.chunkPlaintextLen(index)
		var buf []byte
		if plainLen > 0 {
			existing, err := f.cache.ReadChunk(index, plainLen+f.overhead)
			if err != nil {
				return total, err
			}
			buf = existing
		}
		needed := offsetInChunk + toWrite
		if needed > len(buf) {
			grown := make([]byte, needed)
			copy(grown, buf)
			buf = grown
		}
		copy(buf[offsetInChunk:offsetInChunk+toWrite], p[total:total+toWrite])
		f.cache.WriteChunk(index, buf)

		total += toWrite
		if newSize := pos + int64(toWrite); newSize > f.size.Load() {
			f.size.Store(newSize)
		}
	}
	f.touch()
	return total, nil
}

// Truncate resizes the file. Growing pads with zero bytes materialized into
// the boundary chunk rather than left sparse, since the fixed-stride layout
// has no hole-tracking of its own.
func (f *OpenCryptoFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size < 0 {
		return newErr(KindOther, "truncate", f.Path(), nil)
	}
	old := f.size.Load()
	if size == old {
		return nil
	}

	if size > old {
		if err := f.zeroFillLocked(old, size); err != nil {
			return err
		}
		f.size.Store(size)
		f.touch()
		return nil
	}

	boundaryIndex := uint64(size) / uint64(f.chunkSize)
	offsetInBoundary := int(size % int64(f.chunkSize))
	nextIndex := boundaryIndex
	if offsetInBoundary > 0 {
		plainLen := f.chunkPlaintextLen(boundaryIndex)
		if plainLen > offsetInBoundary {
			data, err := f.cache.ReadChunk(boundaryIndex, plainLen+f.overhead)
			if err != nil {
				return err
			}
			f.cache.WriteChunk(boundaryIndex, data[:offsetInBoundary])
		}
		nextIndex++
	}
	f.cache.InvalidateFrom(nextIndex)
	hostSize := int64(f.headerSize) + int64(nextIndex)*int64(f.stride)
	if err := f.host.Truncate(hostSize); err != nil {
		return wrapHostErr("truncate", f.Path(), err)
	}
	f.size.Store(size)
	f.touch()
	return nil
}

func (f *OpenCryptoFile) zeroFillLocked(from, to int64) error {
	zeros := make([]byte, f.chunkSize)
	pos := from
	for pos < to {
		index := uint64(pos) / uint64(f.chunkSize)
		offsetInChunk := int(pos % int64(f.chunkSize))
		chunkEnd := (int64(index) + 1) * int64(f.chunkSize)
		if chunkEnd > to {
			chunkEnd = to
		}
		fillLen := int(chunkEnd - pos)

		plainLen := f.chunkPlaintextLen(index)
		var buf []byte
		if plainLen > 0 {
			existing, err := f.cache.ReadChunk(index, plainLen+f.overhead)
			if err != nil {
				return err
			}
			buf = existing
		}
		needed := offsetInChunk + fillLen
		if needed > len(buf) {
			grown := make([]byte, needed)
			copy(grown, buf)
			buf = grown
		}
		copy(buf[offsetInChunk:offsetInChunk+fillLen], zeros[:fillLen])
		f.cache.WriteChunk(index, buf)
		pos = chunkEnd
	}
	return nil
}

// Flush writes back every dirty chunk without closing the host handle.
func (f *OpenCryptoFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache.Flush()
}

func (f *OpenCryptoFile) Sync() error {
	if err := f.Flush(); err != nil {
		return err
	}
	return f.host.Sync()
}

func (f *OpenCryptoFile) closeHost() error {
	if err := f.Sync(); err != nil {
		f.host.Close()
		return err
	}
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.host.Close()
}

package cryptovfs

import (
	"runtime"
	"sync/atomic"
)

// statShards is the shard count for each counter. Go's stdlib has no
// java.util.concurrent.atomic.LongAdder equivalent, and no library in the
// retrieval pack provides a striped counter either, so this is hand-rolled
// on sync/atomic per spec.md's Design Notes §9 ("use per-shard counters
// with a poll that sums and resets each shard atomically").
var statShards = func() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return n
}()

// counter is a striped, poll-and-reset monotonic counter. add is lock-free
// and cheap under contention; poll is linearizable with respect to add: it
// returns the sum of every add ordered-before it, per spec.md §5's counter
// invariant, and never observes an add ordered-after it.
type counter struct {
	shards []atomic.Int64
}

func newCounter() *counter {
	return &counter{shards: make([]atomic.Int64, statShards)}
}

func (c *counter) add(n int64, shard int) {
	c.shards[shard%len(c.shards)].Add(n)
}

func (c *counter) poll() int64 {
	var sum int64
	for i := range c.shards {
		sum += c.shards[i].Swap(0)
	}
	return sum
}

// Stats collects the counters spec.md §4.10/§6 names: bytes moved across
// the crypto boundary and chunk-cache access/miss counts. Field shape is
// grounded on original_source's CryptoFileSystemStats.java (LongAdder
// fields with pollX/addX pairs), sharded per counter rather than one
// LongAdder per field.
type Stats struct {
	bytesRead          *counter
	bytesWritten       *counter
	bytesDecrypted     *counter
	bytesEncrypted     *counter
	chunkCacheAccesses *counter
	chunkCacheMisses   *counter

	shardHint atomic.Uint64
}

func NewStats() *Stats {
	return &Stats{
		bytesRead:          newCounter(),
		bytesWritten:       newCounter(),
		bytesDecrypted:     newCounter(),
		bytesEncrypted:     newCounter(),
		chunkCacheAccesses: newCounter(),
		chunkCacheMisses:   newCounter(),
	}
}

// shard rotates through the shards round-robin, one step per call, so
// concurrent goroutines spread across shards without needing
// goroutine-local state.
func (s *Stats) shard() int {
	return int(s.shardHint.Add(1))
}

func (s *Stats) AddBytesRead(n int64)      { s.bytesRead.add(n, s.shard()) }
func (s *Stats) AddBytesWritten(n int64)   { s.bytesWritten.add(n, s.shard()) }
func (s *Stats) AddBytesDecrypted(n int64) { s.bytesDecrypted.add(n, s.shard()) }
func (s *Stats) AddBytesEncrypted(n int64) { s.bytesEncrypted.add(n, s.shard()) }

func (s *Stats) AddChunkCacheAccess(hit bool) {
	s.chunkCacheAccesses.add(1, s.shard())
	if !hit {
		s.chunkCacheMisses.add(1, s.shard())
	}
}

func (s *Stats) PollBytesRead() int64          { return s.bytesRead.poll() }
func (s *Stats) PollBytesWritten() int64       { return s.bytesWritten.poll() }
func (s *Stats) PollBytesDecrypted() int64     { return s.bytesDecrypted.poll() }
func (s *Stats) PollBytesEncrypted() int64     { return s.bytesEncrypted.poll() }
func (s *Stats) PollChunkCacheAccesses() int64 { return s.chunkCacheAccesses.poll() }
func (s *Stats) PollChunkCacheMisses() int64   { return s.chunkCacheMisses.poll() }

package buffer

import (
	"bytes"
	"os"
	"testing"

	"github.com/jorenk/blocktree/disk"
)

const testBlockSize = 256

func newTestPool(t *testing.T, poolSize int) (*Pool, func()) {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "test_buffer_*.db")
	if err != nil {
		t.Fatal(err)
	}

	dev, err := disk.NewBlockDevice(tmpfile, testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Truncate(8); err != nil {
		t.Fatal(err)
	}

	pool, err := NewPool(dev, poolSize, 1<<16)
	if err != nil {
		t.Fatal(err)
	}

	return pool, func() {
		dev.Close()
		os.Remove(tmpfile.Name())
	}
}

func blockOf(s string) []byte {
	b := make([]byte, testBlockSize)
	copy(b, []byte(s))
	return b
}

func TestPoolReadWriteRoundTrip(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	hello := blockOf("hello")
	if err := pool.WriteBlock(0, hello); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, testBlockSize)
	if err := pool.ReadBlock(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(hello, got) {
		t.Errorf("block 0: expected %v, got %v", hello, got)
	}
}

func TestPoolEvictionWritesThroughToDisk(t *testing.T) {
	// A pool with a single frame forces every distinct block fetch to evict
	// the previous occupant, so this also covers the clock policy's simplest
	// path (one frame, always the victim).
	pool, cleanup := newTestPool(t, 1)
	defer cleanup()

	hello := blockOf("hello")
	if err := pool.WriteBlock(0, hello); err != nil {
		t.Fatal(err)
	}

	world := blockOf("world")
	if err := pool.WriteBlock(1, world); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, testBlockSize)
	if err := pool.ReadBlock(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(hello, got) {
		t.Errorf("block 0 after eviction: expected %v, got %v", hello, got)
	}

	if err := pool.ReadBlock(1, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(world, got) {
		t.Errorf("block 1: expected %v, got %v", world, got)
	}
}

func TestPoolHotCacheServesEvictedBlock(t *testing.T) {
	// With a pool of 2 frames and 3 distinct blocks touched, the third fetch
	// evicts block 1 into the ristretto hot cache; re-reading block 1 (and
	// then blocks 0 and 2, which evicts them in turn) must still return the
	// correct bytes.
	pool, cleanup := newTestPool(t, 2)
	defer cleanup()

	a := blockOf("aaa")
	b := blockOf("bbb")
	c := blockOf("ccc")

	if err := pool.WriteBlock(0, a); err != nil {
		t.Fatal(err)
	}
	if err := pool.WriteBlock(1, b); err != nil {
		t.Fatal(err)
	}
	// Pin block 0 again so block 1 becomes the clock victim for block 2.
	got := make([]byte, testBlockSize)
	if err := pool.ReadBlock(0, got); err != nil {
		t.Fatal(err)
	}
	if err := pool.WriteBlock(2, c); err != nil {
		t.Fatal(err)
	}

	if err := pool.ReadBlock(1, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, got) {
		t.Errorf("block 1 after eviction: expected %v, got %v", b, got)
	}

	if err := pool.ReadBlock(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, got) {
		t.Errorf("block 0: expected %v, got %v", a, got)
	}

	if err := pool.ReadBlock(2, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c, got) {
		t.Errorf("block 2: expected %v, got %v", c, got)
	}
}

func TestPoolNotifyDeallocateDropsHotCache(t *testing.T) {
	pool, cleanup := newTestPool(t, 1)
	defer cleanup()

	a := blockOf("aaa")
	if err := pool.WriteBlock(0, a); err != nil {
		t.Fatal(err)
	}
	// Evict block 0 into the hot cache.
	if err := pool.WriteBlock(1, blockOf("bbb")); err != nil {
		t.Fatal(err)
	}

	pool.NotifyDeallocateBlock(0)

	if _, found := pool.hot.Get(uint64(0)); found {
		t.Errorf("expected hot cache entry for block 0 to be dropped after deallocate notification")
	}
}

func TestPoolFlushClearsDirtyFrames(t *testing.T) {
	pool, cleanup := newTestPool(t, 2)
	defer cleanup()

	if err := pool.WriteBlock(0, blockOf("aaa")); err != nil {
		t.Fatal(err)
	}
	if err := pool.Flush(); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, testBlockSize)
	if err := pool.dev.ReadBlock(disk.BlockID(0), got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blockOf("aaa"), got) {
		t.Errorf("expected flushed block to be visible on the underlying device, got %v", got)
	}
}

func TestPoolGrow(t *testing.T) {
	pool, cleanup := newTestPool(t, 1)
	defer cleanup()

	if err := pool.Grow(16); err != nil {
		t.Fatal(err)
	}
	if pool.GetNumBlocks() != 16 {
		t.Errorf("expected 16 blocks after Grow, got %d", pool.GetNumBlocks())
	}
}

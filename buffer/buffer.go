// Package buffer provides a block-level buffer cache for the index.
// It implements the cache contract the btree package consumes: block-size
// and block-count queries, synchronous block read/write, and allocation
// notification hooks.
package buffer

import (
	"errors"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/jorenk/blocktree/disk"
)

// ErrNoFreeFrame is returned when every pinned frame is in use and none can
// be evicted.
var ErrNoFreeFrame = errors.New("no free frame available in buffer pool")

// block is one in-memory copy of a block's raw bytes.
type block struct {
	id      disk.BlockID
	data    []byte
	isDirty bool
}

func newBlock(size uint64) *block {
	return &block{
		id:   disk.InvalidBlockID,
		data: make([]byte, size),
	}
}

// frame wraps a block with usage tracking for the clock replacement policy.
type frame struct {
	usageCount uint64
	block      *block
	mu         sync.Mutex
}

// clockPool manages a fixed-size set of frames and picks eviction victims
// with a clock (second-chance) algorithm, unchanged in spirit from the
// teacher's BufferPool.Evict, generalized for variable block size.
type clockPool struct {
	frames       []*frame
	nextVictimID int
	mu           sync.Mutex
}

func newClockPool(poolSize int, blockSize uint64) *clockPool {
	frames := make([]*frame, poolSize)
	for i := range frames {
		frames[i] = &frame{block: newBlock(blockSize)}
	}
	return &clockPool{frames: frames}
}

func (cp *clockPool) size() int {
	return len(cp.frames)
}

func (cp *clockPool) evict() (int, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	poolSize := cp.size()
	consecutivePinned := 0

	for {
		victimID := cp.nextVictimID
		f := cp.frames[victimID]
		f.mu.Lock()

		if f.usageCount == 0 {
			f.mu.Unlock()
			return victimID, true
		}

		f.usageCount--
		if f.usageCount == 0 {
			consecutivePinned = 0
		} else {
			consecutivePinned++
			if consecutivePinned >= poolSize {
				f.mu.Unlock()
				return 0, false
			}
		}
		f.mu.Unlock()

		cp.nextVictimID = (victimID + 1) % poolSize
	}
}

// Pool is the concrete cache the btree core consumes through the narrow
// btree.Cache interface (the core never imports this package directly).
// It combines the teacher's clock-replacement pinned frame table with a
// ristretto-backed second-chance cache of recently evicted block bytes, so
// a block that falls out of the small pinned table but is re-fetched
// shortly after is served without a disk round trip.
type Pool struct {
	dev        *disk.BlockDevice
	frames     *clockPool
	blockTable map[disk.BlockID]int // block id -> frame index
	hot        *ristretto.Cache[uint64, []byte]
	mu         sync.RWMutex
}

// NewPool builds a buffer pool of poolSize pinned frames in front of dev,
// backed by a ristretto cache with hotCacheCost bytes of budget for
// recently evicted blocks.
func NewPool(dev *disk.BlockDevice, poolSize int, hotCacheCost int64) (*Pool, error) {
	hot, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: hotCacheCost * 10,
		MaxCost:     hotCacheCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Pool{
		dev:        dev,
		frames:     newClockPool(poolSize, dev.BlockSize()),
		blockTable: map[disk.BlockID]int{},
		hot:        hot,
	}, nil
}

// GetBlockSize implements btree.Cache.
func (p *Pool) GetBlockSize() uint64 {
	return p.dev.BlockSize()
}

// GetNumBlocks implements btree.Cache.
func (p *Pool) GetNumBlocks() uint64 {
	return p.dev.NumBlocks()
}

// Grow extends the backing device to hold numBlocks blocks. Not part of
// btree.Cache (the core never resizes its own backing store), so Attach
// never calls it; a caller sizes the device before attaching.
func (p *Pool) Grow(numBlocks uint64) error {
	return p.dev.Truncate(numBlocks)
}

// ReadBlock implements btree.Cache.
func (p *Pool) ReadBlock(id uint64, buf []byte) error {
	b, err := p.fetch(disk.BlockID(id))
	if err != nil {
		return err
	}
	copy(buf, b.data)
	return nil
}

// WriteBlock implements btree.Cache.
func (p *Pool) WriteBlock(id uint64, buf []byte) error {
	b, err := p.fetch(disk.BlockID(id))
	if err != nil {
		return err
	}
	copy(b.data, buf)
	b.isDirty = true
	p.hot.Del(id)
	return nil
}

// NotifyAllocateBlock implements btree.Cache. A freshly allocated block's
// previous hot-cache entry, if any, describes stale content the moment the
// block's type changes, so it is dropped.
func (p *Pool) NotifyAllocateBlock(id uint64) {
	p.hot.Del(id)
}

// NotifyDeallocateBlock implements btree.Cache. A deallocated block is
// about to be rewritten as Unallocated; any cached copy of its old contents
// is dropped.
func (p *Pool) NotifyDeallocateBlock(id uint64) {
	p.hot.Del(id)
}

// fetch returns the frame holding id, pinning it, reading it in from the
// ristretto hot cache or from disk if it is not already resident in a
// pinned frame.
func (p *Pool) fetch(id disk.BlockID) (*block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if frameID, ok := p.blockTable[id]; ok {
		f := p.frames.frames[frameID]
		f.mu.Lock()
		f.usageCount++
		f.mu.Unlock()
		return f.block, nil
	}

	frameID, ok := p.frames.evict()
	if !ok {
		return nil, ErrNoFreeFrame
	}

	f := p.frames.frames[frameID]
	f.mu.Lock()
	defer f.mu.Unlock()

	evictedID := f.block.id
	if f.block.isDirty {
		if err := p.dev.WriteBlock(evictedID, f.block.data); err != nil {
			return nil, err
		}
	}
	if evictedID.Valid() {
		cached := make([]byte, len(f.block.data))
		copy(cached, f.block.data)
		p.hot.Set(evictedID.ToU64(), cached, int64(len(cached)))
	}

	f.block.id = id
	f.block.isDirty = false
	f.usageCount = 1

	if cached, found := p.hot.Get(id.ToU64()); found {
		copy(f.block.data, cached)
	} else if err := p.dev.ReadBlock(id, f.block.data); err != nil {
		return nil, err
	}

	delete(p.blockTable, evictedID)
	p.blockTable[id] = frameID
	return f.block, nil
}

// Flush writes every dirty pinned frame back to disk and fsyncs the device.
func (p *Pool) Flush() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, frameID := range p.blockTable {
		f := p.frames.frames[frameID]
		f.mu.Lock()
		if f.block.isDirty {
			if err := p.dev.WriteBlock(id, f.block.data); err != nil {
				f.mu.Unlock()
				return err
			}
			f.block.isDirty = false
		}
		f.mu.Unlock()
	}

	return p.dev.Sync()
}

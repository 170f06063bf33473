// Package disk provides block-level I/O for the index's backing file.
// It handles reading and writing fixed-size blocks to/from a single heap file.
package disk

import (
	"encoding/binary"
	"io"
	"os"
)

// BlockID identifies a block within the heap file.
type BlockID uint64

// InvalidBlockID represents an invalid or uninitialized block id.
const InvalidBlockID = BlockID(^uint64(0))

func (b BlockID) Valid() bool {
	return b != InvalidBlockID
}

func (b BlockID) ToU64() uint64 {
	return uint64(b)
}

func (b BlockID) ToBytes() []byte {
	bytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(bytes, uint64(b))
	return bytes
}

func BlockIDFromBytes(bytes []byte) BlockID {
	return BlockID(binary.LittleEndian.Uint64(bytes))
}

// BlockDevice manages block I/O for a single heap file.
// The heap file is organized as a sequence of fixed-size blocks; the block
// size is fixed for the lifetime of the device and is supplied at Open/Create
// time rather than hardcoded, since different index instances may choose
// different block sizes.
type BlockDevice struct {
	heapFile  *os.File
	blockSize uint64
	numBlocks uint64
}

// NewBlockDevice wraps an already-open file as a block device of the given
// block size. If the file is non-empty, numBlocks is derived from its size;
// otherwise the caller is expected to grow it with Truncate.
func NewBlockDevice(heapFile *os.File, blockSize uint64) (*BlockDevice, error) {
	stat, err := heapFile.Stat()
	if err != nil {
		return nil, err
	}
	return &BlockDevice{
		heapFile:  heapFile,
		blockSize: blockSize,
		numBlocks: uint64(stat.Size()) / blockSize,
	}, nil
}

// OpenBlockDevice opens (creating if necessary) a heap file at path as a
// block device of the given block size.
func OpenBlockDevice(path string, blockSize uint64) (*BlockDevice, error) {
	heapFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return NewBlockDevice(heapFile, blockSize)
}

// Truncate grows (or shrinks) the heap file to hold exactly numBlocks blocks.
// Used at Attach(create=true) time to pre-allocate the fixed-size image the
// spec's scenarios assume.
func (bd *BlockDevice) Truncate(numBlocks uint64) error {
	if err := bd.heapFile.Truncate(int64(numBlocks) * int64(bd.blockSize)); err != nil {
		return err
	}
	bd.numBlocks = numBlocks
	return nil
}

func (bd *BlockDevice) BlockSize() uint64 {
	return bd.blockSize
}

func (bd *BlockDevice) NumBlocks() uint64 {
	return bd.numBlocks
}

func (bd *BlockDevice) ReadBlock(id BlockID, data []byte) error {
	offset := int64(bd.blockSize) * int64(id.ToU64())
	if _, err := bd.heapFile.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(bd.heapFile, data)
	return err
}

func (bd *BlockDevice) WriteBlock(id BlockID, data []byte) error {
	offset := int64(bd.blockSize) * int64(id.ToU64())
	if _, err := bd.heapFile.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := bd.heapFile.Write(data)
	return err
}

func (bd *BlockDevice) Sync() error {
	return bd.heapFile.Sync()
}

func (bd *BlockDevice) Close() error {
	return bd.heapFile.Close()
}

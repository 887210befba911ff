package vfat

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/pennos-project/pennos/internal/pennerr"
)

// mounted enforces the single-filesystem rule: at most one image may be
// mounted per process at a time.
var mounted atomic.Bool

// FileSystem is a mounted FAT image: the backing host file plus the FAT
// region mapped shared read-write, so FAT mutations are durable without an
// explicit flush. Data blocks go through plain ReadAt/WriteAt; only the FAT
// table itself needs the always-visible shared mapping.
type FileSystem struct {
	mu sync.Mutex

	file          *os.File
	fat           []byte // mmap'd FAT region, fatSize bytes, 16-bit LE entries
	fatSize       int64
	blockSize     int
	numFATEntries int
}

// Mkfs creates a new FAT image at path. blocksInFAT must be in [1,32] and
// blockSizeConfig in [0,4]; block_size = 256 << blockSizeConfig.
func Mkfs(path string, blocksInFAT, blockSizeConfig int) error {
	if blocksInFAT < 1 || blocksInFAT > 32 {
		return pennerr.New(pennerr.CodeBadArgument, "mkfs", "blocks_in_fat must be in [1,32], got %d", blocksInFAT)
	}
	if blockSizeConfig < 0 || blockSizeConfig > 4 {
		return pennerr.New(pennerr.CodeBadArgument, "mkfs", "block_size_config must be in [0,4], got %d", blockSizeConfig)
	}

	blockSize := 256 << blockSizeConfig
	fatSize := blockSize * blocksInFAT
	numEntries := fatSize / 2
	if numEntries > 0xFFFF {
		numEntries = 0xFFFF
	}
	dataRegionSize := blockSize * (numEntries - 1)
	totalSize := int64(fatSize) + int64(dataRegionSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return pennerr.Wrap(pennerr.CodeWriteError, "mkfs", err)
	}
	defer f.Close()

	if err := f.Truncate(totalSize); err != nil {
		return pennerr.Wrap(pennerr.CodeWriteError, "mkfs", err)
	}

	header := make([]byte, 4)
	metadata := uint16(blocksInFAT<<8) | uint16(blockSizeConfig)
	binary.LittleEndian.PutUint16(header[0:2], metadata)
	binary.LittleEndian.PutUint16(header[2:4], FATEOC) // FAT[1]: root dir is one block, EOC
	if _, err := f.WriteAt(header, 0); err != nil {
		return pennerr.Wrap(pennerr.CodeWriteError, "mkfs", err)
	}
	return nil
}

// Mount opens path, reads the FAT[0] metadata entry, and maps the FAT
// region into memory shared read-write.
func Mount(path string) (*FileSystem, error) {
	if !mounted.CompareAndSwap(false, true) {
		return nil, pennerr.New(pennerr.CodeBadArgument, "mount", "a filesystem is already mounted")
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		mounted.Store(false)
		return nil, pennerr.Wrap(pennerr.CodeNotFound, "mount", err)
	}

	header := make([]byte, 2)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		mounted.Store(false)
		return nil, pennerr.Wrap(pennerr.CodeReadError, "mount", err)
	}
	metadata := binary.LittleEndian.Uint16(header)
	blocksInFAT := int(metadata >> 8)
	blockSizeConfig := int(metadata & 0xFF)
	blockSize := 256 << blockSizeConfig
	fatSize := int64(blockSize * blocksInFAT)
	numEntries := int(fatSize / 2)
	if numEntries > 0xFFFF {
		numEntries = 0xFFFF
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(fatSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		mounted.Store(false)
		return nil, pennerr.Wrap(pennerr.CodeReadError, "mount", err)
	}

	return &FileSystem{
		file:          f,
		fat:           mapped,
		fatSize:       fatSize,
		blockSize:     blockSize,
		numFATEntries: numEntries,
	}, nil
}

// Unmount unmaps the FAT region and closes the backing file.
func (fs *FileSystem) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.fat == nil {
		return nil
	}
	defer mounted.Store(false)
	if err := unix.Munmap(fs.fat); err != nil {
		return pennerr.Wrap(pennerr.CodeWriteError, "umount", err)
	}
	fs.fat = nil
	return fs.file.Close()
}

// BlockSize returns the configured block size in bytes.
func (fs *FileSystem) BlockSize() int { return fs.blockSize }

func (fs *FileSystem) fatGet(index int) uint16 {
	return binary.LittleEndian.Uint16(fs.fat[index*2 : index*2+2])
}

func (fs *FileSystem) fatSet(index int, value uint16) {
	binary.LittleEndian.PutUint16(fs.fat[index*2:index*2+2], value)
}

// blockOffset computes the byte offset of data block index (1-based) within
// the image file.
func (fs *FileSystem) blockOffset(index int) int64 {
	return fs.fatSize + int64(fs.blockSize)*int64(index-1)
}

// allocateBlock scans the FAT linearly for a free entry, returning
// pennerr.CodeNoSpace if none remain. FAT[1] (the root directory's first
// block) is never free, so the scan effectively starts at 2. Caller holds
// fs.mu.
func (fs *FileSystem) allocateBlock() (int, error) {
	for i := 1; i < fs.numFATEntries; i++ {
		if fs.fatGet(i) == FATFree {
			return i, nil
		}
	}
	return 0, pennerr.New(pennerr.CodeNoSpace, "allocate_block", "no free blocks")
}

// readBlock reads the full block at index into buf (len(buf) == blockSize).
func (fs *FileSystem) readBlock(index int, buf []byte) error {
	_, err := fs.file.ReadAt(buf, fs.blockOffset(index))
	if err != nil {
		return pennerr.Wrap(pennerr.CodeReadError, "read_block", err)
	}
	return nil
}

// writeBlock writes buf (len(buf) <= blockSize) at the start of block index;
// any bytes of the block past len(buf) are left as they were.
func (fs *FileSystem) writeBlock(index int, buf []byte) error {
	_, err := fs.file.WriteAt(buf, fs.blockOffset(index))
	if err != nil {
		return pennerr.Wrap(pennerr.CodeWriteError, "write_block", err)
	}
	return nil
}

// zeroBlock overwrites block index with zero bytes and frees its FAT entry.
// Caller holds fs.mu.
func (fs *FileSystem) zeroBlock(index int) error {
	zero := make([]byte, fs.blockSize)
	if err := fs.writeBlock(index, zero); err != nil {
		return err
	}
	fs.fatSet(index, FATFree)
	return nil
}

// chainBlocks returns the ordered list of block indices in the chain
// starting at first, stopping at FATEOC. An empty chain (first == FATEOC)
// returns nil.
func (fs *FileSystem) chainBlocks(first uint16) []int {
	var blocks []int
	cur := first
	for cur != FATEOC {
		blocks = append(blocks, int(cur))
		cur = fs.fatGet(int(cur))
	}
	return blocks
}

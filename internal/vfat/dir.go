package vfat

import (
	"os"

	"github.com/pennos-project/pennos/internal/pennerr"
)

func (fs *FileSystem) entriesPerBlock() int {
	return fs.blockSize / EntrySize
}

// entryLocation pins a directory entry to a byte offset in the image, for
// rewriting it in place (touch's mtime bump, mv's rename, chmod, rm's zero).
type entryLocation struct {
	offset int64
	entry  DirEntry
}

func (fs *FileSystem) readEntryAt(offset int64) (DirEntry, error) {
	buf := make([]byte, EntrySize)
	if _, err := fs.file.ReadAt(buf, offset); err != nil {
		return DirEntry{}, pennerr.Wrap(pennerr.CodeReadError, "read_entry", err)
	}
	return decodeEntry(buf), nil
}

func (fs *FileSystem) writeEntryAt(offset int64, e DirEntry) error {
	if _, err := fs.file.WriteAt(encodeEntry(e), offset); err != nil {
		return pennerr.Wrap(pennerr.CodeWriteError, "write_entry", err)
	}
	return nil
}

// findFileLocked walks the root directory chain for name, returning its
// location or pennerr.CodeNotFound. Caller holds fs.mu.
func (fs *FileSystem) findFileLocked(name string) (entryLocation, error) {
	perBlock := fs.entriesPerBlock()
	for _, block := range fs.chainBlocks(RootBlock) {
		base := fs.blockOffset(block)
		for i := 0; i < perBlock; i++ {
			offset := base + int64(i)*EntrySize
			e, err := fs.readEntryAt(offset)
			if err != nil {
				return entryLocation{}, err
			}
			if e.Name == name {
				return entryLocation{offset: offset, entry: e}, nil
			}
		}
	}
	return entryLocation{}, pennerr.New(pennerr.CodeNotFound, "find_file", "%q not found", name)
}

// FindFile returns the directory entry for name, or CodeNotFound.
func (fs *FileSystem) FindFile(name string) (DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	loc, err := fs.findFileLocked(name)
	if err != nil {
		return DirEntry{}, err
	}
	return loc.entry, nil
}

// TouchSingle creates name with default rw- permissions if absent, or bumps
// its mtime if it already exists.
func (fs *FileSystem) TouchSingle(name string, now int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.touchSingleLocked(name, now)
}

// rmLocked deletes name's block chain and zeroes its directory entry. Caller
// holds fs.mu.
func (fs *FileSystem) rmLocked(name string) error {
	loc, err := fs.findFileLocked(name)
	if err != nil {
		return err
	}
	for _, block := range fs.chainBlocks(loc.entry.FirstBlock) {
		if err := fs.zeroBlock(block); err != nil {
			return err
		}
	}
	return fs.writeEntryAt(loc.offset, DirEntry{})
}

// Rm deletes name. Callers that track open file descriptors (internal/fdtable)
// must reject this ahead of time if name is referenced by any open global FD;
// vfat itself has no notion of open descriptors.
func (fs *FileSystem) Rm(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.rmLocked(name)
}

// Mv renames src to dst, overwriting dst if it already exists. The entry
// stays at src's directory slot; only its name and mtime change.
func (fs *FileSystem) Mv(src, dst string, now int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	loc, err := fs.findFileLocked(src)
	if err != nil {
		return err
	}
	if _, err := fs.findFileLocked(dst); err == nil {
		if err := fs.rmLocked(dst); err != nil {
			return err
		}
	}
	loc.entry.Name = dst
	loc.entry.MTime = now
	return fs.writeEntryAt(loc.offset, loc.entry)
}

// freshEntryLocked ensures dst exists and is empty (size 0, no blocks),
// removing and recreating it if it was already present. Caller holds fs.mu.
func (fs *FileSystem) freshEntryLocked(dst string, now int64) (entryLocation, error) {
	if _, err := fs.findFileLocked(dst); err == nil {
		if err := fs.rmLocked(dst); err != nil {
			return entryLocation{}, err
		}
	}
	if err := fs.touchSingleLocked(dst, now); err != nil {
		return entryLocation{}, err
	}
	return fs.findFileLocked(dst)
}

// touchSingleLocked is TouchSingle's body, callable while fs.mu is already held.
func (fs *FileSystem) touchSingleLocked(name string, now int64) error {
	if loc, err := fs.findFileLocked(name); err == nil {
		loc.entry.MTime = now
		return fs.writeEntryAt(loc.offset, loc.entry)
	}
	perBlock := fs.entriesPerBlock()
	chain := fs.chainBlocks(RootBlock)
	for _, block := range chain {
		base := fs.blockOffset(block)
		for i := 0; i < perBlock; i++ {
			offset := base + int64(i)*EntrySize
			e, err := fs.readEntryAt(offset)
			if err != nil {
				return err
			}
			if e.IsEmpty() {
				newEntry := DirEntry{Name: name, Size: 0, FirstBlock: FATEOC, Type: TypeRegular, Perm: PermRead | PermWrite, MTime: now}
				return fs.writeEntryAt(offset, newEntry)
			}
		}
	}
	lastBlock := chain[len(chain)-1]
	newBlock, err := fs.allocateBlock()
	if err != nil {
		return err
	}
	fs.fatSet(lastBlock, uint16(newBlock))
	fs.fatSet(newBlock, FATEOC)
	newEntry := DirEntry{Name: name, Size: 0, FirstBlock: FATEOC, Type: TypeRegular, Perm: PermRead | PermWrite, MTime: now}
	return fs.writeEntryAt(fs.blockOffset(newBlock), newEntry)
}

// CpFSToFS copies src to dst, both within the mounted image: dst is recreated empty, then src's chain is streamed into
// freshly-allocated dst blocks.
func (fs *FileSystem) CpFSToFS(src, dst string, now int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	srcLoc, err := fs.findFileLocked(src)
	if err != nil {
		return err
	}
	dstLoc, err := fs.freshEntryLocked(dst, now)
	if err != nil {
		return err
	}

	buf := make([]byte, fs.blockSize)
	var firstDstBlock uint16 = FATEOC
	var prevDstBlock = -1
	var total uint32

	remaining := srcLoc.entry.Size
	for _, srcBlock := range fs.chainBlocks(srcLoc.entry.FirstBlock) {
		n := fs.blockSize
		if uint32(n) > remaining {
			n = int(remaining)
		}
		if err := fs.readBlock(srcBlock, buf); err != nil {
			return err
		}
		dstBlock, err := fs.allocateBlock()
		if err != nil {
			return err
		}
		if prevDstBlock == -1 {
			firstDstBlock = uint16(dstBlock)
		} else {
			fs.fatSet(prevDstBlock, uint16(dstBlock))
		}
		fs.fatSet(dstBlock, FATEOC)
		if err := fs.writeBlock(dstBlock, buf[:n]); err != nil {
			return err
		}
		prevDstBlock = dstBlock
		total += uint32(n)
		remaining -= uint32(n)
		if remaining == 0 {
			break
		}
	}

	dstLoc.entry.FirstBlock = firstDstBlock
	dstLoc.entry.Size = total
	dstLoc.entry.MTime = now
	return fs.writeEntryAt(dstLoc.offset, dstLoc.entry)
}

// CpFromHost copies a host file into dst inside the mounted image.
func (fs *FileSystem) CpFromHost(hostPath, dst string, now int64) error {
	src, err := os.Open(hostPath)
	if err != nil {
		return pennerr.Wrap(pennerr.CodeNotFound, "cp", err)
	}
	defer src.Close()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	dstLoc, err := fs.freshEntryLocked(dst, now)
	if err != nil {
		return err
	}

	buf := make([]byte, fs.blockSize)
	var firstBlock uint16 = FATEOC
	prevBlock := -1
	var total uint32
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			block, err := fs.allocateBlock()
			if err != nil {
				return err
			}
			if prevBlock == -1 {
				firstBlock = uint16(block)
			} else {
				fs.fatSet(prevBlock, uint16(block))
			}
			fs.fatSet(block, FATEOC)
			if err := fs.writeBlock(block, buf[:n]); err != nil {
				return err
			}
			prevBlock = block
			total += uint32(n)
		}
		if readErr != nil {
			break
		}
	}

	dstLoc.entry.FirstBlock = firstBlock
	dstLoc.entry.Size = total
	dstLoc.entry.MTime = now
	return fs.writeEntryAt(dstLoc.offset, dstLoc.entry)
}

// CpToHost copies src inside the mounted image out to a host file.
func (fs *FileSystem) CpToHost(src, hostPath string) error {
	fs.mu.Lock()
	loc, err := fs.findFileLocked(src)
	if err != nil {
		fs.mu.Unlock()
		return err
	}

	dst, err := os.OpenFile(hostPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		fs.mu.Unlock()
		return pennerr.Wrap(pennerr.CodeWriteError, "cp", err)
	}
	defer dst.Close()
	defer fs.mu.Unlock()

	buf := make([]byte, fs.blockSize)
	remaining := loc.entry.Size
	for _, block := range fs.chainBlocks(loc.entry.FirstBlock) {
		n := fs.blockSize
		if uint32(n) > remaining {
			n = int(remaining)
		}
		if err := fs.readBlock(block, buf); err != nil {
			return err
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return pennerr.Wrap(pennerr.CodeWriteError, "cp", err)
		}
		remaining -= uint32(n)
		if remaining == 0 {
			break
		}
	}
	return nil
}

// Chmod parses a "(+|-|=)[rwx]+" mode string and applies it to name's
// permission bits, rejecting the disallowed results 1 (execute-only) and 3
// (write+execute).
func (fs *FileSystem) Chmod(name, mode string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	loc, err := fs.findFileLocked(name)
	if err != nil {
		return err
	}
	if len(mode) < 2 {
		return pennerr.New(pennerr.CodeBadArgument, "chmod", "mode %q too short", mode)
	}

	newPerm := loc.entry.Perm
	if mode[0] == '=' {
		newPerm = 0
	}
	for i := 1; i < len(mode); i++ {
		var bit uint8
		switch mode[i] {
		case 'r':
			bit = PermRead
		case 'w':
			bit = PermWrite
		case 'x':
			bit = PermExecute
		default:
			return pennerr.New(pennerr.CodeBadArgument, "chmod", "invalid mode letter %q", mode[i])
		}
		switch mode[0] {
		case '+':
			newPerm |= bit
		case '-':
			newPerm &^= bit
		case '=':
			newPerm |= bit
		default:
			return pennerr.New(pennerr.CodeBadArgument, "chmod", "invalid operator %q", mode[0])
		}
	}
	if newPerm == 1 || newPerm == 3 {
		return pennerr.New(pennerr.CodePermissionDenied, "chmod", "resulting permission %d is execute-only or write+execute", newPerm)
	}

	loc.entry.Perm = newPerm
	return fs.writeEntryAt(loc.offset, loc.entry)
}

// Ls returns every non-empty root directory entry in on-disk order.
func (fs *FileSystem) Ls() ([]DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []DirEntry
	perBlock := fs.entriesPerBlock()
	for _, block := range fs.chainBlocks(RootBlock) {
		base := fs.blockOffset(block)
		for i := 0; i < perBlock; i++ {
			e, err := fs.readEntryAt(base + int64(i)*EntrySize)
			if err != nil {
				return nil, err
			}
			if !e.IsEmpty() {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

package vfat

// EntryRef pins a directory entry to its on-disk offset, letting
// internal/fdtable persist size/first-block/mtime updates as a file grows
// under an open descriptor without re-walking the root directory chain on
// every write.
type EntryRef struct {
	Offset int64
	Entry  DirEntry
}

// Locate resolves name to its directory entry and on-disk offset.
func (fs *FileSystem) Locate(name string) (EntryRef, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	loc, err := fs.findFileLocked(name)
	if err != nil {
		return EntryRef{}, err
	}
	return EntryRef{Offset: loc.offset, Entry: loc.entry}, nil
}

// UpdateEntry persists ref.Entry back at ref.Offset, e.g. after a write
// extends a file's size or first block.
func (fs *FileSystem) UpdateEntry(ref EntryRef) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeEntryAt(ref.Offset, ref.Entry)
}

// AllocateBlock returns the index of a free data block. It does not mark the
// block's FAT entry; until the caller links it or marks it as a chain end, a
// second call returns the same index.
func (fs *FileSystem) AllocateBlock() (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.allocateBlock()
}

// ReadBlock reads the full block at index into buf (len(buf) == BlockSize()).
func (fs *FileSystem) ReadBlock(index int, buf []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.readBlock(index, buf)
}

// WriteBlock writes buf (len(buf) <= BlockSize()) to the block at index,
// zero-padding the rest of the block region on disk is not performed -
// callers writing a partial final block are expected to only care about the
// bytes within the file's recorded size.
func (fs *FileSystem) WriteBlock(index int, buf []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeBlock(index, buf)
}

// FATNext returns the next block in the chain after index, or FATEOC.
func (fs *FileSystem) FATNext(index int) uint16 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.fatGet(index)
}

// LinkBlock sets FAT[prev] = next, chaining two data blocks together.
func (fs *FileSystem) LinkBlock(prev, next int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.fatSet(prev, uint16(next))
}

// MarkChainEnd sets FAT[index] = FATEOC.
func (fs *FileSystem) MarkChainEnd(index int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.fatSet(index, FATEOC)
}

// Package fdtable implements the two-level file-descriptor indirection: a
// fixed 128-slot global open-file table layered over internal/vfat's
// block-chain primitives, and the per-process descriptor slots
// (internal/pcb.PCB.OpenFDs) that index into it. open/close/read/
// write/lseek/unlink all live here; internal/vfat never sees a descriptor.
package fdtable

import (
	"io"

	"github.com/pennos-project/pennos/internal/pcb"
	"github.com/pennos-project/pennos/internal/pennerr"
	"github.com/pennos-project/pennos/internal/vfat"
)

// Mode is how a descriptor was opened. The numeric values are part of the
// process-control surface: spawned processes and the shell collaborator pass
// them through argv.
type Mode int

const (
	ModeWrite  Mode = 1
	ModeRead   Mode = 2
	ModeAppend Mode = 3
)

// Kind is what a global slot currently represents.
type Kind int

const (
	KindFree Kind = iota
	KindStdin
	KindStdout
	KindFile
)

// MaxOpenFiles is the fixed size of the global table.
const MaxOpenFiles = pcb.MaxOpenFiles

// globalEntry is one slot of the global open-file table.
type globalEntry struct {
	kind     Kind
	name     string
	mode     Mode
	offset   uint32
	refCount int
	ref      vfat.EntryRef // directory entry + its on-disk offset, FILE only
}

// Table is the filesystem-wide open-file table. Slot 0 is pinned STDIN,
// slot 1 is pinned STDOUT; each entry is created by open and destroyed when
// its ref_count reaches 0.
type Table struct {
	fs     *vfat.FileSystem
	now    func() int64
	stdin  io.Reader
	stdout io.Writer

	slots [MaxOpenFiles]globalEntry
}

// New builds a Table bound to fs. now supplies wall-clock seconds for mtime
// stamps (a test double in unit tests, time.Now().Unix in production).
func New(fs *vfat.FileSystem, now func() int64, stdin io.Reader, stdout io.Writer) *Table {
	t := &Table{fs: fs, now: now, stdin: stdin, stdout: stdout}
	t.slots[0] = globalEntry{kind: KindStdin, refCount: 1}
	t.slots[1] = globalEntry{kind: KindStdout, refCount: 1}
	return t
}

// NewProcessFDs returns a fresh per-process descriptor table with slots 0
// and 1 bound to the global stdin/stdout slots, as every process inherits
// them at spawn time.
func NewProcessFDs() [pcb.MaxOpenFiles]int {
	var fds [pcb.MaxOpenFiles]int
	fds[0], fds[1] = 0, 1
	for i := 2; i < pcb.MaxOpenFiles; i++ {
		fds[i] = pcb.FreeFD
	}
	return fds
}

func (t *Table) findGlobalByName(name string) int {
	for i, s := range t.slots {
		if s.kind == KindFile && s.name == name {
			return i
		}
	}
	return -1
}

func (t *Table) findFreeGlobal() int {
	for i, s := range t.slots {
		if s.kind == KindFree {
			return i
		}
	}
	return -1
}

func findFreeProcessSlot(p *pcb.PCB) int {
	for i, v := range p.OpenFDs {
		if v == pcb.FreeFD {
			return i
		}
	}
	return -1
}

// Open resolves name for p under mode, returning the per-process descriptor
// index.
func (t *Table) Open(p *pcb.PCB, name string, mode Mode) (int, error) {
	ref, findErr := t.fs.Locate(name)

	switch mode {
	case ModeRead:
		if findErr != nil {
			return -1, pennerr.New(pennerr.CodeNotFound, "open", "%q not found", name)
		}
		if ref.Entry.Perm&vfat.PermRead == 0 {
			return -1, pennerr.New(pennerr.CodePermissionDenied, "open", "%q is not readable", name)
		}
		if idx := t.findGlobalByName(name); idx >= 0 {
			t.slots[idx].refCount++
			return t.installInProcess(p, idx)
		}
		gidx := t.findFreeGlobal()
		if gidx < 0 {
			return -1, pennerr.New(pennerr.CodeInvalidFD, "open", "global descriptor table full")
		}
		t.slots[gidx] = globalEntry{kind: KindFile, name: name, mode: ModeRead, offset: 0, refCount: 1, ref: ref}
		return t.installInProcess(p, gidx)

	case ModeWrite:
		if idx := t.findGlobalByName(name); idx >= 0 {
			if t.slots[idx].ref.Entry.Perm&vfat.PermWrite == 0 || t.slots[idx].mode == ModeWrite {
				return -1, pennerr.New(pennerr.CodeOpenForWriteConflict, "open", "%q already open for write or not writable", name)
			}
			if err := t.truncate(name); err != nil {
				return -1, err
			}
			newRef, err := t.fs.Locate(name)
			if err != nil {
				return -1, err
			}
			t.slots[idx].ref = newRef
			t.slots[idx].mode = ModeWrite
			t.slots[idx].offset = 0
			t.slots[idx].refCount++
			return t.installInProcess(p, idx)
		}
		if findErr != nil {
			if err := t.fs.TouchSingle(name, t.now()); err != nil {
				return -1, err
			}
		} else {
			if ref.Entry.Perm&vfat.PermWrite == 0 {
				return -1, pennerr.New(pennerr.CodePermissionDenied, "open", "%q is not writable", name)
			}
			if err := t.truncate(name); err != nil {
				return -1, err
			}
		}
		newRef, err := t.fs.Locate(name)
		if err != nil {
			return -1, err
		}
		gidx := t.findFreeGlobal()
		if gidx < 0 {
			return -1, pennerr.New(pennerr.CodeInvalidFD, "open", "global descriptor table full")
		}
		t.slots[gidx] = globalEntry{kind: KindFile, name: name, mode: ModeWrite, offset: 0, refCount: 1, ref: newRef}
		return t.installInProcess(p, gidx)

	case ModeAppend:
		if idx := t.findGlobalByName(name); idx >= 0 {
			if t.slots[idx].ref.Entry.Perm&vfat.PermWrite == 0 {
				return -1, pennerr.New(pennerr.CodePermissionDenied, "open", "%q is not writable", name)
			}
			t.slots[idx].mode = ModeAppend
			t.slots[idx].offset = t.slots[idx].ref.Entry.Size
			t.slots[idx].refCount++
			return t.installInProcess(p, idx)
		}
		if findErr != nil {
			if err := t.fs.TouchSingle(name, t.now()); err != nil {
				return -1, err
			}
			newRef, err := t.fs.Locate(name)
			if err != nil {
				return -1, err
			}
			ref = newRef
		} else if ref.Entry.Perm&vfat.PermWrite == 0 {
			return -1, pennerr.New(pennerr.CodePermissionDenied, "open", "%q is not writable", name)
		}
		gidx := t.findFreeGlobal()
		if gidx < 0 {
			return -1, pennerr.New(pennerr.CodeInvalidFD, "open", "global descriptor table full")
		}
		t.slots[gidx] = globalEntry{kind: KindFile, name: name, mode: ModeAppend, offset: ref.Entry.Size, refCount: 1, ref: ref}
		return t.installInProcess(p, gidx)
	}
	return -1, pennerr.New(pennerr.CodeBadArgument, "open", "invalid mode %d", mode)
}

func (t *Table) truncate(name string) error {
	if err := t.fs.Rm(name); err != nil {
		return err
	}
	return t.fs.TouchSingle(name, t.now())
}

func (t *Table) installInProcess(p *pcb.PCB, globalIndex int) (int, error) {
	slot := findFreeProcessSlot(p)
	if slot < 0 {
		return -1, pennerr.New(pennerr.CodeInvalidFD, "open", "process descriptor table full")
	}
	p.OpenFDs[slot] = globalIndex
	return slot, nil
}

// Close decrements the global slot's ref count, freeing it at zero, and
// clears p's per-process slot.
func (t *Table) Close(p *pcb.PCB, fd int) error {
	gidx, err := t.resolve(p, fd)
	if err != nil {
		return err
	}
	p.OpenFDs[fd] = pcb.FreeFD
	if t.slots[gidx].kind != KindFile {
		return nil
	}
	t.slots[gidx].refCount--
	if t.slots[gidx].refCount <= 0 {
		t.slots[gidx] = globalEntry{}
	}
	return nil
}

// CloseAll closes every non-stdio descriptor held by p, the exit()-time
// teardown a process must go through before it can be reaped.
func (t *Table) CloseAll(p *pcb.PCB) {
	for fd, gidx := range p.OpenFDs {
		if gidx == pcb.FreeFD || gidx == 0 || gidx == 1 {
			continue
		}
		_ = t.Close(p, fd)
	}
}

func (t *Table) resolve(p *pcb.PCB, fd int) (int, error) {
	if fd < 0 || fd >= pcb.MaxOpenFiles || p.OpenFDs[fd] == pcb.FreeFD {
		return -1, pennerr.New(pennerr.CodeInvalidFD, "fd", "invalid descriptor %d", fd)
	}
	return p.OpenFDs[fd], nil
}

// Read reads up to n bytes from fd into buf (len(buf) >= n), returning the
// count actually read. STDIN reads from the table's configured reader;
// FILE descriptors walk the block chain from the current offset.
func (t *Table) Read(p *pcb.PCB, fd int, n int, buf []byte) (int, error) {
	gidx, err := t.resolve(p, fd)
	if err != nil {
		return 0, err
	}
	g := &t.slots[gidx]
	switch g.kind {
	case KindStdin:
		return t.stdin.Read(buf[:n])
	case KindFile:
		return t.readFile(g, n, buf)
	default:
		return 0, pennerr.New(pennerr.CodeInvalidFD, "read", "descriptor %d is not readable", fd)
	}
}

func (t *Table) readFile(g *globalEntry, n int, buf []byte) (int, error) {
	size := g.ref.Entry.Size
	if g.offset >= size {
		return 0, nil
	}
	remaining := int(size - g.offset)
	if n > remaining {
		n = remaining
	}
	blockSize := t.fs.BlockSize()
	blocks := t.chainFrom(g.ref.Entry.FirstBlock)

	read := 0
	skip := int(g.offset)
	blockBuf := make([]byte, blockSize)
	for _, block := range blocks {
		if read >= n {
			break
		}
		if skip >= blockSize {
			skip -= blockSize
			continue
		}
		if err := t.fs.ReadBlock(block, blockBuf); err != nil {
			return read, err
		}
		start := skip
		skip = 0
		avail := blockSize - start
		want := n - read
		if want > avail {
			want = avail
		}
		copy(buf[read:read+want], blockBuf[start:start+want])
		read += want
	}
	g.offset += uint32(read)
	return read, nil
}

func (t *Table) chainFrom(first uint16) []int {
	var blocks []int
	cur := first
	for cur != vfat.FATEOC {
		blocks = append(blocks, int(cur))
		cur = t.fs.FATNext(int(cur))
	}
	return blocks
}

// Write writes n bytes from buf to fd, extending the file and its block
// chain as needed, and advances the descriptor's offset.
func (t *Table) Write(p *pcb.PCB, fd int, buf []byte, n int) (int, error) {
	gidx, err := t.resolve(p, fd)
	if err != nil {
		return 0, err
	}
	g := &t.slots[gidx]
	switch g.kind {
	case KindStdout:
		return t.stdout.Write(buf[:n])
	case KindFile:
		if g.mode != ModeWrite && g.mode != ModeAppend {
			return 0, pennerr.New(pennerr.CodeInvalidFD, "write", "descriptor %d not opened for writing", fd)
		}
		return t.writeFile(g, buf, n)
	default:
		return 0, pennerr.New(pennerr.CodeInvalidFD, "write", "descriptor %d is not writable", fd)
	}
}

func (t *Table) writeFile(g *globalEntry, buf []byte, n int) (int, error) {
	blockSize := t.fs.BlockSize()

	if g.ref.Entry.FirstBlock == vfat.FATEOC {
		block, err := t.fs.AllocateBlock()
		if err != nil {
			return 0, err
		}
		t.fs.MarkChainEnd(block)
		g.ref.Entry.FirstBlock = uint16(block)
	}

	blocks := t.chainFrom(g.ref.Entry.FirstBlock)
	written := 0
	pos := int(g.offset)
	blockBuf := make([]byte, blockSize)

	for written < n {
		blockIdx := pos / blockSize
		inBlockOffset := pos % blockSize

		for len(blocks) <= blockIdx {
			last := blocks[len(blocks)-1]
			next, err := t.fs.AllocateBlock()
			if err != nil {
				return written, err
			}
			t.fs.LinkBlock(last, next)
			t.fs.MarkChainEnd(next)
			blocks = append(blocks, next)
		}
		block := blocks[blockIdx]

		if err := t.fs.ReadBlock(block, blockBuf); err != nil {
			return written, err
		}
		room := blockSize - inBlockOffset
		chunk := n - written
		if chunk > room {
			chunk = room
		}
		copy(blockBuf[inBlockOffset:inBlockOffset+chunk], buf[written:written+chunk])
		if err := t.fs.WriteBlock(block, blockBuf); err != nil {
			return written, err
		}

		written += chunk
		pos += chunk
	}

	g.offset = uint32(pos)
	if uint32(pos) > g.ref.Entry.Size {
		g.ref.Entry.Size = uint32(pos)
	}
	g.ref.Entry.MTime = t.now()
	if err := t.fs.UpdateEntry(g.ref); err != nil {
		return written, err
	}
	return written, nil
}

// Whence matches os.File's SEEK_SET/SEEK_CUR/SEEK_END.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// Lseek repositions fd's offset; it does not validate against the file's
// current size, since writes are expected to extend it.
func (t *Table) Lseek(p *pcb.PCB, fd int, offset int64, whence Whence) (int64, error) {
	gidx, err := t.resolve(p, fd)
	if err != nil {
		return 0, err
	}
	g := &t.slots[gidx]
	if g.kind != KindFile {
		return 0, pennerr.New(pennerr.CodeInvalidFD, "lseek", "descriptor %d is not seekable", fd)
	}
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = int64(g.offset)
	case SeekEnd:
		base = int64(g.ref.Entry.Size)
	default:
		return 0, pennerr.New(pennerr.CodeBadArgument, "lseek", "invalid whence %d", whence)
	}
	newOffset := base + offset
	if newOffset < 0 {
		return 0, pennerr.New(pennerr.CodeBadArgument, "lseek", "negative offset")
	}
	g.offset = uint32(newOffset)
	return newOffset, nil
}

// Share increments the ref count of an already-open FILE slot so a second
// per-process descriptor (e.g. a spawned child's inherited stdin/stdout, see
// internal/procapi.Spawn) can point at it without prematurely freeing the
// slot when either holder closes it. Stdio slots are pinned and ignored.
func (t *Table) Share(globalIndex int) {
	if globalIndex < 0 || globalIndex >= MaxOpenFiles {
		return
	}
	if t.slots[globalIndex].kind == KindFile {
		t.slots[globalIndex].refCount++
	}
}

// IsOpen reports whether any global slot currently holds name, the check
// rm/unlink must make before deleting a file.
func (t *Table) IsOpen(name string) bool {
	return t.findGlobalByName(name) >= 0
}

// Unlink removes name, failing with CodeFileIsOpen if any descriptor still
// references it.
func (t *Table) Unlink(name string) error {
	if t.IsOpen(name) {
		return pennerr.New(pennerr.CodeFileIsOpen, "unlink", "%q is open", name)
	}
	return t.fs.Rm(name)
}

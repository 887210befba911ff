// Package vfat implements a FAT-style on-disk file system: a block-addressed
// image with a 16-bit FAT table mapped into memory, a single-level root
// directory stored as a chain of directory-entry blocks, and the legacy
// whole-file operations (mkfs, mount, touch, rm, mv, cp, chmod, ls).
// internal/fdtable layers per-process/global file descriptors on top of the
// block-chain primitives exposed here.
package vfat

import (
	"encoding/binary"
	"time"
)

// DirEntry is the 64-byte packed directory entry: name[32], size,
// first_block, type, perm, mtime, 16 reserved bytes.
type DirEntry struct {
	Name       string
	Size       uint32
	FirstBlock uint16
	Type       uint8
	Perm       uint8
	MTime      int64
}

// EntrySize is the on-disk size of a DirEntry: 32 + 4 + 2 + 1 + 1 + 8 + 16.
const EntrySize = 64

const (
	nameLen     = 32
	reservedLen = 16
)

// Permission bits: bit 2 = read, bit 1 = write, bit 0 = execute.
const (
	PermRead    uint8 = 4
	PermWrite   uint8 = 2
	PermExecute uint8 = 1
)

// FileType values. Only regular files exist; the root directory itself is
// not represented by a DirEntry (it's reached via FAT[1]).
const (
	TypeRegular uint8 = 1
)

// FAT entry sentinels.
const (
	FATFree = 0x0000
	FATEOC  = 0xFFFF
)

// RootBlock is the fixed first block of the root directory chain (FAT[1]).
const RootBlock = 1

// IsEmpty reports whether this is a free directory slot (name == "").
func (e DirEntry) IsEmpty() bool {
	return e.Name == ""
}

// PermString renders the rwx permission string ls() prints.
func (e DirEntry) PermString() string {
	out := []byte("---")
	if e.Perm&PermRead != 0 {
		out[0] = 'r'
	}
	if e.Perm&PermWrite != 0 {
		out[1] = 'w'
	}
	if e.Perm&PermExecute != 0 {
		out[2] = 'x'
	}
	return string(out)
}

// ModTime converts the stored wall-clock seconds back into a time.Time.
func (e DirEntry) ModTime() time.Time {
	return time.Unix(e.MTime, 0).UTC()
}

func encodeEntry(e DirEntry) []byte {
	buf := make([]byte, EntrySize)
	nameBytes := []byte(e.Name)
	if len(nameBytes) > nameLen-1 {
		nameBytes = nameBytes[:nameLen-1]
	}
	copy(buf[0:nameLen], nameBytes)
	binary.LittleEndian.PutUint32(buf[32:36], e.Size)
	binary.LittleEndian.PutUint16(buf[36:38], e.FirstBlock)
	buf[38] = e.Type
	buf[39] = e.Perm
	binary.LittleEndian.PutUint64(buf[40:48], uint64(e.MTime))
	// buf[48:64] reserved, left zero.
	return buf
}

func decodeEntry(buf []byte) DirEntry {
	nameEnd := 0
	for nameEnd < nameLen && buf[nameEnd] != 0 {
		nameEnd++
	}
	return DirEntry{
		Name:       string(buf[0:nameEnd]),
		Size:       binary.LittleEndian.Uint32(buf[32:36]),
		FirstBlock: binary.LittleEndian.Uint16(buf[36:38]),
		Type:       buf[38],
		Perm:       buf[39],
		MTime:      int64(binary.LittleEndian.Uint64(buf[40:48])),
	}
}

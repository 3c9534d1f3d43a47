// Package romfs walks the RomFS hierarchical filesystem: a directory
// table and a file table, each indexed by byte offset with sibling
// and child links forming the tree (spec 3 "RomFS", spec 4.7.2).
package romfs

import (
	"encoding/binary"
	"path"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"

	"github.com/falk/hactool-go/pkg/herr"
)

// Sentinel marks an absent sibling/child/file link.
const Sentinel = 0xFFFFFFFF

// Reader is the minimal random-access source a section exposes.
type Reader interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Header is the RomFS superblock (spec 3): four hash/meta table
// regions plus the offset where file data begins, all relative to the
// RomFS's own logical start.
type Header struct {
	Size                  int64
	DirHashTableOffset    int64
	DirHashTableSize      int64
	DirMetaTableOffset    int64
	DirMetaTableSize      int64
	FileHashTableOffset   int64
	FileHashTableSize     int64
	FileMetaTableOffset   int64
	FileMetaTableSize     int64
	DataOffset            int64
}

// ParseHeader reads the 0x50-byte RomFS header at romfsOffset.
func ParseHeader(r Reader, romfsOffset int64) (Header, error) {
	buf := make([]byte, 0x50)
	if _, err := r.ReadAt(buf, romfsOffset); err != nil {
		return Header{}, herr.New(herr.KindIO, "romfs.ParseHeader", err)
	}
	u64 := func(off int) int64 { return int64(binary.LittleEndian.Uint64(buf[off : off+8])) }
	return Header{
		Size:                u64(0x00),
		DirHashTableOffset:  u64(0x08),
		DirHashTableSize:    u64(0x10),
		DirMetaTableOffset:  u64(0x18),
		DirMetaTableSize:    u64(0x20),
		FileHashTableOffset: u64(0x28),
		FileHashTableSize:   u64(0x30),
		FileMetaTableOffset: u64(0x38),
		FileMetaTableSize:   u64(0x40),
		DataOffset:          u64(0x48),
	}, nil
}

// DirEntry is one node of the directory meta table.
type DirEntry struct {
	Parent, Sibling, Child, File uint32
	Name                         string
}

// FileEntry is one node of the file meta table.
type FileEntry struct {
	Parent, Sibling uint32
	Offset, Size    int64
	Name            string
}

// Table holds the fully-loaded directory and file meta tables plus
// the RomFS-relative base for file data (spec 4.7.2: loaded entirely
// into memory, then walked by offset).
type Table struct {
	Header       Header
	RomfsOffset  int64 // section-relative offset of the RomFS's own start
	DirMeta      []byte
	FileMeta     []byte
}

// Load reads the directory-meta and file-meta tables in full. The
// directory table is read starting 4 bytes past its nominal offset —
// an on-disk skew present in every RomFS superblock (spec 3).
func Load(r Reader, romfsOffset int64, h Header) (*Table, error) {
	dirMeta := make([]byte, h.DirMetaTableSize)
	if _, err := r.ReadAt(dirMeta, romfsOffset+h.DirMetaTableOffset+4); err != nil {
		return nil, herr.New(herr.KindIO, "romfs.Load", err)
	}
	fileMeta := make([]byte, h.FileMetaTableSize)
	if _, err := r.ReadAt(fileMeta, romfsOffset+h.FileMetaTableOffset); err != nil {
		return nil, herr.New(herr.KindIO, "romfs.Load", err)
	}
	return &Table{Header: h, RomfsOffset: romfsOffset, DirMeta: dirMeta, FileMeta: fileMeta}, nil
}

func (t *Table) dirEntryAt(off uint32) (DirEntry, error) {
	buf := t.DirMeta
	if int(off)+24 > len(buf) {
		return DirEntry{}, herr.New(herr.KindLayoutInvalid, "romfs.dirEntryAt", errOffsetRange(off, len(buf)))
	}
	e := DirEntry{
		Parent:  binary.LittleEndian.Uint32(buf[off : off+4]),
		Sibling: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		Child:   binary.LittleEndian.Uint32(buf[off+8 : off+12]),
		File:    binary.LittleEndian.Uint32(buf[off+12 : off+16]),
	}
	nameSize := binary.LittleEndian.Uint32(buf[off+20 : off+24])
	nameStart := off + 24
	if int(nameStart)+int(nameSize) > len(buf) {
		return DirEntry{}, herr.New(herr.KindLayoutInvalid, "romfs.dirEntryAt", errOffsetRange(off, len(buf)))
	}
	e.Name = decodeName(buf[nameStart : nameStart+nameSize])
	return e, nil
}

func (t *Table) fileEntryAt(off uint32) (FileEntry, error) {
	buf := t.FileMeta
	if int(off)+32 > len(buf) {
		return FileEntry{}, herr.New(herr.KindLayoutInvalid, "romfs.fileEntryAt", errOffsetRange(off, len(buf)))
	}
	e := FileEntry{
		Parent:  binary.LittleEndian.Uint32(buf[off : off+4]),
		Sibling: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		Offset:  int64(binary.LittleEndian.Uint64(buf[off+8 : off+16])),
		Size:    int64(binary.LittleEndian.Uint64(buf[off+16 : off+24])),
	}
	nameSize := binary.LittleEndian.Uint32(buf[off+28 : off+32])
	nameStart := off + 32
	if int(nameStart)+int(nameSize) > len(buf) {
		return FileEntry{}, herr.New(herr.KindLayoutInvalid, "romfs.fileEntryAt", errOffsetRange(off, len(buf)))
	}
	e.Name = decodeName(buf[nameStart : nameStart+nameSize])
	return e, nil
}

// decodeName returns the entry name as text. RomFS name bytes are not
// guaranteed to be valid UTF-8 (spec 3); most are, but some tools write
// Shift-JIS into the raw name table, so invalid UTF-8 is re-decoded as
// Shift-JIS before falling back to the raw bytes unmodified.
func decodeName(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	if s, err := japanese.ShiftJIS.NewDecoder().String(string(raw)); err == nil {
		return s
	}
	return string(raw)
}

func errOffsetRange(off uint32, bufLen int) error {
	return &offsetRangeError{off, bufLen}
}

type offsetRangeError struct {
	off    uint32
	bufLen int
}

func (e *offsetRangeError) Error() string {
	return "romfs: entry offset out of range"
}

// Visitor receives each node during a Walk. Dir is called once per
// directory with its root-relative path (including the root itself,
// at path ""); File is called once per file with its path and the
// absolute section offset/size of its data.
type Visitor struct {
	Dir  func(path string) error
	File func(path string, dataOffset, size int64) error
}

// Walk performs the directory traversal described in spec 4.7.2:
// visit the directory, walk its file chain, then recurse into each
// child directory. Sentinel links end a chain.
func Walk(t *Table, v Visitor) error {
	return walkDir(t, 0, "", v)
}

func walkDir(t *Table, dirOff uint32, dirPath string, v Visitor) error {
	dir, err := t.dirEntryAt(dirOff)
	if err != nil {
		return err
	}
	if v.Dir != nil {
		if err := v.Dir(dirPath); err != nil {
			return err
		}
	}

	for fileOff := dir.File; fileOff != Sentinel; {
		f, err := t.fileEntryAt(fileOff)
		if err != nil {
			return err
		}
		if v.File != nil {
			abs := t.RomfsOffset + t.Header.DataOffset + f.Offset
			if err := v.File(path.Join(dirPath, f.Name), abs, f.Size); err != nil {
				return err
			}
		}
		fileOff = f.Sibling
	}

	for childOff := dir.Child; childOff != Sentinel; {
		child, err := t.dirEntryAt(childOff)
		if err != nil {
			return err
		}
		if err := walkDir(t, childOff, path.Join(dirPath, child.Name), v); err != nil {
			return err
		}
		childOff = child.Sibling
	}

	return nil
}

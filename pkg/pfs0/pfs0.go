// Package pfs0 reads the PFS0/HFS0 flat partition format: a file
// table plus string pool, optionally hash-verified against an NCA
// fs-header superblock (spec 3 "PFS0"/"HFS0", spec 4.7.1/4.7.3).
package pfs0

import (
	"encoding/binary"
	"fmt"

	"github.com/falk/hactool-go/pkg/herr"
	"github.com/falk/hactool-go/pkg/ivfc"
	"github.com/falk/hactool-go/pkg/npdm"
)

const (
	MagicPFS0 = "PFS0"
	MagicHFS0 = "HFS0"

	entrySizePFS0 = 24
	entrySizeHFS0 = 64 // adds 8 more header bytes and a 32-byte hash at +32 per entry
)

// File is one entry: its name and where its bytes live relative to
// the partition's own data region.
type File struct {
	Name   string
	Offset int64
	Size   int64
	Hash   [32]byte // HFS0 only
}

// Table is a parsed PFS0/HFS0 header: the partition's files plus the
// byte offset where file data begins (after header+entries+strings).
type Table struct {
	IsHFS0     bool
	Files      []File
	HeaderSize int64
}

// Reader is the minimal random-access source a section exposes.
type Reader interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Parse reads a PFS0 (isHFS0=false) or HFS0 (isHFS0=true) table
// starting at offset 0 of r.
func Parse(r Reader, isHFS0 bool) (*Table, error) {
	hdr := make([]byte, 16)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, herr.New(herr.KindIO, "pfs0.Parse", err)
	}

	wantMagic := MagicPFS0
	entrySize := entrySizePFS0
	if isHFS0 {
		wantMagic = MagicHFS0
		entrySize = entrySizeHFS0
	}
	if string(hdr[0:4]) != wantMagic {
		return nil, herr.New(herr.KindMagicMismatch, "pfs0.Parse", fmt.Errorf("expected magic %q, got %q", wantMagic, hdr[0:4]))
	}

	numFiles := binary.LittleEndian.Uint32(hdr[4:8])
	stringTableSize := binary.LittleEndian.Uint32(hdr[8:12])

	entriesBuf := make([]byte, int(numFiles)*entrySize)
	if _, err := r.ReadAt(entriesBuf, 16); err != nil {
		return nil, herr.New(herr.KindIO, "pfs0.Parse", err)
	}

	stringsOff := int64(16 + len(entriesBuf))
	strings := make([]byte, stringTableSize)
	if _, err := r.ReadAt(strings, stringsOff); err != nil {
		return nil, herr.New(herr.KindIO, "pfs0.Parse", err)
	}

	files := make([]File, numFiles)
	for i := 0; i < int(numFiles); i++ {
		e := entriesBuf[i*entrySize : (i+1)*entrySize]
		f := File{
			Offset: int64(binary.LittleEndian.Uint64(e[0:8])),
			Size:   int64(binary.LittleEndian.Uint64(e[8:16])),
		}
		nameOff := binary.LittleEndian.Uint32(e[16:20])
		f.Name = readCString(strings, nameOff)
		if isHFS0 {
			copy(f.Hash[:], e[32:64])
		}
		files[i] = f
	}

	return &Table{
		IsHFS0:     isHFS0,
		Files:      files,
		HeaderSize: stringsOff + int64(len(strings)),
	}, nil
}

func readCString(buf []byte, off uint32) string {
	if off >= uint32(len(buf)) {
		return ""
	}
	end := off
	for end < uint32(len(buf)) && buf[end] != 0 {
		end++
	}
	return string(buf[off:end])
}

// Superblock carries the NCA fs-header's PFS0 hash metadata needed to
// validate a section before trusting its directory table.
type Superblock struct {
	MasterHash [32]byte
	HashOffset int64
	HashSize   int64
	Pfs0Offset int64
	Pfs0Size   int64
	BlockSize  int64
}

// VerifySuperblockHash validates sb.MasterHash against the section's
// hash table (spec 4.7.1 step 1, a single-entry IVFC-style check).
func VerifySuperblockHash(r ivfc.Reader, sb Superblock) (ivfc.Validity, error) {
	return ivfc.CheckExternalHashTable(r, sb.MasterHash[:], sb.HashOffset, sb.HashSize, sb.HashSize, false)
}

// VerifyHashTable validates the PFS0 data against sb's hash table
// using the superblock's block size (spec 4.7.1 step 1, the deeper
// per-block PFS0 verification).
func VerifyHashTable(r ivfc.Reader, sb Superblock) (ivfc.Validity, error) {
	return ivfc.CheckHashTable(r, sb.HashOffset, sb.Pfs0Offset, sb.Pfs0Size, sb.BlockSize, false)
}

// ExeFSInfo is populated when a PFS0 section contains "main.npdm",
// marking the section as the program's ExeFS (spec 4.7.1).
type ExeFSInfo struct {
	IsExeFS bool
	Npdm    *npdm.Npdm
}

// LoadExeFS scans t for "main.npdm" and parses it in full if present.
// cur_file->size >= sb.Pfs0Size (not >) is preserved literally, per
// the oversize-entry open question (spec 9).
func LoadExeFS(r Reader, t *Table, sb Superblock) (ExeFSInfo, error) {
	for _, f := range t.Files {
		if f.Name != "main.npdm" {
			continue
		}
		if f.Size >= sb.Pfs0Size {
			return ExeFSInfo{}, herr.New(herr.KindLayoutInvalid, "pfs0.LoadExeFS", fmt.Errorf("main.npdm too large for its PFS0"))
		}
		buf := make([]byte, f.Size)
		dataOff := sb.Pfs0Offset + t.HeaderSize + f.Offset
		if _, err := r.ReadAt(buf, dataOff); err != nil {
			return ExeFSInfo{}, herr.New(herr.KindIO, "pfs0.LoadExeFS", err)
		}
		n, err := npdm.Parse(buf)
		if err != nil {
			return ExeFSInfo{IsExeFS: true}, err
		}
		return ExeFSInfo{IsExeFS: true, Npdm: n}, nil
	}
	return ExeFSInfo{}, nil
}

// FileDataOffset returns the absolute section-relative offset of a
// file's bytes, per spec 4.7.1.
func FileDataOffset(sb Superblock, t *Table, f File) int64 {
	return sb.Pfs0Offset + t.HeaderSize + f.Offset
}

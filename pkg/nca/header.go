// Package nca parses and decrypts the NCA container header, derives
// per-section crypto state, and instantiates section readers (spec 3
// "NCA header", spec 4.6).
package nca

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/falk/hactool-go/pkg/crypto"
	"github.com/falk/hactool-go/pkg/herr"
	"github.com/falk/hactool-go/pkg/keys"
)

const (
	HeaderSize = 0xC00
	MediaUnit  = 512
	Magic      = "NCA3"
)

// Content types, as carried in the header's content-type byte.
const (
	ContentProgram = iota
	ContentMeta
	ContentControl
	ContentManual
	ContentData
	ContentPublicData
)

var contentTypeNames = map[byte]string{
	ContentProgram:    "Program",
	ContentMeta:       "Meta",
	ContentControl:    "Control",
	ContentManual:     "Manual",
	ContentData:       "Data",
	ContentPublicData: "PublicData",
}

// ContentTypeName returns a human label for the informational dump
// (spec 7, "verbose output").
func ContentTypeName(t byte) string {
	if n, ok := contentTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(%d)", t)
}

// FsType distinguishes the fs-header superblock union's discriminator.
const (
	FsTypePFS0  = 0
	FsTypeRomFS = 1
)

// PartitionType, paired with FsType, decides a section's kind.
const (
	PartitionTypeHFS0 = 0
	PartitionTypeRomFS = 1
)

// CryptType enumerates the fs-header's crypt-type byte.
const (
	CryptNone = 1
	CryptXTS  = 2
	CryptCTR  = 3
	CryptBKTR = 4
)

// SectionEntry is one of the header's four media-unit ranges.
type SectionEntry struct {
	MediaStart uint32
	MediaEnd   uint32
}

// ByteRange converts a section entry's media-unit bounds to bytes.
func (s SectionEntry) ByteRange() (offset, size int64) {
	offset = int64(s.MediaStart) * MediaUnit
	size = int64(s.MediaEnd-s.MediaStart) * MediaUnit
	return
}

// FsHeader is one of the header's four 0x200-byte filesystem headers.
type FsHeader struct {
	PartitionType byte
	FsType        byte
	CryptType     byte
	KeyAreaIndex  byte
	CounterHigh   [8]byte // ctr high bytes, big-endian as stored

	// Populated when FsType == FsTypePFS0 / RomFS respectively.
	Pfs0 Pfs0Superblock
	Ivfc IvfcSuperblock

	// Populated when CryptType == CryptBKTR.
	BktrRelocationHeaderOffset int64
	BktrRelocationHeaderSize   int64
	BktrSubsectionHeaderOffset int64
	BktrSubsectionHeaderSize   int64
	BktrPatchRomfsSize         int64
}

// Pfs0Superblock is the PFS0/HFS0 fs-header union member: a master
// hash over the section's own PFS0 header+entries+string table.
type Pfs0Superblock struct {
	MasterHash [32]byte
	BlockSize  int64
	HashOffset int64
	HashSize   int64
	Pfs0Offset int64
	Pfs0Size   int64
}

// IvfcSuperblock is the RomFS fs-header union member.
type IvfcSuperblock struct {
	MasterHash   [32]byte
	NumLevels    uint32
	LevelOffsets [6]int64
	LevelSizes   [6]int64
	LogBlockSize [6]uint32
}

// Header is the fully decrypted NCA header.
type Header struct {
	Raw            [HeaderSize]byte
	IsDecrypted    bool
	FixedKeySig    [0x100]byte
	NpdmSig        [0x100]byte
	ContentSize    uint64
	TitleID        uint64
	SdkVersion     [4]byte
	DistType       byte
	ContentType    byte
	CryptoType     byte
	KeyAreaIndex   byte
	CryptoType2    byte
	RightsID       [16]byte
	Sections       [4]SectionEntry
	FsHeaders      [4]FsHeader
	EncryptedKeys  [4][16]byte
}

// HasRightsID reports whether the header uses a ticket title key
// instead of the embedded key area.
func (h *Header) HasRightsID() bool {
	var zero [16]byte
	return h.RightsID != zero
}

// CryptoGeneration is max(crypto_type, crypto_type_2), decremented by
// one when nonzero so that 0 and 1 both select generation 0 (spec 3).
func (h *Header) CryptoGeneration() int {
	gen := int(h.CryptoType)
	if int(h.CryptoType2) > gen {
		gen = int(h.CryptoType2)
	}
	if gen > 0 {
		gen--
	}
	return gen
}

// ParseHeader parses raw, the first HeaderSize bytes of an NCA,
// decrypting them with headerKey unless the plaintext-header sentinel
// is present (spec 4.6 step 1, spec 8 scenario 1). The returned
// Header's Raw holds the decrypted bytes.
func ParseHeader(raw []byte, headerKey []byte) (*Header, error) {
	if len(raw) != HeaderSize {
		return nil, herr.New(herr.KindLayoutInvalid, "nca.ParseHeader", fmt.Errorf("expected %d bytes, got %d", HeaderSize, len(raw)))
	}

	h := &Header{}
	copy(h.Raw[:], raw)

	decrypted := raw
	if isPlaintextHeader(raw) {
		h.IsDecrypted = true
	} else {
		x, err := crypto.NewXTS(headerKey)
		if err != nil {
			return nil, herr.New(herr.KindKeyMissing, "nca.ParseHeader", err)
		}
		decrypted, err = x.DecryptSectors(raw, 0, 512)
		if err != nil {
			return nil, herr.New(herr.KindIO, "nca.ParseHeader", err)
		}
	}
	copy(h.Raw[:], decrypted)

	if !bytes.Equal(decrypted[0x200:0x204], []byte(Magic)) {
		return nil, herr.New(herr.KindMagicMismatch, "nca.ParseHeader", fmt.Errorf("expected magic %q", Magic))
	}

	copy(h.FixedKeySig[:], decrypted[0x000:0x100])
	copy(h.NpdmSig[:], decrypted[0x100:0x200])
	h.DistType = decrypted[0x204]
	h.ContentType = decrypted[0x205]
	h.CryptoType = decrypted[0x206]
	h.KeyAreaIndex = decrypted[0x207]
	h.ContentSize = binary.LittleEndian.Uint64(decrypted[0x208:0x210])
	h.TitleID = binary.LittleEndian.Uint64(decrypted[0x210:0x218])
	copy(h.SdkVersion[:], decrypted[0x218:0x21C])
	h.CryptoType2 = decrypted[0x220]
	copy(h.RightsID[:], decrypted[0x230:0x240])

	for i := 0; i < 4; i++ {
		off := 0x240 + i*16
		h.Sections[i] = SectionEntry{
			MediaStart: binary.LittleEndian.Uint32(decrypted[off : off+4]),
			MediaEnd:   binary.LittleEndian.Uint32(decrypted[off+4 : off+8]),
		}
	}

	for i := 0; i < 4; i++ {
		off := 0x400 + i*0x200
		fh, err := parseFsHeader(decrypted[off : off+0x200])
		if err != nil {
			return nil, err
		}
		h.FsHeaders[i] = fh
	}

	for i := 0; i < 4; i++ {
		off := 0x300 + i*16
		copy(h.EncryptedKeys[i][:], decrypted[off:off+16])
	}

	return h, nil
}

// isPlaintextHeader checks the sentinel: post-decrypted-position
// magic already present, the byte at 0x340 zero, and the 191 bytes
// [0x341,0x400) all equal to it, so all of [0x340,0x400) is zero
// (spec 4.6 step 1).
func isPlaintextHeader(raw []byte) bool {
	if !bytes.Equal(raw[0x200:0x204], []byte(Magic)) {
		return false
	}
	sentinel := raw[0x340]
	for i := 0x341; i < 0x400; i++ {
		if raw[i] != sentinel {
			return false
		}
	}
	return sentinel == 0
}

func parseFsHeader(d []byte) (FsHeader, error) {
	fh := FsHeader{
		FsType:        d[0x2],
		PartitionType: d[0x3],
		CryptType:     d[0x4],
	}
	copy(fh.CounterHigh[:], d[0x140:0x148])

	switch fh.FsType {
	case FsTypePFS0:
		// HierarchicalSha256Data union member at 0x8: master_hash(0x20),
		// block_size(4), always_2(4), hash_table{offset,size}(u64 each),
		// pfs0{offset,size}(u64 each).
		copy(fh.Pfs0.MasterHash[:], d[0x8:0x28])
		fh.Pfs0.BlockSize = int64(binary.LittleEndian.Uint32(d[0x28:0x2C]))
		fh.Pfs0.HashOffset = int64(binary.LittleEndian.Uint64(d[0x30:0x38]))
		fh.Pfs0.HashSize = int64(binary.LittleEndian.Uint64(d[0x38:0x40]))
		fh.Pfs0.Pfs0Offset = int64(binary.LittleEndian.Uint64(d[0x40:0x48]))
		fh.Pfs0.Pfs0Size = int64(binary.LittleEndian.Uint64(d[0x48:0x50]))
	case FsTypeRomFS:
		// IVFC header union member: magic(4) id(4) master_hash_size(4)
		// num_levels(4) at 0x8, then six 24-byte level headers, a
		// 0x20-byte salt, and the 0x20-byte master hash.
		fh.Ivfc.NumLevels = binary.LittleEndian.Uint32(d[0x14:0x18])
		for i := 0; i < 6; i++ {
			lvlOff := 0x18 + i*24
			fh.Ivfc.LevelOffsets[i] = int64(binary.LittleEndian.Uint64(d[lvlOff : lvlOff+8]))
			fh.Ivfc.LevelSizes[i] = int64(binary.LittleEndian.Uint64(d[lvlOff+8 : lvlOff+16]))
			fh.Ivfc.LogBlockSize[i] = binary.LittleEndian.Uint32(d[lvlOff+16 : lvlOff+20])
		}
		copy(fh.Ivfc.MasterHash[:], d[0xC8:0xE8])

		if fh.CryptType == CryptBKTR {
			fh.BktrRelocationHeaderOffset = int64(binary.LittleEndian.Uint64(d[0x100:0x108]))
			fh.BktrRelocationHeaderSize = int64(binary.LittleEndian.Uint64(d[0x108:0x110]))
			fh.BktrSubsectionHeaderOffset = int64(binary.LittleEndian.Uint64(d[0x120:0x128]))
			fh.BktrSubsectionHeaderSize = int64(binary.LittleEndian.Uint64(d[0x128:0x130]))
			// The virtual RomFS size isn't carried as its own field;
			// it is the top IVFC level's covered range, the same
			// total a non-patched RomFS section would report.
			if fh.Ivfc.NumLevels > 0 {
				top := int(fh.Ivfc.NumLevels) - 1
				fh.BktrPatchRomfsSize = fh.Ivfc.LevelOffsets[top] + fh.Ivfc.LevelSizes[top]
			}
		}
	}

	return fh, nil
}

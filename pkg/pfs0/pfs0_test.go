package pfs0

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// memReader is a fixed in-memory Reader stand-in for a section.
type memReader []byte

func (m memReader) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m[off:])
	return n, nil
}

// buildPFS0 assembles a minimal PFS0 or HFS0 table (header, entries and
// string pool, no file data) whose entries describe files of the given
// sizes laid out back to back (data offsets are irrelevant to Parse,
// only to FileDataOffset).
func buildPFS0(isHFS0 bool, names []string, sizes []int64) []byte {
	magic := MagicPFS0
	entrySize := entrySizePFS0
	if isHFS0 {
		magic = MagicHFS0
		entrySize = entrySizeHFS0
	}

	var strs []byte
	nameOffs := make([]uint32, len(names))
	for i, n := range names {
		nameOffs[i] = uint32(len(strs))
		strs = append(strs, []byte(n)...)
		strs = append(strs, 0)
	}

	entries := make([]byte, entrySize*len(names))
	var fileOff int64
	for i, sz := range sizes {
		e := entries[i*entrySize : (i+1)*entrySize]
		binary.LittleEndian.PutUint64(e[0:8], uint64(fileOff))
		binary.LittleEndian.PutUint64(e[8:16], uint64(sz))
		binary.LittleEndian.PutUint32(e[16:20], nameOffs[i])
		if isHFS0 {
			e[32] = byte(i + 1) // distinguish each entry's hash
		}
		fileOff += sz
	}

	hdr := make([]byte, 16)
	copy(hdr[0:4], magic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(names)))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(strs)))

	buf := append(append(hdr, entries...), strs...)
	return buf
}

func TestParsePFS0TableReadsFilesAndHeaderSize(t *testing.T) {
	data := buildPFS0(false, []string{"a.bin", "b.bin"}, []int64{10, 20})
	tbl, err := Parse(memReader(data), false)
	require.NoError(t, err)
	require.False(t, tbl.IsHFS0)
	require.Len(t, tbl.Files, 2)
	require.Equal(t, "a.bin", tbl.Files[0].Name)
	require.Equal(t, int64(10), tbl.Files[0].Size)
	require.Equal(t, "b.bin", tbl.Files[1].Name)
	require.Equal(t, int64(10), tbl.Files[1].Offset)
	require.Equal(t, int64(len(data)), tbl.HeaderSize)
}

func TestParseHFS0TableReadsHashes(t *testing.T) {
	data := buildPFS0(true, []string{"main.npdm"}, []int64{5})
	tbl, err := Parse(memReader(data), true)
	require.NoError(t, err)
	require.True(t, tbl.IsHFS0)
	require.Equal(t, byte(1), tbl.Files[0].Hash[0])
}

func TestParseRejectsWrongMagic(t *testing.T) {
	data := buildPFS0(false, []string{"a"}, []int64{1})
	data[0] = 'X'
	_, err := Parse(memReader(data), false)
	require.Error(t, err)
}

func TestParseRejectsHFS0MagicWhenExpectingPFS0(t *testing.T) {
	data := buildPFS0(true, []string{"a"}, []int64{1})
	_, err := Parse(memReader(data), false)
	require.Error(t, err)
}

func TestFileDataOffsetAddsPfs0OffsetHeaderSizeAndFileOffset(t *testing.T) {
	sb := Superblock{Pfs0Offset: 0x100}
	tbl := &Table{HeaderSize: 0x40}
	f := File{Offset: 0x10}
	require.Equal(t, int64(0x100+0x40+0x10), FileDataOffset(sb, tbl, f))
}

func TestLoadExeFSIgnoresSectionsWithoutMainNpdm(t *testing.T) {
	data := buildPFS0(false, []string{"main"}, []int64{4})
	tbl, err := Parse(memReader(data), false)
	require.NoError(t, err)

	info, err := LoadExeFS(memReader(data), tbl, Superblock{Pfs0Size: 1000})
	require.NoError(t, err)
	require.False(t, info.IsExeFS)
}

func TestLoadExeFSRejectsEntrySizeEqualToPfs0Size(t *testing.T) {
	data := buildPFS0(false, []string{"main.npdm"}, []int64{64})
	tbl, err := Parse(memReader(data), false)
	require.NoError(t, err)

	// The oversize check is ">=", not ">" (spec 9): an entry exactly
	// equal to the enclosing PFS0's size is rejected, not just a
	// strictly larger one.
	_, err = LoadExeFS(memReader(data), tbl, Superblock{Pfs0Size: 64})
	require.Error(t, err)
}

func TestLoadExeFSParsesMainNpdm(t *testing.T) {
	npdmBuf := make([]byte, 0x80)
	copy(npdmBuf[0:4], "META")

	names := []string{"main.npdm"}
	sizes := []int64{int64(len(npdmBuf))}
	data := buildPFS0(false, names, sizes)
	tbl, err := Parse(memReader(data), false)
	require.NoError(t, err)

	sb := Superblock{Pfs0Offset: 0, Pfs0Size: int64(len(data)) + int64(len(npdmBuf)) + 1}
	full := append(append([]byte{}, data...), npdmBuf...)

	info, err := LoadExeFS(memReader(full), tbl, sb)
	require.NoError(t, err)
	require.True(t, info.IsExeFS)
	require.NotNil(t, info.Npdm)
	require.Equal(t, "META", string(info.Npdm.Magic[:]))
}

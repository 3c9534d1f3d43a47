package bktr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelocationTableGetReturnsSpanAndNextBoundary(t *testing.T) {
	entries := []RelocationEntry{
		{VirtOffset: 0, PhysOffset: 0, IsPatch: true},
		{VirtOffset: 0x1000, PhysOffset: 0x1000, IsPatch: false},
		{VirtOffset: 0x2000, PhysOffset: 0, IsPatch: true},
	}
	table := NewRelocationTable(entries, 0x3000)

	e, idx := table.Get(0x1500)
	require.Equal(t, uint64(0x1000), e.VirtOffset)
	require.False(t, e.IsPatch)
	require.Equal(t, uint64(0x2000), table.NextVirtOffset(idx))

	// A read straddling the 0x2000 boundary must split there (spec 8,
	// "BKTR span split").
	boundary := table.NextVirtOffset(idx)
	require.Less(t, int64(0x1500), int64(boundary))
}

func TestRelocationTableSentinelCoversPastEnd(t *testing.T) {
	entries := []RelocationEntry{{VirtOffset: 0, PhysOffset: 0, IsPatch: true}}
	table := NewRelocationTable(entries, 0x500)

	e, idx := table.Get(0x400)
	require.Equal(t, uint64(0), e.VirtOffset)
	require.Equal(t, uint64(0x500), table.NextVirtOffset(idx), "sentinel caps the final span at patchRomfsSize")
}

func TestRelocationTableSortsUnsortedInput(t *testing.T) {
	entries := []RelocationEntry{
		{VirtOffset: 0x2000, IsPatch: true},
		{VirtOffset: 0, IsPatch: false},
		{VirtOffset: 0x1000, IsPatch: true},
	}
	table := NewRelocationTable(entries, 0x3000)
	require.Equal(t, uint64(0), table.Entries[0].VirtOffset)
	require.Equal(t, uint64(0x1000), table.Entries[1].VirtOffset)
	require.Equal(t, uint64(0x2000), table.Entries[2].VirtOffset)
}

func TestSubsectionTableGetReturnsCtrValAndBoundary(t *testing.T) {
	entries := []SubsectionEntry{
		{Offset: 0, CtrVal: 1},
		{Offset: 0x4000, CtrVal: 2},
	}
	table := NewSubsectionTable(entries, 0x8000, 3)

	e, idx := table.Get(0x100)
	require.Equal(t, uint32(1), e.CtrVal)
	require.Equal(t, uint64(0x4000), table.NextOffset(idx))

	e2, idx2 := table.Get(0x5000)
	require.Equal(t, uint32(2), e2.CtrVal)
	require.Equal(t, uint64(0x8000), table.NextOffset(idx2), "sentinel offset is the relocation header offset")
}

// buildBucketBlock constructs a minimal single-bucket bucket-tree blob
// sharing the layout both ParseRelocationBlock and ParseSubsectionBlock
// expect: a 16-byte header, 0x3FF0 bytes of base offsets (unused by the
// parser), then one bucket header plus its entries.
func buildBucketBlock(entrySize int, entries [][]byte) []byte {
	const headerSize = 16
	const baseOffsetsSize = 0x3FF0
	bucketHeaderSize := 16

	buf := make([]byte, headerSize+baseOffsetsSize+bucketHeaderSize+entrySize*len(entries))
	binary.LittleEndian.PutUint32(buf[4:8], 1) // bucket count

	pos := headerSize + baseOffsetsSize
	binary.LittleEndian.PutUint32(buf[pos+4:pos+8], uint32(len(entries)))
	pos += bucketHeaderSize
	for _, e := range entries {
		copy(buf[pos:pos+entrySize], e)
		pos += entrySize
	}
	return buf
}

func TestParseRelocationBlockParsesPatchEntries(t *testing.T) {
	entry := make([]byte, 24)
	binary.LittleEndian.PutUint64(entry[0:8], 0x1000)  // virt_offset
	binary.LittleEndian.PutUint64(entry[8:16], 0x2000) // phys_offset
	binary.LittleEndian.PutUint32(entry[16:20], 1)     // is_patch

	data := buildBucketBlock(24, [][]byte{entry})
	table, err := ParseRelocationBlock(data, 0x5000)
	require.NoError(t, err)
	require.Len(t, table.Entries, 2) // parsed entry + sentinel
	require.Equal(t, uint64(0x1000), table.Entries[0].VirtOffset)
	require.Equal(t, uint64(0x2000), table.Entries[0].PhysOffset)
	require.True(t, table.Entries[0].IsPatch)
}

func TestParseSubsectionBlockParsesCtrVal(t *testing.T) {
	entry := make([]byte, 16)
	binary.LittleEndian.PutUint64(entry[0:8], 0x4000)
	binary.LittleEndian.PutUint32(entry[12:16], 0xAABBCCDD)

	data := buildBucketBlock(16, [][]byte{entry})
	table, err := ParseSubsectionBlock(data, 0x9000, 0)
	require.NoError(t, err)
	require.Len(t, table.Entries, 2)
	require.Equal(t, uint64(0x4000), table.Entries[0].Offset)
	require.Equal(t, uint32(0xAABBCCDD), table.Entries[0].CtrVal)
}

func TestParseBucketBlockRejectsTooSmall(t *testing.T) {
	_, err := ParseRelocationBlock([]byte{1, 2, 3}, 0)
	require.Error(t, err)
}

func TestParseBucketBlockRejectsImplausibleBucketCount(t *testing.T) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[4:8], 1000)
	_, err := ParseRelocationBlock(buf, 0)
	require.Error(t, err)
}

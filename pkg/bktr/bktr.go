// Package bktr implements the BKTR (Bucket Tree Relocation) patch
// overlay's relocation and subsection tables: sorted entry lists with
// a sentinel appended so range lookups never need a bounds check on
// entry+1 (spec 3 "Relocation entry"/"Subsection entry", spec 4.4).
package bktr

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// RelocationEntry maps a virtual RomFS offset to either the patch
// stream or the base RomFS.
type RelocationEntry struct {
	VirtOffset uint64
	PhysOffset uint64
	IsPatch    bool
}

// SubsectionEntry marks where the CTR counter's high 4 bytes change.
type SubsectionEntry struct {
	Offset uint64
	CtrVal uint32
}

// RelocationTable is a sorted relocation entry list with the
// size-sentinel appended at construction time.
type RelocationTable struct {
	Entries []RelocationEntry // entries[len-1] is the sentinel
}

// SubsectionTable is a sorted subsection entry list with the
// relocation-header-offset sentinel appended at construction time.
type SubsectionTable struct {
	Entries []SubsectionEntry // entries[len-1] is the sentinel
}

// NewRelocationTable sorts entries by VirtOffset and appends a
// sentinel at patchRomfsSize, per spec 3.
func NewRelocationTable(entries []RelocationEntry, patchRomfsSize uint64) *RelocationTable {
	out := make([]RelocationEntry, len(entries), len(entries)+1)
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].VirtOffset < out[j].VirtOffset })
	out = append(out, RelocationEntry{VirtOffset: patchRomfsSize})
	return &RelocationTable{Entries: out}
}

// NewSubsectionTable sorts entries by Offset and appends a sentinel at
// relocationHeaderOffset with ctrVal drawn from the fs-header's low
// counter, per spec 3.
func NewSubsectionTable(entries []SubsectionEntry, relocationHeaderOffset uint64, sentinelCtr uint32) *SubsectionTable {
	out := make([]SubsectionEntry, len(entries), len(entries)+1)
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	out = append(out, SubsectionEntry{Offset: relocationHeaderOffset, CtrVal: sentinelCtr})
	return &SubsectionTable{Entries: out}
}

// Get returns the largest relocation entry with VirtOffset <= v, and
// its index, so callers can consult entries[idx+1] (always in-bounds
// because of the sentinel) to find the next crossing point.
func (t *RelocationTable) Get(v uint64) (RelocationEntry, int) {
	n := len(t.Entries)
	idx := sort.Search(n, func(i int) bool { return t.Entries[i].VirtOffset > v }) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n-1 {
		idx = n - 2
		if idx < 0 {
			idx = 0
		}
	}
	return t.Entries[idx], idx
}

// Get returns the largest subsection entry with Offset <= p, and its
// index.
func (t *SubsectionTable) Get(p uint64) (SubsectionEntry, int) {
	n := len(t.Entries)
	idx := sort.Search(n, func(i int) bool { return t.Entries[i].Offset > p }) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n-1 {
		idx = n - 2
		if idx < 0 {
			idx = 0
		}
	}
	return t.Entries[idx], idx
}

// NextVirtOffset returns the start of the next relocation span after
// idx, used to decide whether a read crosses a boundary.
func (t *RelocationTable) NextVirtOffset(idx int) uint64 {
	if idx+1 < len(t.Entries) {
		return t.Entries[idx+1].VirtOffset
	}
	return t.Entries[len(t.Entries)-1].VirtOffset
}

// NextOffset returns the start of the next subsection span after idx.
func (t *SubsectionTable) NextOffset(idx int) uint64 {
	if idx+1 < len(t.Entries) {
		return t.Entries[idx+1].Offset
	}
	return t.Entries[len(t.Entries)-1].Offset
}

// ParseRelocationBlock parses the decrypted relocation bucket-tree
// blob (spec 3/4.4): a 16-byte header (padding, bucket count, total
// size), bucket base offsets, then bucket-count buckets, each a 16-byte
// bucket header (entry count at +4) followed by its {virt_offset,
// phys_offset, is_patch} entries. IsPatch is read from each entry; a
// span's size follows from the next entry's VirtOffset.
func ParseRelocationBlock(data []byte, patchRomfsSize uint64) (*RelocationTable, error) {
	entries, err := parseBucketEntries(data, true)
	if err != nil {
		return nil, err
	}
	return NewRelocationTable(entries, patchRomfsSize), nil
}

// ParseSubsectionBlock parses the decrypted subsection bucket-tree
// blob into a SubsectionTable.
func ParseSubsectionBlock(data []byte, relocationHeaderOffset uint64, sentinelCtr uint32) (*SubsectionTable, error) {
	raw, err := parseBucketEntries(data, false)
	if err != nil {
		return nil, err
	}
	entries := make([]SubsectionEntry, len(raw))
	for i, e := range raw {
		entries[i] = SubsectionEntry{Offset: e.VirtOffset, CtrVal: uint32(e.PhysOffset)}
	}
	return NewSubsectionTable(entries, relocationHeaderOffset, sentinelCtr), nil
}

// parseBucketEntries walks the bucket-tree blob shared by both the
// relocation and subsection tables. When wantPatchFlag is true, each
// 24-byte entry is {virt_offset(8), phys_offset(8), is_patch(4),
// reserved(4)} (relocation entries); otherwise each 16-byte entry is
// {virt_offset(8), reserved(4), ctr_val(4)} (subsection entries,
// reusing PhysOffset to carry ctr_val via the caller).
func parseBucketEntries(data []byte, wantPatchFlag bool) ([]RelocationEntry, error) {
	const bucketTreeHeaderSize = 16
	if len(data) < bucketTreeHeaderSize {
		return nil, fmt.Errorf("bktr: bucket block too small (%d bytes)", len(data))
	}
	bucketCount := binary.LittleEndian.Uint32(data[4:8])
	if bucketCount == 0 || bucketCount > 100 {
		return nil, fmt.Errorf("bktr: implausible bucket count %d", bucketCount)
	}

	const baseOffsetsSize = 0x3FF0
	pos := bucketTreeHeaderSize + baseOffsetsSize
	if len(data) < pos {
		return nil, fmt.Errorf("bktr: bucket block missing base offsets")
	}

	entrySize := 16
	if wantPatchFlag {
		entrySize = 24
	}

	var entries []RelocationEntry
	for b := uint32(0); b < bucketCount; b++ {
		if pos+16 > len(data) {
			break
		}
		entryCount := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		if entryCount > 0xFFFF {
			break
		}
		entriesPos := pos + 16
		for i := uint32(0); i < entryCount; i++ {
			ep := entriesPos + int(i)*entrySize
			if ep+entrySize > len(data) {
				break
			}
			e := RelocationEntry{VirtOffset: binary.LittleEndian.Uint64(data[ep : ep+8])}
			if wantPatchFlag {
				e.PhysOffset = binary.LittleEndian.Uint64(data[ep+8 : ep+16])
				e.IsPatch = binary.LittleEndian.Uint32(data[ep+16:ep+20]) != 0
			} else {
				// ctr_val lives at +12; stash it in PhysOffset for the
				// caller to reinterpret.
				e.PhysOffset = uint64(binary.LittleEndian.Uint32(data[ep+12 : ep+16]))
			}
			entries = append(entries, e)
		}
		pos = entriesPos + int(entryCount)*entrySize
	}
	return entries, nil
}

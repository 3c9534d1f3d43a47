package nca

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/falk/hactool-go/pkg/crypto"
	"github.com/falk/hactool-go/pkg/herr"
	"github.com/stretchr/testify/require"
)

func TestCryptoGenerationTakesMaxAndDecrements(t *testing.T) {
	cases := []struct {
		t1, t2 byte
		want   int
	}{
		{0, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
		{3, 1, 2},
		{1, 5, 4},
	}
	for _, c := range cases {
		h := &Header{CryptoType: c.t1, CryptoType2: c.t2}
		require.Equal(t, c.want, h.CryptoGeneration())
	}
}

func TestHasRightsID(t *testing.T) {
	h := &Header{}
	require.False(t, h.HasRightsID())
	h.RightsID[0] = 1
	require.True(t, h.HasRightsID())
}

func TestSectionEntryByteRange(t *testing.T) {
	e := SectionEntry{MediaStart: 2, MediaEnd: 10}
	off, size := e.ByteRange()
	require.Equal(t, int64(2*MediaUnit), off)
	require.Equal(t, int64(8*MediaUnit), size)
}

// buildPlaintextHeader writes a minimal, already-decrypted 0xC00-byte
// NCA header satisfying isPlaintextHeader's sentinel (spec 8, scenario
// 1: "a header whose 0x340 sentinel byte is already zero is read
// without attempting XTS decryption").
func buildPlaintextHeader() []byte {
	raw := make([]byte, HeaderSize)
	copy(raw[0x200:0x204], []byte(Magic))
	raw[0x204] = 0   // dist type
	raw[0x205] = 1   // content type: Meta
	binary.LittleEndian.PutUint64(raw[0x208:0x210], 0x1234)
	binary.LittleEndian.PutUint64(raw[0x210:0x218], 0xCAFEBABE)
	// bytes [0x341,0x400) already zero, matching the sentinel byte at 0x340
	return raw
}

func TestParseHeaderDetectsPlaintextSentinel(t *testing.T) {
	raw := buildPlaintextHeader()
	h, err := ParseHeader(raw, nil)
	require.NoError(t, err)
	require.True(t, h.IsDecrypted)
	require.Equal(t, uint64(0x1234), h.ContentSize)
	require.Equal(t, uint64(0xCAFEBABE), h.TitleID)
	require.Equal(t, byte(ContentMeta), h.ContentType)
}

func TestParseHeaderRejectsWrongLength(t *testing.T) {
	_, err := ParseHeader(make([]byte, 10), nil)
	require.Error(t, err)
}

func TestParseHeaderRejectsMissingHeaderKeyWhenNotPlaintext(t *testing.T) {
	raw := make([]byte, HeaderSize)
	// Sentinel absent (non-zero byte at 0x340, rest of the run left
	// zero), so ParseHeader must attempt XTS decryption; a nil
	// headerKey must fail with KeyMissing rather than panic.
	raw[0x340] = 5
	_, err := ParseHeader(raw, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, herr.Sentinel(herr.KindKeyMissing)))
}

func TestParseHeaderRejectsBadMagicAfterDecryption(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	x, err := crypto.NewXTS(key)
	require.NoError(t, err)

	raw := make([]byte, HeaderSize)
	raw[0x340] = 5 // non-plaintext sentinel
	decrypted, err := x.DecryptSectors(raw, 0, 512)
	require.NoError(t, err)
	require.NotEqual(t, []byte(Magic), decrypted[0x200:0x204], "a zeroed ciphertext must not happen to decrypt to the real magic")

	_, err = ParseHeader(raw, key)
	require.Error(t, err)
	require.True(t, errors.Is(err, herr.Sentinel(herr.KindMagicMismatch)))
}

func TestParseFsHeaderPFS0Fields(t *testing.T) {
	d := make([]byte, 0x200)
	d[0x2] = FsTypePFS0
	d[0x3] = PartitionTypeHFS0
	d[0x4] = CryptNone
	binary.LittleEndian.PutUint32(d[0x28:0x2C], 0x200)
	binary.LittleEndian.PutUint64(d[0x30:0x38], 0x400)
	binary.LittleEndian.PutUint64(d[0x38:0x40], 0x20)
	binary.LittleEndian.PutUint64(d[0x40:0x48], 0x600)
	binary.LittleEndian.PutUint64(d[0x48:0x50], 0x1000)

	fh, err := parseFsHeader(d)
	require.NoError(t, err)
	require.Equal(t, int64(0x200), fh.Pfs0.BlockSize)
	require.Equal(t, int64(0x400), fh.Pfs0.HashOffset)
	require.Equal(t, int64(0x20), fh.Pfs0.HashSize)
	require.Equal(t, int64(0x600), fh.Pfs0.Pfs0Offset)
	require.Equal(t, int64(0x1000), fh.Pfs0.Pfs0Size)
}

func TestParseFsHeaderBktrDerivesPatchRomfsSizeFromTopIvfcLevel(t *testing.T) {
	d := make([]byte, 0x200)
	d[0x2] = FsTypeRomFS
	d[0x3] = PartitionTypeRomFS
	d[0x4] = CryptBKTR

	binary.LittleEndian.PutUint32(d[0x14:0x18], 2) // num_levels
	// level 0
	binary.LittleEndian.PutUint64(d[0x18:0x20], 0x100)
	binary.LittleEndian.PutUint64(d[0x20:0x28], 0x40)
	// level 1 (the top level for num_levels==2)
	binary.LittleEndian.PutUint64(d[0x18+24:0x18+32], 0x1000)
	binary.LittleEndian.PutUint64(d[0x18+32:0x18+40], 0x2000)

	binary.LittleEndian.PutUint64(d[0x100:0x108], 0x50) // reloc header offset
	binary.LittleEndian.PutUint64(d[0x108:0x110], 0x200)
	binary.LittleEndian.PutUint64(d[0x120:0x128], 0x300)
	binary.LittleEndian.PutUint64(d[0x128:0x130], 0x200)

	fh, err := parseFsHeader(d)
	require.NoError(t, err)
	require.Equal(t, int64(0x1000+0x2000), fh.BktrPatchRomfsSize)
}

func TestContentTypeNameKnownAndUnknown(t *testing.T) {
	require.Equal(t, "Program", ContentTypeName(ContentProgram))
	require.Equal(t, "Unknown(99)", ContentTypeName(99))
}

package npdm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildNpdm(withAcid bool) []byte {
	buf := make([]byte, 0x80)
	copy(buf[0:4], MagicMETA)
	buf[0xC] = 0x1 | (0x2 << 1) // 64-bit, address space 2
	buf[0xD] = 10               // priority
	buf[0xE] = 3                // core num
	binary.LittleEndian.PutUint32(buf[0x10:0x14], 1)
	copy(buf[0x20:0x30], "hactool-go-test")
	copy(buf[0x30:0x40], "0100000000000000")

	if !withAcid {
		return buf
	}

	acid := make([]byte, 0x240)
	copy(acid[0:4], MagicACID)
	for i := range acid[0x100:0x200] {
		acid[0x100+i] = byte(i)
	}

	binary.LittleEndian.PutUint32(buf[0x70:0x74], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[0x74:0x78], uint32(len(acid)))
	return append(buf, acid...)
}

func TestParseReadsHeaderFields(t *testing.T) {
	buf := buildNpdm(false)
	n, err := Parse(buf)
	require.NoError(t, err)
	require.True(t, n.Is64Bit)
	require.Equal(t, byte(2), n.AddressSpace)
	require.Equal(t, byte(10), n.MainThreadPriority)
	require.Equal(t, byte(3), n.MainThreadCoreNum)
	require.Equal(t, uint32(1), n.ProcessCategory)
	require.Equal(t, "hactool-go-test", n.Name)
	require.Equal(t, "0100000000000000", n.ProductCode)
	require.False(t, n.HaveAcid)
}

func TestParseExtractsAcidModulus(t *testing.T) {
	buf := buildNpdm(true)
	n, err := Parse(buf)
	require.NoError(t, err)
	require.True(t, n.HaveAcid)
	require.Equal(t, byte(0), n.AcidModulus[0])
	require.Equal(t, byte(255), n.AcidModulus[255])
}

func TestParseRejectsTooSmallBlob(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	require.Error(t, err)
}

func TestParseRejectsWrongMagic(t *testing.T) {
	buf := make([]byte, 0x80)
	copy(buf[0:4], "XXXX")
	_, err := Parse(buf)
	require.Error(t, err)
}

package ivfc

import (
	"testing"

	"github.com/falk/hactool-go/pkg/crypto"
	"github.com/stretchr/testify/require"
)

// memReader is a fixed in-memory io.ReaderAt stand-in for a section.
type memReader []byte

func (m memReader) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m[off:])
	return n, nil
}

func TestCheckExternalHashTableAcceptsMatchingData(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	h0 := crypto.SHA256(data[0:32])
	h1 := crypto.SHA256(data[32:64])
	table := append(append([]byte{}, h0[:]...), h1[:]...)

	v, err := CheckExternalHashTable(memReader(data), table, 0, 64, 32, true)
	require.NoError(t, err)
	require.Equal(t, Valid, v)
}

func TestCheckExternalHashTableRejectsTamperedData(t *testing.T) {
	data := make([]byte, 64)
	h0 := crypto.SHA256(data[0:32])
	h1 := crypto.SHA256(data[32:64])
	table := append(append([]byte{}, h0[:]...), h1[:]...)

	tampered := make([]byte, 64)
	copy(tampered, data)
	tampered[0] ^= 0xFF

	v, err := CheckExternalHashTable(memReader(tampered), table, 0, 64, 32, true)
	require.NoError(t, err)
	require.Equal(t, Invalid, v)
}

func TestVerifyLevel0ChecksAgainstMasterHash(t *testing.T) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i * 3)
	}
	hash := crypto.SHA256(data)

	d := &Descriptor{
		MasterHash: hash,
		Levels:     []Level{{DataOffset: 0, DataSize: 32, LogBlockSize: 5}}, // 1<<5 == 32
	}
	v, err := VerifyLevel0(memReader(data), d)
	require.NoError(t, err)
	require.Equal(t, Valid, v)
}

func TestVerifyLevelChecksAgainstPriorLevelData(t *testing.T) {
	// Level 1's data occupies [0,32); level 1's hash table lives in
	// level 0's data, which starts at offset 32.
	level1Data := make([]byte, 32)
	for i := range level1Data {
		level1Data[i] = byte(i + 7)
	}
	hash := crypto.SHA256(level1Data)

	buf := make([]byte, 32+32)
	copy(buf[32:], hash[:]) // level 0's data holds level 1's hash table
	copy(buf[0:32], level1Data)

	d := &Descriptor{
		Levels: []Level{
			{DataOffset: 32, DataSize: 32, LogBlockSize: 5},
			{DataOffset: 0, DataSize: 32, LogBlockSize: 5},
		},
	}
	v, err := VerifyLevel(memReader(buf), d, 1)
	require.NoError(t, err)
	require.Equal(t, Valid, v)
}

func TestVerifyLevelRejectsOutOfRangeIndex(t *testing.T) {
	d := &Descriptor{Levels: []Level{{DataSize: 32, LogBlockSize: 5}}}
	_, err := VerifyLevel(memReader(nil), d, 5)
	require.Error(t, err)
}

func TestValidityString(t *testing.T) {
	require.Equal(t, "(GOOD)", Valid.String())
	require.Equal(t, "(FAIL)", Invalid.String())
}

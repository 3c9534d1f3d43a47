// Package ivfc validates the IVFC multi-level hash tree embedded in a
// RomFS/BKTR section (spec 3 "IVFC descriptor", spec 4.5).
package ivfc

import (
	"fmt"

	"github.com/falk/hactool-go/pkg/crypto"
)

// Validity is the GOOD/FAIL outcome of a hash check.
type Validity int

const (
	Invalid Validity = iota
	Valid
)

func (v Validity) String() string {
	if v == Valid {
		return "(GOOD)"
	}
	return "(FAIL)"
}

// Reader is the minimal random-access source the verifier needs —
// satisfied by a section reader's ReadAt convenience method.
type Reader interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Level describes one level of the hash tree.
type Level struct {
	DataOffset   int64
	DataSize     int64
	LogBlockSize uint32
}

// BlockSize returns 1 << LogBlockSize.
func (l Level) BlockSize() int64 { return int64(1) << l.LogBlockSize }

// Descriptor is the full IVFC superblock: up to six levels plus the
// master hash compared against level 0.
type Descriptor struct {
	Levels     []Level
	MasterHash [32]byte
}

// CheckExternalHashTable hashes each hashBlockSize-sized block of
// [dataOffset, dataOffset+dataLen) read through r and compares it
// against the corresponding 32-byte slot of hashTable. For a short
// final block, fullBlock selects whether the hash is computed over a
// zero-padded full block (true) or just the bytes actually present
// (false), per spec 4.5.
func CheckExternalHashTable(r Reader, hashTable []byte, dataOffset, dataLen, blockSize int64, fullBlock bool) (Validity, error) {
	if blockSize == 0 {
		return Invalid, nil
	}
	blockCount := (dataLen + blockSize - 1) / blockSize
	if int64(len(hashTable)) < blockCount*32 {
		return Invalid, fmt.Errorf("ivfc: hash table too small for %d blocks", blockCount)
	}

	buf := make([]byte, blockSize)
	for i := int64(0); i < blockCount; i++ {
		off := dataOffset + i*blockSize
		remaining := dataLen - i*blockSize
		readLen := blockSize
		if remaining < blockSize {
			readLen = remaining
		}

		var hashed [32]byte
		if readLen == blockSize {
			n, err := r.ReadAt(buf, off)
			if err != nil && int64(n) != blockSize {
				return Invalid, err
			}
			hashed = crypto.SHA256(buf)
		} else if fullBlock {
			for j := range buf {
				buf[j] = 0
			}
			if _, err := r.ReadAt(buf[:readLen], off); err != nil {
				return Invalid, err
			}
			hashed = crypto.SHA256(buf)
		} else {
			short := make([]byte, readLen)
			if _, err := r.ReadAt(short, off); err != nil {
				return Invalid, err
			}
			hashed = crypto.SHA256(short)
		}

		want := hashTable[i*32 : i*32+32]
		if !bytesEqual(hashed[:], want) {
			return Invalid, nil
		}
	}
	return Valid, nil
}

// CheckHashTable reads the hash table itself from r at hashOff (sized
// for ceil(dataLen/blockSize) 32-byte entries) and delegates to
// CheckExternalHashTable.
func CheckHashTable(r Reader, hashOff, dataOff, dataLen, blockSize int64, fullBlock bool) (Validity, error) {
	if blockSize == 0 {
		return Invalid, nil
	}
	blockCount := (dataLen + blockSize - 1) / blockSize
	table := make([]byte, blockCount*32)
	if _, err := r.ReadAt(table, hashOff); err != nil {
		return Invalid, err
	}
	return CheckExternalHashTable(r, table, dataOff, dataLen, blockSize, fullBlock)
}

// VerifyLevel0 validates level 0's data against the descriptor's
// master hash. This check always runs, independent of the verify
// flag (spec 4.5, "Always validate level 0 against the master hash").
func VerifyLevel0(r Reader, d *Descriptor) (Validity, error) {
	if len(d.Levels) == 0 {
		return Invalid, fmt.Errorf("ivfc: no levels")
	}
	lvl := d.Levels[0]
	return CheckExternalHashTable(r, d.MasterHash[:], lvl.DataOffset, lvl.DataSize, lvl.BlockSize(), true)
}

// VerifyLevel validates level i (i>0) against the hash table living
// in level i-1's data region. Only called when deep verification was
// requested (spec 4.5).
func VerifyLevel(r Reader, d *Descriptor, i int) (Validity, error) {
	if i <= 0 || i >= len(d.Levels) {
		return Invalid, fmt.Errorf("ivfc: level %d out of range", i)
	}
	prev := d.Levels[i-1]
	cur := d.Levels[i]
	return CheckHashTable(r, prev.DataOffset, cur.DataOffset, cur.DataSize, cur.BlockSize(), true)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

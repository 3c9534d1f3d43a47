// Package npdm parses the NPDM metadata blob embedded in a program's
// ExeFS and extracts the ACID's RSA modulus used to verify the NPDM
// signature in the NCA header (spec "GLOSSARY", spec 4.7.1).
package npdm

import (
	"encoding/binary"
	"fmt"

	"github.com/falk/hactool-go/pkg/herr"
)

const MagicMETA = "META"
const MagicACID = "ACID"

// Npdm is the minimal subset of the metadata blob this tool needs:
// enough of the header to report it, plus the ACID's embedded RSA
// modulus for signature verification.
type Npdm struct {
	Magic       [4]byte
	Is64Bit     bool
	AddressSpace byte
	MainThreadPriority byte
	MainThreadCoreNum  byte
	ProcessCategory    uint32
	Name               string
	ProductCode        string

	AcidOffset uint32
	AcidSize   uint32
	AcidMagic  [4]byte
	AcidModulus [256]byte
	HaveAcid    bool
}

// Parse decodes an in-memory NPDM blob (spec 4.7.1: loaded in full
// from the ExeFS's "main.npdm" entry).
func Parse(buf []byte) (*Npdm, error) {
	if len(buf) < 0x80 {
		return nil, herr.New(herr.KindLayoutInvalid, "npdm.Parse", fmt.Errorf("npdm blob too small (%d bytes)", len(buf)))
	}

	n := &Npdm{}
	copy(n.Magic[:], buf[0:4])
	if string(n.Magic[:]) != MagicMETA {
		return n, herr.New(herr.KindMagicMismatch, "npdm.Parse", fmt.Errorf("expected magic %q, got %q", MagicMETA, n.Magic[:]))
	}

	flags := buf[0xC]
	n.Is64Bit = flags&0x1 != 0
	n.AddressSpace = (flags >> 1) & 0x7
	n.MainThreadPriority = buf[0xD]
	n.MainThreadCoreNum = buf[0xE]
	n.ProcessCategory = binary.LittleEndian.Uint32(buf[0x10:0x14])

	n.Name = cString(buf[0x20:0x30])
	n.ProductCode = cString(buf[0x30:0x40])

	n.AcidOffset = binary.LittleEndian.Uint32(buf[0x70:0x74])
	n.AcidSize = binary.LittleEndian.Uint32(buf[0x74:0x78])

	acidEnd := int(n.AcidOffset) + int(n.AcidSize)
	if int(n.AcidOffset) >= 0 && acidEnd <= len(buf) && n.AcidSize >= 0x240 {
		acid := buf[n.AcidOffset:acidEnd]
		copy(n.AcidMagic[:], acid[0:4])
		if string(n.AcidMagic[:]) == MagicACID {
			// This parser reads the ACID magic from the region's
			// first 4 bytes and the 256-byte RSA modulus from
			// [0x100,0x200). That modulus verifies the NPDM signature
			// carried in the NCA header.
			copy(n.AcidModulus[:], acid[0x100:0x200])
			n.HaveAcid = true
		}
	}

	return n, nil
}

func cString(buf []byte) string {
	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[:end])
}

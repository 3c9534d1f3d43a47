package nca

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/falk/hactool-go/pkg/bktr"
	"github.com/falk/hactool-go/pkg/crypto"
	"github.com/falk/hactool-go/pkg/herr"
	"github.com/falk/hactool-go/pkg/ivfc"
	"github.com/falk/hactool-go/pkg/keys"
	"github.com/falk/hactool-go/pkg/section"
)

// Kind classifies a section for container-walker dispatch (spec 3,
// "Section"; spec 9, "sum type" redesign).
type Kind int

const (
	KindInvalid Kind = iota
	KindPFS0
	KindRomFS
	KindBKTR
)

func (k Kind) String() string {
	switch k {
	case KindPFS0:
		return "PFS0"
	case KindRomFS:
		return "RomFS"
	case KindBKTR:
		return "BKTR"
	default:
		return "INVALID"
	}
}

// Section pairs a section reader with the header metadata needed to
// interpret it.
type Section struct {
	Index  int
	Kind   Kind
	Header FsHeader
	Reader *section.Reader

	// Ivfc is populated for RomFS/BKTR sections.
	Ivfc *ivfc.Descriptor
}

// Options carries the explicit key material a caller may supply,
// overriding the keyset-derived key area (spec 4.6 step 5).
type Options struct {
	Keys       *keys.Keyset
	TitleKeyHex    string // --titlekey
	ContentKeyHex  string // --contentkey
	BaseSource section.BaseSource // --baseromfs / --basenca, for BKTR
}

// NCA is an opened, header-parsed container ready for section access.
type NCA struct {
	Src    io.ReaderAt
	Header *Header

	FixedKeySigValid  bool
	fixedSigChecked   bool
	decryptedKeyArea  [4][16]byte
	haveDecryptedKeys bool
	titleKeyDecrypted []byte

	Sections [4]Section
}

// Open reads and decrypts the header, derives per-section crypto
// state, and instantiates section readers for every nonzero section
// entry (spec 4.6).
func Open(src io.ReaderAt, opts Options) (*NCA, error) {
	raw := make([]byte, HeaderSize)
	if _, err := src.ReadAt(raw, 0); err != nil {
		return nil, herr.New(herr.KindIO, "nca.Open", err)
	}

	var headerKey []byte
	if opts.Keys != nil {
		if hk, err := opts.Keys.RequireHeaderKey(); err == nil {
			headerKey = hk
		}
	}

	h, err := ParseHeader(raw, headerKey)
	if err != nil {
		return nil, err
	}

	n := &NCA{Src: src, Header: h}

	if opts.Keys != nil {
		if mod, err := opts.Keys.RequireFixedModulus(); err == nil {
			n.fixedSigChecked = true
			n.FixedKeySigValid = crypto.VerifyPSS(h.Raw[0x200:0x400], h.FixedKeySig[:], mod)
		}
	}

	generation := h.CryptoGeneration()

	if err := n.deriveSectionKeys(opts, generation); err != nil {
		return nil, err
	}

	for i, entry := range h.Sections {
		if entry.MediaStart == 0 && entry.MediaEnd == 0 {
			continue
		}
		if entry.MediaEnd <= entry.MediaStart {
			return nil, herr.New(herr.KindLayoutInvalid, "nca.Open", fmt.Errorf("section %d: media end %d <= start %d", i, entry.MediaEnd, entry.MediaStart))
		}

		sec, err := n.openSection(i, entry, opts)
		if err != nil {
			return nil, err
		}
		n.Sections[i] = sec
	}

	return n, nil
}

// deriveSectionKeys decrypts the four key-area slots (no rights id) or
// the ticket title key (rights id present), per spec 4.6 step 4.
func (n *NCA) deriveSectionKeys(opts Options, generation int) error {
	h := n.Header

	if !h.HasRightsID() {
		if opts.Keys == nil {
			return nil
		}
		for i := 0; i < 4; i++ {
			dec, err := opts.Keys.UnwrapKeyArea(h.EncryptedKeys[i][:], generation, int(h.KeyAreaIndex))
			if err != nil {
				continue
			}
			copy(n.decryptedKeyArea[i][:], dec)
		}
		n.haveDecryptedKeys = true
		return nil
	}

	if opts.TitleKeyHex != "" {
		raw, err := decodeHexKey(opts.TitleKeyHex)
		if err != nil {
			return herr.New(herr.KindUsage, "nca.deriveSectionKeys", err)
		}
		if opts.Keys != nil {
			dec, err := opts.Keys.DecryptTitleKey(raw, generation)
			if err == nil {
				n.titleKeyDecrypted = dec
			}
		}
	}
	return nil
}

func decodeHexKey(s string) ([]byte, error) {
	if len(s) != 32 {
		return nil, fmt.Errorf("key must be exactly 32 hex digits, got %d characters", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key must be hex: %w", err)
	}
	return b, nil
}

// openSection instantiates the section reader for one fs-header,
// choosing its AES context by priority: explicit content key, then
// title-key-derived key, then the decrypted key area (spec 4.6 step 5).
func (n *NCA) openSection(i int, entry SectionEntry, opts Options) (Section, error) {
	fh := n.Header.FsHeaders[i]
	offset, size := entry.ByteRange()

	var ctrKey []byte
	switch {
	case opts.ContentKeyHex != "":
		raw, err := decodeHexKey(opts.ContentKeyHex)
		if err != nil {
			return Section{}, herr.New(herr.KindUsage, "nca.openSection", err)
		}
		ctrKey = raw
	case n.titleKeyDecrypted != nil:
		ctrKey = n.titleKeyDecrypted
	case n.haveDecryptedKeys:
		ctrKey = n.decryptedKeyArea[2][:]
	}

	var rd *section.Reader
	switch fh.CryptType {
	case CryptNone:
		rd = section.NewPlain(n.Src, offset, size)
	case CryptXTS:
		if !n.haveDecryptedKeys {
			return Section{}, herr.Sentinel(herr.KindKeyMissing)
		}
		xtsKey := append(append([]byte{}, n.decryptedKeyArea[0][:]...), n.decryptedKeyArea[1][:]...)
		x, err := crypto.NewXTS(xtsKey)
		if err != nil {
			return Section{}, herr.New(herr.KindKeyMissing, "nca.openSection", err)
		}
		rd = section.NewXTS(n.Src, offset, size, x)
	case CryptCTR:
		if ctrKey == nil {
			return Section{}, herr.Sentinel(herr.KindKeyMissing)
		}
		c, err := crypto.NewCTR(ctrKey)
		if err != nil {
			return Section{}, herr.New(herr.KindKeyMissing, "nca.openSection", err)
		}
		rd = section.NewCTR(n.Src, offset, size, c, fh.CounterHigh)
	case CryptBKTR:
		if ctrKey == nil {
			return Section{}, herr.Sentinel(herr.KindKeyMissing)
		}
		c, err := crypto.NewCTR(ctrKey)
		if err != nil {
			return Section{}, herr.New(herr.KindKeyMissing, "nca.openSection", err)
		}
		rd = section.NewBKTR(n.Src, offset, size, c, fh.CounterHigh)
	default:
		rd = section.NewPlain(n.Src, offset, size)
	}

	kind := classify(fh)

	sec := Section{Index: i, Kind: kind, Header: fh, Reader: rd}

	if kind == KindRomFS || kind == KindBKTR {
		sec.Ivfc = buildIvfcDescriptor(fh.Ivfc)
	}

	return sec, nil
}

func classify(fh FsHeader) Kind {
	switch {
	case fh.PartitionType == PartitionTypeHFS0 && fh.FsType == FsTypePFS0:
		return KindPFS0
	case fh.CryptType == CryptBKTR:
		return KindBKTR
	case fh.PartitionType == PartitionTypeRomFS && fh.FsType == FsTypeRomFS:
		return KindRomFS
	default:
		return KindInvalid
	}
}

// LoadBktrTables reads and parses the relocation and subsection
// bucket-tree blocks embedded in a BKTR section (readable in plain
// CTR mode, since the section reader falls back to CTR until tables
// are loaded) and attaches them, switching the reader into
// relocation-aware dispatch (spec 4.6 step 6, spec 4.4).
func (n *NCA) LoadBktrTables(sec *Section, base section.BaseSource) error {
	fh := sec.Header
	if fh.CryptType != CryptBKTR {
		return herr.New(herr.KindLayoutInvalid, "nca.LoadBktrTables", fmt.Errorf("section %d is not BKTR", sec.Index))
	}

	relocBuf := make([]byte, fh.BktrRelocationHeaderSize)
	if _, err := sec.Reader.ReadAt(relocBuf, fh.BktrRelocationHeaderOffset); err != nil {
		return herr.New(herr.KindIO, "nca.LoadBktrTables", err)
	}
	reloc, err := bktr.ParseRelocationBlock(relocBuf, uint64(fh.BktrPatchRomfsSize))
	if err != nil {
		return herr.New(herr.KindLayoutInvalid, "nca.LoadBktrTables", err)
	}

	subBuf := make([]byte, fh.BktrSubsectionHeaderSize)
	if _, err := sec.Reader.ReadAt(subBuf, fh.BktrSubsectionHeaderOffset); err != nil {
		return herr.New(herr.KindIO, "nca.LoadBktrTables", err)
	}
	sub, err := bktr.ParseSubsectionBlock(subBuf, uint64(fh.BktrRelocationHeaderOffset), 0)
	if err != nil {
		return herr.New(herr.KindLayoutInvalid, "nca.LoadBktrTables", err)
	}

	sec.Reader.LoadTables(reloc, sub, base, fh.BktrPatchRomfsSize)
	return nil
}

func buildIvfcDescriptor(sb IvfcSuperblock) *ivfc.Descriptor {
	d := &ivfc.Descriptor{MasterHash: sb.MasterHash}
	n := int(sb.NumLevels)
	if n > 6 {
		n = 6
	}
	for i := 0; i < n; i++ {
		d.Levels = append(d.Levels, ivfc.Level{
			DataOffset:   sb.LevelOffsets[i],
			DataSize:     sb.LevelSizes[i],
			LogBlockSize: sb.LogBlockSize[i],
		})
	}
	return d
}

package keys

import (
	"fmt"
	"os"

	"github.com/falk/hactool-go/pkg/crypto"
)

// Preset selects which family of key names a keyfile is expected to
// follow. When neither is explicitly chosen the default is Retail
// (spec 4.2).
type Preset int

const (
	Retail Preset = iota
	Dev
)

// Keyset holds the header key, the key-area-encryption-keys and
// title-keks for master key generations 0..2, and the fixed-key
// signature modulus (spec 3, "Keyset").
type Keyset struct {
	Preset       Preset
	HeaderKey    [32]byte
	KeyAreaKeys  [3][3][16]byte // [generation][application|ocean|system]
	TitleKeks    [3][16]byte
	FixedModulus [256]byte

	haveHeaderKey    bool
	haveFixedModulus bool
	haveGen          [3]bool
	haveKaek         [3][3]bool
	haveTitlekek     [3]bool
}

// Key area indices, matching FsHeader.KeyAreaIndex on disk.
const (
	KaekApplication = 0
	KaekOcean       = 1
	KaekSystem      = 2
)

// Load builds a Keyset by reading path and deriving the per-generation
// keys from it.
func Load(path string, preset Preset) (*Keyset, error) {
	raw := newRawKeys()
	if err := raw.load(path); err != nil {
		return nil, err
	}
	return fromRaw(raw, preset)
}

// LoadDefault tries the conventional keyfile search locations.
func LoadDefault(preset Preset) (*Keyset, error) {
	var lastErr error
	for _, p := range defaultKeyfilePaths() {
		if _, err := os.Stat(p); err == nil {
			return Load(p, preset)
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("keys: no keyfile found")
	}
	return nil, lastErr
}

func fromRaw(raw *rawKeys, preset Preset) (*Keyset, error) {
	ks := &Keyset{Preset: preset}

	prefix := ""
	if preset == Dev {
		prefix = "dev_"
	}

	if hk := raw.get(prefix + "header_key"); len(hk) == 32 {
		copy(ks.HeaderKey[:], hk)
		ks.haveHeaderKey = true
	} else if hk := raw.get("header_key"); len(hk) == 32 {
		copy(ks.HeaderKey[:], hk)
		ks.haveHeaderKey = true
	}

	if m := raw.get(prefix + "nca_hdr_fixed_key_modulus"); len(m) == 256 {
		copy(ks.FixedModulus[:], m)
		ks.haveFixedModulus = true
	} else if m := raw.get("nca_hdr_fixed_key_modulus"); len(m) == 256 {
		copy(ks.FixedModulus[:], m)
		ks.haveFixedModulus = true
	}

	deriveGenerations(raw, ks, prefix)

	return ks, nil
}

// RequireHeaderKey returns the raw header key, or an error if it wasn't
// present in the loaded keyfile.
func (k *Keyset) RequireHeaderKey() ([]byte, error) {
	if !k.haveHeaderKey {
		return nil, fmt.Errorf("keys: header_key not available")
	}
	out := make([]byte, 32)
	copy(out, k.HeaderKey[:])
	return out, nil
}

// RequireFixedModulus returns the fixed-key signature modulus.
func (k *Keyset) RequireFixedModulus() ([]byte, error) {
	if !k.haveFixedModulus {
		return nil, fmt.Errorf("keys: nca_hdr_fixed_key_modulus not available")
	}
	out := make([]byte, 256)
	copy(out, k.FixedModulus[:])
	return out, nil
}

// KeyAreaKey returns the key-area-encryption-key for a master key
// generation and kaek index (0=application, 1=ocean, 2=system).
func (k *Keyset) KeyAreaKey(generation, index int) ([]byte, error) {
	if generation < 0 || generation > 2 || index < 0 || index > 2 {
		return nil, fmt.Errorf("keys: key area key[%d][%d] out of range", generation, index)
	}
	if !k.haveKaek[generation][index] {
		return nil, fmt.Errorf("keys: key_area_key[%d][%d] not derived", generation, index)
	}
	out := make([]byte, 16)
	copy(out, k.KeyAreaKeys[generation][index][:])
	return out, nil
}

// TitleKek returns the title-kek for a master key generation.
func (k *Keyset) TitleKek(generation int) ([]byte, error) {
	if generation < 0 || generation > 2 {
		return nil, fmt.Errorf("keys: title kek generation %d out of range", generation)
	}
	if !k.haveTitlekek[generation] {
		return nil, fmt.Errorf("keys: titlekek[%d] not derived", generation)
	}
	out := make([]byte, 16)
	copy(out, k.TitleKeks[generation][:])
	return out, nil
}

// UnwrapKeyArea decrypts one of the four 16-byte NCA header key-area
// slots using the key-area-encryption-key for (generation, kaekIndex).
func (k *Keyset) UnwrapKeyArea(wrapped []byte, generation, kaekIndex int) ([]byte, error) {
	kek, err := k.KeyAreaKey(generation, kaekIndex)
	if err != nil {
		return nil, err
	}
	return crypto.ECBDecrypt(kek, wrapped)
}

// DecryptTitleKey decrypts a ticket's encrypted title key with the
// title-kek for generation.
func (k *Keyset) DecryptTitleKey(encrypted []byte, generation int) ([]byte, error) {
	kek, err := k.TitleKek(generation)
	if err != nil {
		return nil, err
	}
	return crypto.ECBDecrypt(kek, encrypted)
}

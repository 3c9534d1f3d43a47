// Package crypto presents the small set of crypto primitives the NCA
// container formats need: AES-ECB, AES-CTR with a settable IV,
// AES-XTS with a sector tweak, SHA-256, and RSA-2048-PSS verification.
//
// Sizing and alignment checks are the caller's responsibility; these
// primitives never fail beyond returning a verify-false.
package crypto

import (
	stdcrypto "crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
)

// Cipher cache to avoid recreating AES ciphers for the same key, kept
// from the teacher's approach of hashing repeated section re-opens.
var (
	cipherCache   = make(map[[16]byte]cipher.Block)
	cipherCacheMu sync.RWMutex
)

func getCachedCipher(key []byte) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("crypto: key must be 16 bytes, got %d", len(key))
	}
	var keyArr [16]byte
	copy(keyArr[:], key)

	cipherCacheMu.RLock()
	block, ok := cipherCache[keyArr]
	cipherCacheMu.RUnlock()
	if ok {
		return block, nil
	}

	cipherCacheMu.Lock()
	defer cipherCacheMu.Unlock()
	if block, ok = cipherCache[keyArr]; ok {
		return block, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	cipherCache[keyArr] = block
	return block, nil
}

// ECBDecrypt decrypts data using AES-ECB. Not secure for general
// purpose use, but required by the Switch key-wrapping scheme.
func ECBDecrypt(key, data []byte) ([]byte, error) {
	return ecbCrypt(key, data, false)
}

// ECBEncrypt encrypts data using AES-ECB, used only for the keyset
// round-trip test property.
func ECBEncrypt(key, data []byte) ([]byte, error) {
	return ecbCrypt(key, data, true)
}

func ecbCrypt(key, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("crypto: data length %d not a multiple of block size %d", len(data), block.BlockSize())
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		chunk := data[i : i+block.BlockSize()]
		dst := out[i : i+block.BlockSize()]
		if encrypt {
			block.Encrypt(dst, chunk)
		} else {
			block.Decrypt(dst, chunk)
		}
	}
	return out, nil
}

// CTR wraps an AES-CTR keystream whose IV can be rederived for an
// arbitrary absolute offset, as section reads seek around freely.
type CTR struct {
	block cipher.Block
}

// NewCTR builds a CTR context bound to a 16-byte key.
func NewCTR(key []byte) (*CTR, error) {
	block, err := getCachedCipher(key)
	if err != nil {
		return nil, err
	}
	return &CTR{block: block}, nil
}

// IVForOffset forms the 16-byte IV for a CTR/BKTR section read at the
// given absolute section offset: the high 8 bytes are the caller's
// per-section counter, the low 8 bytes are offset>>4 big-endian.
func IVForOffset(ctrHigh [8]byte, offset int64) [16]byte {
	var iv [16]byte
	copy(iv[:8], ctrHigh[:])
	binary.BigEndian.PutUint64(iv[8:], uint64(offset)>>4)
	return iv
}

// Stream returns a keystream cipher.Stream positioned at iv. The
// caller must only ever feed it 16-byte-aligned regions; CTR mode
// otherwise desyncs the counter.
func (c *CTR) Stream(iv [16]byte) cipher.Stream {
	return cipher.NewCTR(c.block, iv[:])
}

// CryptBlock decrypts/encrypts (CTR is symmetric) len(dst) bytes at
// the given absolute offset and per-section counter high bytes in one
// shot. len(dst) must be a multiple of 16.
func (c *CTR) CryptBlock(dst, src []byte, ctrHigh [8]byte, offset int64) {
	iv := IVForOffset(ctrHigh, offset)
	c.Stream(iv).XORKeyStream(dst, src)
}

// XTS decrypts AES-128-XTS with the Switch-specific tweak: the
// initial tweak is the big-endian sector index (not little-endian, as
// most XTS implementations assume), encrypted with K2. This matches
// hactool's xts_nintendo_decrypt and cannot reuse golang.org/x/crypto/xts
// directly, which hardcodes a little-endian sector tweak.
type XTS struct {
	c1, c2 cipher.Block
}

// NewXTS builds an AES-128-XTS context from a 32-byte key (two
// concatenated 16-byte AES-128 keys: K1 for data, K2 for the tweak).
func NewXTS(key []byte) (*XTS, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: XTS key must be 32 bytes (2x16), got %d", len(key))
	}
	c1, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, err
	}
	c2, err := aes.NewCipher(key[16:])
	if err != nil {
		return nil, err
	}
	return &XTS{c1: c1, c2: c2}, nil
}

// DecryptSectors decrypts data in place, treating it as consecutive
// sectorSize-byte sectors starting at sectorIndex; the tweak for the
// k-th sector in the call is sectorIndex+k.
func (x *XTS) DecryptSectors(data []byte, sectorIndex uint64, sectorSize int) ([]byte, error) {
	if len(data)%sectorSize != 0 {
		return nil, fmt.Errorf("crypto: XTS data length %d not a multiple of sector size %d", len(data), sectorSize)
	}
	out := make([]byte, len(data))
	for off := 0; off < len(data); off += sectorSize {
		sector := sectorIndex + uint64(off/sectorSize)
		x.decryptSector(out[off:off+sectorSize], data[off:off+sectorSize], sector)
	}
	return out, nil
}

func (x *XTS) decryptSector(dst, src []byte, sector uint64) {
	tweak := make([]byte, 16)
	binary.BigEndian.PutUint64(tweak[8:], sector)
	tweakEnc := make([]byte, 16)
	x.c2.Encrypt(tweakEnc, tweak)
	tweak = tweakEnc

	buf := make([]byte, 16)
	dec := make([]byte, 16)
	for i := 0; i < len(src); i += 16 {
		chunk := src[i : i+16]
		xor16(buf, chunk, tweak)
		x.c1.Decrypt(dec, buf)
		xor16(dst[i:i+16], dec, tweak)
		mul2(tweak)
	}
}

func xor16(dst, a, b []byte) {
	for i := 0; i < 16; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

func mul2(tweak []byte) {
	var carry byte
	for i := 0; i < 16; i++ {
		b := tweak[i]
		nextCarry := b >> 7
		tweak[i] = (b << 1) | carry
		carry = nextCarry
	}
	if carry != 0 {
		tweak[0] ^= 0x87
	}
}

// SHA256 hashes buf.
func SHA256(buf []byte) [32]byte {
	return sha256.Sum256(buf)
}

// VerifyPSS checks an RSA-2048-PSS signature over data using a raw
// 256-byte big-endian modulus and the standard public exponent
// 0x10001, matching hactool's fixed-key and NPDM ACID verification.
func VerifyPSS(data, signature, modulus []byte) bool {
	if len(signature) != 256 || len(modulus) != 256 {
		return false
	}
	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: 0x10001}
	hashed := sha256.Sum256(data)
	err := rsa.VerifyPSS(pub, stdcrypto.SHA256, hashed[:], signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
	return err == nil
}

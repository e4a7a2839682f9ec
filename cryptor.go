package cryptovfs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Cryptor is the opaque cryptographic capability spec.md §1 names as an
// out-of-scope collaborator: header/chunk AEAD and deterministic filename
// encryption. Every other component treats it as a black box; NewCryptor
// is the only concrete constructor.
type Cryptor interface {
	HeaderSize() int
	ChunkSize() int
	CiphertextChunkSize() int

	NewFileHeader() (*FileHeader, error)
	PackHeader(h *FileHeader) ([]byte, error)
	UnpackHeader(raw []byte) (*FileHeader, error)

	EncryptChunk(h *FileHeader, index uint64, cleartext []byte) ([]byte, error)
	DecryptChunk(h *FileHeader, index uint64, ciphertext []byte) ([]byte, error)

	EncryptName(name string, parent DirId) (string, error)
	DecryptName(cipherName string, parent DirId) (string, error)
}

func newAEAD(suite CipherSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("cryptovfs: aes cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case CipherChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("cryptovfs: unsupported cipher suite %v", suite)
	}
}

// aeadCryptor is the production Cryptor: AES-256-GCM or ChaCha20-Poly1305
// for header/chunk bodies, and AES-SIV for filenames, all keyed off the
// vault masterkey via HKDF-SHA256 subkeys. Grounded on the teacher's
// AESGCMEngine/ChaCha20Poly1305Engine (cipher.go) and SIVEngine (siv.go).
type aeadCryptor struct {
	suite      CipherSuite
	headerAEAD cipher.AEAD
	names      *sivCipher
	chunkSize  int
}

// NewCryptor derives the header-wrapping key and filename key from
// masterKey and returns a ready-to-use Cryptor.
func NewCryptor(suite CipherSuite, masterKey []byte, chunkSize int) (Cryptor, error) {
	if len(masterKey) < 32 {
		return nil, fmt.Errorf("cryptovfs: masterkey must be at least 32 bytes, got %d", len(masterKey))
	}
	headerKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte("cryptovfs.header.v1")), headerKey); err != nil {
		return nil, fmt.Errorf("cryptovfs: derive header key: %w", err)
	}
	headerAEAD, err := newAEAD(suite, headerKey)
	if err != nil {
		return nil, err
	}

	sivKey := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte("cryptovfs.filename.v1")), sivKey); err != nil {
		return nil, fmt.Errorf("cryptovfs: derive filename key: %w", err)
	}
	names, err := newSIVCipher(sivKey)
	if err != nil {
		return nil, err
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &aeadCryptor{suite: suite, headerAEAD: headerAEAD, names: names, chunkSize: chunkSize}, nil
}

func (c *aeadCryptor) HeaderSize() int {
	return c.headerAEAD.NonceSize() + contentKeySize + c.headerAEAD.Overhead()
}

func (c *aeadCryptor) ChunkSize() int { return c.chunkSize }

func (c *aeadCryptor) CiphertextChunkSize() int {
	return c.headerAEAD.NonceSize() + c.chunkSize + c.headerAEAD.Overhead()
}

func (c *aeadCryptor) NewFileHeader() (*FileHeader, error) {
	key, err := randomContentKey()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, c.headerAEAD.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &FileHeader{Nonce: nonce, ContentKey: key}, nil
}

func (c *aeadCryptor) PackHeader(h *FileHeader) ([]byte, error) {
	sealed := c.headerAEAD.Seal(nil, h.Nonce, h.ContentKey, nil)
	out := make([]byte, 0, len(h.Nonce)+len(sealed))
	out = append(out, h.Nonce...)
	out = append(out, sealed...)
	return out, nil
}

func (c *aeadCryptor) UnpackHeader(raw []byte) (*FileHeader, error) {
	if len(raw) != c.HeaderSize() {
		return nil, fmt.Errorf("%w: header is %d bytes, want %d", ErrCorrupted, len(raw), c.HeaderSize())
	}
	ns := c.headerAEAD.NonceSize()
	nonce, sealed := raw[:ns], raw[ns:]
	key, err := c.headerAEAD.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return &FileHeader{Nonce: append([]byte(nil), nonce...), ContentKey: key}, nil
}

// chunkAAD binds a chunk's ciphertext to its file (via the header nonce,
// which is unique per file) and its position, so chunks cannot be
// reordered, duplicated across files, or spliced from another version of
// the same file without failing authentication.
func chunkAAD(h *FileHeader, index uint64) []byte {
	aad := make([]byte, 8+len(h.Nonce))
	binary.BigEndian.PutUint64(aad[:8], index)
	copy(aad[8:], h.Nonce)
	return aad
}

func (c *aeadCryptor) EncryptChunk(h *FileHeader, index uint64, cleartext []byte) ([]byte, error) {
	aead, err := newAEAD(c.suite, h.ContentKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, cleartext, chunkAAD(h, index))
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func (c *aeadCryptor) DecryptChunk(h *FileHeader, index uint64, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(c.suite, h.ContentKey)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, ErrCorrupted
	}
	nonce, sealed := ciphertext[:ns], ciphertext[ns:]
	plain, err := aead.Open(nil, nonce, sealed, chunkAAD(h, index))
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

func (c *aeadCryptor) EncryptName(name string, parent DirId) (string, error) {
	ct, err := c.names.seal([]byte(name), parent.Bytes())
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(ct), nil
}

func (c *aeadCryptor) DecryptName(cipherName string, parent DirId) (string, error) {
	ct, err := base64.RawURLEncoding.DecodeString(cipherName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	pt, err := c.names.open(ct, parent.Bytes())
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// sivCipher implements AES-SIV (RFC 5297, S2V + CTR) for deterministic,
// nonce-misuse-resistant filename encryption: the same (name, parent DirId)
// pair always seals to the same ciphertext, which is exactly the pure-
// function invariant spec.md §3 requires of the filename codec. Grounded
// on the teacher's SIVEngine in siv.go; no ecosystem AES-SIV package
// appears anywhere in the retrieval pack.
type sivCipher struct {
	macKey []byte
	block  cipher.Block
}

func newSIVCipher(key []byte) (*sivCipher, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("cryptovfs: AES-SIV needs a 64-byte key, got %d", len(key))
	}
	block, err := aes.NewCipher(key[32:])
	if err != nil {
		return nil, fmt.Errorf("cryptovfs: siv block cipher: %w", err)
	}
	return &sivCipher{macKey: key[:32], block: block}, nil
}

func (s *sivCipher) seal(plaintext []byte, ad ...[]byte) ([]byte, error) {
	iv := s.s2v(plaintext, ad...)
	out := make([]byte, len(plaintext))
	s.ctr(iv, plaintext, out)
	result := make([]byte, 16+len(out))
	copy(result, iv)
	copy(result[16:], out)
	return result, nil
}

func (s *sivCipher) open(ciphertext []byte, ad ...[]byte) ([]byte, error) {
	if len(ciphertext) < 16 {
		return nil, ErrInvalidCiphertext
	}
	iv, body := ciphertext[:16], ciphertext[16:]
	plain := make([]byte, len(body))
	s.ctr(iv, body, plain)
	want := s.s2v(plain, ad...)
	if subtle.ConstantTimeCompare(iv, want) != 1 {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

// s2v is the RFC 5297 "String to Vector" construction: chain-CMAC the
// associated data, then fold in the plaintext.
func (s *sivCipher) s2v(plaintext []byte, ad ...[]byte) []byte {
	macBlock, _ := aes.NewCipher(s.macKey)
	d := cmac(macBlock, make([]byte, 16))
	for _, a := range ad {
		d = xorBlocks(dbl(d), cmac(macBlock, a))
	}
	var t []byte
	if len(plaintext) >= 16 {
		t = append([]byte(nil), plaintext...)
		xorInto(t[len(t)-16:], d)
	} else {
		t = xorBlocks(dbl(d), pad16(plaintext))
	}
	return cmac(macBlock, t)
}

// ctr runs AES-CTR keyed by the SIV block cipher, with bits 31 and 63 of
// the IV cleared per RFC 5297 §2.5 so the counter never wraps into the top
// bit of either 32-bit half.
func (s *sivCipher) ctr(iv, src, dst []byte) {
	ctrIV := append([]byte(nil), iv...)
	ctrIV[8] &= 0x7f
	ctrIV[12] &= 0x7f
	cipher.NewCTR(s.block, ctrIV).XORKeyStream(dst, src)
}

func cmac(block cipher.Block, data []byte) []byte {
	k1, k2 := cmacSubkeys(block)

	n := (len(data) + 15) / 16
	if n == 0 {
		n = 1
	}
	last := make([]byte, 16)
	if len(data) == 0 || len(data)%16 != 0 {
		copy(last, data[16*(n-1):])
		last = pad16(last[:len(data)%16])
		xorInto(last, k2)
	} else {
		copy(last, data[16*(n-1):])
		xorInto(last, k1)
	}

	mac := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		xorInto(mac, data[i*16:(i+1)*16])
		block.Encrypt(mac, mac)
	}
	xorInto(mac, last)
	block.Encrypt(mac, mac)
	return mac
}

func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	l := make([]byte, 16)
	block.Encrypt(l, l)
	k1 = dbl(l)
	k2 = dbl(k1)
	return
}

// dbl doubles a 128-bit block in GF(2^128), per RFC 5297 §2.3.
func dbl(block []byte) []byte {
	out := make([]byte, 16)
	var carry uint64
	for i := 0; i < 2; i++ {
		off := (1 - i) * 8
		v := binary.BigEndian.Uint64(block[off : off+8])
		binary.BigEndian.PutUint64(out[off:off+8], (v<<1)|carry)
		carry = v >> 63
	}
	if carry != 0 {
		out[15] ^= 0x87
	}
	return out
}

// pad16 applies the RFC 5297 10* padding used by CMAC and S2V for partial
// blocks.
func pad16(data []byte) []byte {
	out := make([]byte, 16)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func xorBlocks(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		if i >= len(src) {
			break
		}
		dst[i] ^= src[i]
	}
}

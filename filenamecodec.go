package cryptovfs

import (
	"crypto/sha1"
	"encoding/base64"
	"io"
	"path"
	"strings"

	"github.com/absfs/absfs"
)

const (
	longNameSuffix  = ".c9r"
	shortNameSuffix = ".c9s"
	nameSidecarFile = "name.c9s"
)

var forbiddenNameChars = "/\x00"

// FilenameCodec implements spec.md §4.1: encode/decode a single cleartext
// path component into its ciphertext form, applying hash-based shortening
// when the encrypted name would exceed the configured threshold. Grounded
// on the teacher's deterministicFilenameEncryptor in filename.go (AES-SIV
// then base64url), generalized so the SIV associated data is the parent
// DirId rather than a single vault-wide key, which is what makes the
// mapping a pure function of (name, parentDirId) as spec.md §3 requires.
type FilenameCodec struct {
	cryptor             Cryptor
	shorteningThreshold int
	maxCleartextName    int
}

func NewFilenameCodec(cryptor Cryptor, shorteningThreshold, maxCleartextName int) *FilenameCodec {
	return &FilenameCodec{
		cryptor:             cryptor,
		shorteningThreshold: shorteningThreshold,
		maxCleartextName:    maxCleartextName,
	}
}

func (c *FilenameCodec) validateCleartext(name string) error {
	if name == "" || name == "." || name == ".." {
		return newErr(KindInvalidName, "encode", name, nil)
	}
	if len(name) > c.maxCleartextName {
		return newErr(KindInvalidName, "encode", name, nil)
	}
	if strings.ContainsAny(name, forbiddenNameChars) {
		return newErr(KindInvalidName, "encode", name, nil)
	}
	return nil
}

// Encode returns the canonical long ciphertext name (always usable as the
// name.c9s sidecar payload and for Decode), the actual host directory entry
// name to create/look up (identical to longName unless shortened), and
// whether shortening applied.
func (c *FilenameCodec) Encode(name string, parent DirId) (longName, hostName string, shortened bool, err error) {
	if err = c.validateCleartext(name); err != nil {
		return
	}
	cipherName, err := c.cryptor.EncryptName(name, parent)
	if err != nil {
		return "", "", false, newErr(KindInvalidName, "encode", name, err)
	}
	longName = cipherName + longNameSuffix
	if len(longName) <= c.shorteningThreshold {
		return longName, longName, false, nil
	}
	hostName = c.ShortHash(longName)
	return longName, hostName, true, nil
}

// ShortHash computes the .c9s hash-form name for an over-threshold long
// name, grounded on the gocryptfs pack member's HashLongName (SHA-1 then
// base64url), adapted from gocryptfs's flat sidecar-file naming to the
// .c9s wrapper-directory shape spec.md §6 lays out.
func (c *FilenameCodec) ShortHash(longName string) string {
	sum := sha1.Sum([]byte(longName))
	return base64.RawURLEncoding.EncodeToString(sum[:]) + shortNameSuffix
}

// Decode reverses Encode given the canonical long name (read either
// directly from a directory listing or from a name.c9s sidecar).
func (c *FilenameCodec) Decode(longName string, parent DirId) (string, error) {
	if !strings.HasSuffix(longName, longNameSuffix) {
		return "", newErr(KindCorruptedDirectory, "decode", longName, nil)
	}
	cipherName := strings.TrimSuffix(longName, longNameSuffix)
	name, err := c.cryptor.DecryptName(cipherName, parent)
	if err != nil {
		return "", newErr(KindCorruptedFile, "decode", longName, err)
	}
	return name, nil
}

// writeNameSidecar persists the full encrypted name inside a .c9s wrapper
// directory so a later listing (which only sees the short hash name) can
// recover it, per spec.md §4.1's sidecar requirement.
func writeNameSidecar(fs absfs.FileSystem, wrapperPath, longName string) error {
	f, err := fs.Create(path.Join(wrapperPath, nameSidecarFile))
	if err != nil {
		return wrapHostErr("writeNameSidecar", wrapperPath, err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(longName)); err != nil {
		return wrapHostErr("writeNameSidecar", wrapperPath, err)
	}
	return nil
}

func readNameSidecar(fs absfs.FileSystem, wrapperPath string) (string, error) {
	f, err := fs.Open(path.Join(wrapperPath, nameSidecarFile))
	if err != nil {
		return "", wrapHostErr("readNameSidecar", wrapperPath, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", wrapHostErr("readNameSidecar", wrapperPath, err)
	}
	return string(data), nil
}

package cryptovfs

import (
	"bytes"
	"testing"
)

func testMasterKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestCryptorHeaderRoundTrip(t *testing.T) {
	for _, suite := range []CipherSuite{CipherAES256GCM, CipherChaCha20Poly1305} {
		c, err := NewCryptor(suite, testMasterKey(), DefaultChunkSize)
		if err != nil {
			t.Fatalf("%v: NewCryptor: %v", suite, err)
		}
		h, err := c.NewFileHeader()
		if err != nil {
			t.Fatalf("%v: NewFileHeader: %v", suite, err)
		}
		packed, err := c.PackHeader(h)
		if err != nil {
			t.Fatalf("%v: PackHeader: %v", suite, err)
		}
		if len(packed) != c.HeaderSize() {
			t.Fatalf("%v: packed header is %d bytes, want %d", suite, len(packed), c.HeaderSize())
		}
		unpacked, err := c.UnpackHeader(packed)
		if err != nil {
			t.Fatalf("%v: UnpackHeader: %v", suite, err)
		}
		if !bytes.Equal(unpacked.ContentKey, h.ContentKey) {
			t.Errorf("%v: content key mismatch after round trip", suite)
		}
	}
}

func TestCryptorUnpackHeaderRejectsTamperedBytes(t *testing.T) {
	c, err := NewCryptor(CipherAES256GCM, testMasterKey(), DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := c.NewFileHeader()
	packed, _ := c.PackHeader(h)
	packed[len(packed)-1] ^= 0xFF
	if _, err := c.UnpackHeader(packed); err == nil {
		t.Fatal("expected authentication failure on tampered header")
	}
}

func TestCryptorChunkRoundTrip(t *testing.T) {
	c, err := NewCryptor(CipherChaCha20Poly1305, testMasterKey(), 1024)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := c.NewFileHeader()
	plaintext := bytes.Repeat([]byte("cryptovfs"), 50)

	ciphertext, err := c.EncryptChunk(h, 3, plaintext)
	if err != nil {
		t.Fatalf("EncryptChunk: %v", err)
	}
	decrypted, err := c.DecryptChunk(h, 3, ciphertext)
	if err != nil {
		t.Fatalf("DecryptChunk: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("decrypted chunk does not match original plaintext")
	}
}

func TestCryptorChunkAuthenticatesIndex(t *testing.T) {
	c, err := NewCryptor(CipherAES256GCM, testMasterKey(), 1024)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := c.NewFileHeader()
	ciphertext, _ := c.EncryptChunk(h, 0, []byte("hello"))
	if _, err := c.DecryptChunk(h, 1, ciphertext); err == nil {
		t.Fatal("decrypting a chunk at the wrong index should fail authentication")
	}
}

func TestCryptorEncryptNameIsDeterministic(t *testing.T) {
	c, err := NewCryptor(CipherAES256GCM, testMasterKey(), DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	a, err := c.EncryptName("report.pdf", DirId("parent-1"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.EncryptName("report.pdf", DirId("parent-1"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("EncryptName should be deterministic for the same (name, parent)")
	}

	c2, err := c.EncryptName("report.pdf", DirId("parent-2"))
	if err != nil {
		t.Fatal(err)
	}
	if a == c2 {
		t.Error("EncryptName should differ across parents for the same name")
	}

	decoded, err := c.DecryptName(a, DirId("parent-1"))
	if err != nil {
		t.Fatal(err)
	}
	if decoded != "report.pdf" {
		t.Errorf("DecryptName = %q, want %q", decoded, "report.pdf")
	}
}

func TestCryptorDecryptNameWrongParentFails(t *testing.T) {
	c, err := NewCryptor(CipherAES256GCM, testMasterKey(), DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	name, _ := c.EncryptName("x", DirId("a"))
	if _, err := c.DecryptName(name, DirId("b")); err == nil {
		t.Fatal("decrypting a name under the wrong parent DirId should fail")
	}
}

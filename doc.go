// Package cryptovfs implements an encrypting virtual filesystem core over
// the AbsFs filesystem abstraction: cleartext paths and file contents on
// one side, an obfuscated ciphertext tree on the backing filesystem on the
// other.
//
// # Overview
//
// cryptovfs implements absfs.FileSystem, allowing it to wrap any
// AbsFs-compatible backing filesystem. Every file body is split into
// fixed-size chunks, each independently authenticated; every path
// component is encrypted deterministically so identical cleartext names
// under the same parent always produce the same ciphertext name, without
// leaking directory structure across renames.
//
// # Supported Cipher Suites
//
//   - AES-256-GCM
//   - ChaCha20-Poly1305
//
// Filenames are always encrypted with AES-SIV regardless of the configured
// chunk cipher, since SIV's deterministic, misuse-resistant construction is
// what makes path lookup possible without maintaining a separate index.
//
// # Basic Usage
//
//	base, _ := memfs.NewFS()
//	cfg := &cryptovfs.Config{
//	    Cipher: cryptovfs.CipherAES256GCM,
//	    Masterkey: cryptovfs.NewPasswordMasterkeyLoader(
//	        []byte("correct horse battery staple"), salt, cryptovfs.Argon2idParams{},
//	    ),
//	}
//	vfs, err := cryptovfs.New(base, "/vault", cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer vfs.Close()
//
//	f, _ := vfs.Create("/secret.txt")
//	f.WriteString("this is encrypted at rest")
//	f.Close()
//
// # On-Disk Layout
//
// Every directory is addressed by an opaque DirId rather than by its
// cleartext path: the vault root directory has the fixed DirId "", and its
// content lives at d/<hash("")>/. A directory's parent holds only a marker
// entry naming it (an encrypted-name .c9r directory containing dir.c9r, or
// a hash-named .c9s wrapper for names too long to store directly), so
// renaming or moving a directory never touches its content.
//
// # Key Derivation
//
// The vault masterkey is loaded once via a MasterkeyLoader — a static key,
// a password run through Argon2id or PBKDF2, or a FallbackMasterkeyLoader
// trying several in turn during key rotation. HKDF-SHA256 then derives an
// independent header-encryption key and filename-encryption key from it, so
// compromising one derived key does not expose the masterkey or the other.
package cryptovfs

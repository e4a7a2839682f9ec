package cryptovfs

import (
	"errors"
	"runtime"
)

// CipherSuite selects the AEAD used for both file headers and chunk bodies.
type CipherSuite uint8

const (
	// CipherAES256GCM uses AES-256 with Galois/Counter Mode.
	CipherAES256GCM CipherSuite = iota
	// CipherChaCha20Poly1305 uses the ChaCha20 stream cipher with Poly1305.
	CipherChaCha20Poly1305
)

func (c CipherSuite) String() string {
	switch c {
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// Chunk and name-shortening defaults, following spec.md §4.1/§4.4/§6.
const (
	DefaultChunkSize             = 64 * 1024
	DefaultShorteningThreshold   = 220
	DefaultMaxCleartextNameLen   = 255
	DefaultChunkCacheSize        = 5
	DefaultVaultConfigFilename   = "vault.cryptovfs"
	minChunkSize                 = 16
	maxChunkSize                 = 16 * 1024 * 1024
)

// ParallelConfig tunes parallel chunk encryption and write-back in
// ChunkCache.Flush. Below MinChunksForParallel dirty chunks, Flush writes
// them back sequentially. Chunk decryption is always sequential.
type ParallelConfig struct {
	Enabled              bool
	MaxWorkers           int
	MinChunksForParallel int
}

// Validate checks the parallel configuration for internally consistent
// bounds; it does not require Enabled.
func (p ParallelConfig) Validate() error {
	if p.MaxWorkers < 0 {
		return errors.New("cryptovfs: parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("cryptovfs: parallel max workers must not exceed 1024")
	}
	if p.MinChunksForParallel < 0 {
		return errors.New("cryptovfs: parallel min-chunks threshold cannot be negative")
	}
	return nil
}

// DefaultParallelConfig mirrors the teacher's own defaults: one worker per
// CPU, parallelism only kicking in at four or more dirty chunks.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:              true,
		MaxWorkers:           runtime.NumCPU(),
		MinChunksForParallel: 4,
	}
}

// MasterkeyLoader is the injected capability spec.md §1 calls out as an
// external collaborator: something that can produce the vault masterkey.
// cryptovfs never persists a masterkey itself; loaders own that.
type MasterkeyLoader interface {
	LoadMasterkey() ([]byte, error)
}

// Config configures a CryptoFileSystem. Zero-value fields are filled with
// the defaults documented on each field by Validate, following the
// teacher's own types.go/Config convention of an explicit Validate method
// rather than functional options.
type Config struct {
	// Masterkey supplies the vault's masterkey. Required.
	Masterkey MasterkeyLoader

	// Cipher selects the AEAD used for headers and chunk bodies.
	Cipher CipherSuite

	// ChunkSize is the cleartext chunk size in bytes. Defaults to 64 KiB.
	ChunkSize int

	// ChunkCacheSize is the number of decrypted chunks held per open file.
	// Defaults to 5, per spec.md §4.4.
	ChunkCacheSize int

	// ShorteningThreshold is the max encrypted-name length (including the
	// .c9r suffix) before the filename codec substitutes a hashed short
	// form. Defaults to 220.
	ShorteningThreshold int

	// MaxCleartextNameLength caps cleartext filenames. Defaults to 255.
	MaxCleartextNameLength int

	// DirIdCacheSize bounds the path→DirId cache. Defaults to 512 entries.
	DirIdCacheSize int

	// Readonly disables all mutating operations; they fail with
	// KindReadOnly.
	Readonly bool

	// VaultConfigFilename names the vault config file. Validate fills in
	// the default, but no component reads or writes a vault config file.
	VaultConfigFilename string

	// Parallel tunes parallel chunk I/O for bulk operations.
	Parallel ParallelConfig
}

// Validate fills in defaults and rejects nonsensical combinations, in the
// style of the teacher's Config.Validate.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("cryptovfs: config cannot be nil")
	}
	if c.Masterkey == nil {
		return errors.New("cryptovfs: masterkey loader cannot be nil")
	}
	if c.Cipher != CipherAES256GCM && c.Cipher != CipherChaCha20Poly1305 {
		return errors.New("cryptovfs: unsupported cipher suite")
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkSize < minChunkSize || c.ChunkSize > maxChunkSize {
		return errors.New("cryptovfs: chunk size out of range")
	}
	if c.ChunkCacheSize == 0 {
		c.ChunkCacheSize = DefaultChunkCacheSize
	}
	if c.ChunkCacheSize < 1 {
		return errors.New("cryptovfs: chunk cache size must be at least 1")
	}
	if c.ShorteningThreshold == 0 {
		c.ShorteningThreshold = DefaultShorteningThreshold
	}
	if c.MaxCleartextNameLength == 0 {
		c.MaxCleartextNameLength = DefaultMaxCleartextNameLen
	}
	if c.DirIdCacheSize == 0 {
		c.DirIdCacheSize = 512
	}
	if c.VaultConfigFilename == "" {
		c.VaultConfigFilename = DefaultVaultConfigFilename
	}
	if err := c.Parallel.Validate(); err != nil {
		return err
	}
	return nil
}

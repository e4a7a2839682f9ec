package cryptovfs

import (
	"errors"
	"fmt"
	"os"
)

// Kind classifies a cryptovfs error the way callers actually branch on it —
// by what went wrong, not by which Go type reported it.
type Kind uint8

const (
	KindOther Kind = iota
	KindNotFound
	KindAlreadyExists
	KindNotADirectory
	KindIsADirectory
	KindNotEmpty
	KindInvalidName
	KindCorruptedFile
	KindCorruptedDirectory
	KindReadOnly
	KindHostIO
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindAlreadyExists:
		return "already-exists"
	case KindNotADirectory:
		return "not-a-directory"
	case KindIsADirectory:
		return "is-a-directory"
	case KindNotEmpty:
		return "not-empty"
	case KindInvalidName:
		return "invalid-name"
	case KindCorruptedFile:
		return "corrupted-file"
	case KindCorruptedDirectory:
		return "corrupted-directory"
	case KindReadOnly:
		return "read-only-filesystem"
	case KindHostIO:
		return "host-io"
	default:
		return "other"
	}
}

// Error is the single structured error type cryptovfs returns. Every
// operation that fails for a reason the caller might branch on returns one
// of these; unexpected host errors are wrapped with KindHostIO rather than
// passed through bare.
type Error struct {
	KindV Kind
	Op    string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Err != nil {
			return fmt.Sprintf("cryptovfs: %s %s: %s: %v", e.Op, e.Path, e.KindV, e.Err)
		}
		return fmt.Sprintf("cryptovfs: %s %s: %s", e.Op, e.Path, e.KindV)
	}
	if e.Err != nil {
		return fmt.Sprintf("cryptovfs: %s: %s: %v", e.Op, e.KindV, e.Err)
	}
	return fmt.Sprintf("cryptovfs: %s: %s", e.Op, e.KindV)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Kind() Kind { return e.KindV }

func newErr(kind Kind, op, path string, err error) *Error {
	return &Error{KindV: kind, Op: op, Path: path, Err: err}
}

// IsKind reports whether err (or something it wraps) is a *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.KindV == kind
	}
	return false
}

// wrapHostErr classifies a raw error from the backing filesystem into the
// closest cryptovfs Kind. Host errors that already carry os.IsNotExist /
// os.IsExist semantics are preserved as such; anything else passes through
// as host-io, per spec.md §7's "pass-through of backing filesystem errors".
func wrapHostErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var cvErr *Error
	if errors.As(err, &cvErr) {
		return err
	}
	switch {
	case os.IsNotExist(err):
		return newErr(KindNotFound, op, path, err)
	case os.IsExist(err):
		return newErr(KindAlreadyExists, op, path, err)
	default:
		return newErr(KindHostIO, op, path, err)
	}
}

// Sentinel errors surfaced by the crypto layer; these are not path-scoped so
// they don't carry a *Error wrapper, mirroring the teacher's own top-level
// sentinels in errors.go.
var (
	ErrAuthFailed        = errors.New("cryptovfs: authentication failed, ciphertext may be corrupted or tampered")
	ErrInvalidCiphertext = errors.New("cryptovfs: invalid ciphertext")
	ErrCorrupted         = errors.New("cryptovfs: corrupted ciphertext framing")
)

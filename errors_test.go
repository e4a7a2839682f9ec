package cryptovfs

import (
	"errors"
	"os"
	"testing"
)

func TestIsKind(t *testing.T) {
	err := newErr(KindNotFound, "stat", "/foo", nil)
	if !IsKind(err, KindNotFound) {
		t.Error("IsKind should match the error's own kind")
	}
	if IsKind(err, KindAlreadyExists) {
		t.Error("IsKind should not match a different kind")
	}
	if IsKind(errors.New("plain"), KindNotFound) {
		t.Error("IsKind should not match a non-*Error")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := newErr(KindHostIO, "read", "/foo", inner)
	if !errors.Is(err, inner) {
		t.Error("errors.Is should see through Unwrap to the inner error")
	}
}

func TestWrapHostErrClassifiesNotExist(t *testing.T) {
	err := wrapHostErr("open", "/missing", os.ErrNotExist)
	if !IsKind(err, KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestWrapHostErrPassesThroughExistingError(t *testing.T) {
	original := newErr(KindReadOnly, "write", "/x", nil)
	if wrapHostErr("write", "/x", original) != original {
		t.Error("wrapHostErr should not rewrap an existing *Error")
	}
}

func TestWrapHostErrNil(t *testing.T) {
	if wrapHostErr("open", "/x", nil) != nil {
		t.Error("wrapHostErr(nil) should return nil")
	}
}

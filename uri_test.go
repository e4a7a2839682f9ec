package cryptovfs

import "testing"

func TestParseVaultURISchemeForm(t *testing.T) {
	root, err := ParseVaultURI("cryptovfs:///vaults/personal")
	if err != nil {
		t.Fatal(err)
	}
	if root != "/vaults/personal" {
		t.Errorf("root = %q, want %q", root, "/vaults/personal")
	}
}

func TestParseVaultURIPlainPath(t *testing.T) {
	root, err := ParseVaultURI("/vaults/personal")
	if err != nil {
		t.Fatal(err)
	}
	if root != "/vaults/personal" {
		t.Errorf("root = %q, want %q", root, "/vaults/personal")
	}
}

func TestParseVaultURIRejectsWrongScheme(t *testing.T) {
	if _, err := ParseVaultURI("s3://bucket/vault"); err == nil {
		t.Fatal("expected an error for an unsupported scheme")
	}
}

func TestParseVaultURIRejectsEmpty(t *testing.T) {
	if _, err := ParseVaultURI(""); err == nil {
		t.Fatal("expected an error for an empty URI")
	}
}

package cryptovfs

import "net/url"

// ParseVaultURI extracts the root directory a vault URI names. A vault URI
// is a plain "cryptovfs://" scheme wrapping an opaque path on the backing
// filesystem, following the pattern of Cryptomator's own vault: URIs
// without pulling in a dedicated URI-scheme library the retrieval pack
// never provides one for.
func ParseVaultURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", newErr(KindInvalidName, "parseVaultURI", uri, err)
	}
	if u.Scheme != "" && u.Scheme != "cryptovfs" {
		return "", newErr(KindInvalidName, "parseVaultURI", uri, nil)
	}
	root := u.Path
	if root == "" {
		root = u.Opaque
	}
	if root == "" {
		return "", newErr(KindInvalidName, "parseVaultURI", uri, nil)
	}
	return root, nil
}

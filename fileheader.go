package cryptovfs

import "crypto/rand"

const contentKeySize = 32

// FileHeader is the small per-file secret spec.md §3/§4.5 calls out: a
// random content key, itself protected by the vault masterkey, so that
// every file gets an independent key even though there is one masterkey
// for the whole vault. Living with the OpenCryptoFile, it never touches
// disk in cleartext form — only PackHeader's sealed bytes do.
type FileHeader struct {
	Nonce      []byte
	ContentKey []byte
}

func randomContentKey() ([]byte, error) {
	key := make([]byte, contentKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

package crypto

import (
	"crypto/rand"
	"encoding/hex"
)

// nonceBytes gives 128 bits of entropy per nonce.
const nonceBytes = 16

// NewNonce returns a fresh random hex nonce.
func NewNonce() (string, error) {
	var b [nonceBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"offpay/internal/crypto"
)

// sealedFormatVersion is the newest envelope layout this build can open.
const sealedFormatVersion = 1

// ErrWrongPassphrase is returned when a sealed blob fails authentication:
// the passphrase is wrong or the bytes were modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")

// sealed is the JSON envelope around passphrase-encrypted bytes.
type sealed struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// KDFParams are the scrypt cost parameters used when sealing.
type KDFParams struct {
	N, R, P int
}

// DefaultKDF is the interactive-login scrypt cost.
func DefaultKDF() KDFParams { return KDFParams{N: 1 << 15, R: 8, P: 1} }

// seal derives a key from passphrase under a fresh salt and encrypts raw.
// The key is unique per salt, so a zero nonce is safe; the salt is bound as
// associated data.
func seal(passphrase string, raw []byte, kdf KDFParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	aead, err := deriveAEAD(passphrase, salt[:], kdf)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	return json.Marshal(sealed{
		V:      sealedFormatVersion,
		Salt:   salt[:],
		N:      kdf.N,
		R:      kdf.R,
		P:      kdf.P,
		Cipher: aead.Seal(nil, nonce[:], raw, salt[:]),
	})
}

// unseal opens an envelope produced by seal.
func unseal(passphrase string, b []byte) ([]byte, error) {
	var env sealed
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode sealed blob: %w", err)
	}
	if env.V > sealedFormatVersion {
		return nil, fmt.Errorf("unsupported sealed blob version %d", env.V)
	}
	aead, err := deriveAEAD(passphrase, env.Salt, KDFParams{N: env.N, R: env.R, P: env.P})
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func deriveAEAD(passphrase string, salt []byte, kdf KDFParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, kdf.N, kdf.R, kdf.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer crypto.Wipe(key)
	return chacha20poly1305.New(key)
}

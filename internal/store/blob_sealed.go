package store

import (
	"context"
	"fmt"

	"offpay/internal/domain"
)

// SealedBlobStore encrypts values with a passphrase before handing them to
// the wrapped store. Each write uses a fresh salt.
type SealedBlobStore struct {
	inner      domain.BlobStore
	passphrase string
	kdf        KDFParams
}

// NewSealedBlobStore wraps inner. A zero kdf takes DefaultKDF.
func NewSealedBlobStore(inner domain.BlobStore, passphrase string, kdf KDFParams) *SealedBlobStore {
	if kdf.N == 0 {
		kdf = DefaultKDF()
	}
	return &SealedBlobStore{inner: inner, passphrase: passphrase, kdf: kdf}
}

func (s *SealedBlobStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	b, err := s.inner.GetBlob(ctx, key)
	if err != nil || b == nil {
		return b, err
	}
	pt, err := unseal(s.passphrase, b)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return pt, nil
}

func (s *SealedBlobStore) SetBlob(ctx context.Context, key string, value []byte) error {
	ct, err := seal(s.passphrase, value, s.kdf)
	if err != nil {
		return fmt.Errorf("seal blob %s: %w", key, err)
	}
	return s.inner.SetBlob(ctx, key, ct)
}

// Close closes the wrapped store when it has a Close method.
func (s *SealedBlobStore) Close() error {
	if c, ok := s.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var _ domain.BlobStore = (*SealedBlobStore)(nil)

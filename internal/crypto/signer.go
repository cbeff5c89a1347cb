package crypto

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"offpay/internal/domain"
)

// ErrUnknownKey is returned when no identity is loaded for a key id.
var ErrUnknownKey = errors.New("unknown signing key")

// Approver is consulted before every signature; returning an error refuses
// the signature (for example a cancelled confirmation prompt).
type Approver func(ctx context.Context, keyID domain.KeyID, payload []byte) error

// Signer signs with identities held in memory.
type Signer struct {
	mu      sync.RWMutex
	keys    map[domain.KeyID]domain.Ed25519Private
	pubs    map[domain.KeyID]domain.Ed25519Public
	approve Approver
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithApprover installs an approval hook.
func WithApprover(a Approver) SignerOption {
	return func(s *Signer) { s.approve = a }
}

// NewSigner returns a Signer holding the given identities.
func NewSigner(ids []domain.Identity, opts ...SignerOption) *Signer {
	s := &Signer{
		keys: make(map[domain.KeyID]domain.Ed25519Private, len(ids)),
		pubs: make(map[domain.KeyID]domain.Ed25519Public, len(ids)),
	}
	for _, id := range ids {
		s.keys[id.KeyID()] = id.EdPriv
		s.pubs[id.KeyID()] = id.EdPub
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign signs payload with the key named keyID.
func (s *Signer) Sign(ctx context.Context, keyID domain.KeyID, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	priv, ok := s.keys[keyID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	if s.approve != nil {
		if err := s.approve(ctx, keyID, payload); err != nil {
			return nil, err
		}
	}
	return SignEd25519(priv, payload), nil
}

// Verify reports whether sig is a valid signature of payload under pub.
func (s *Signer) Verify(pub domain.Ed25519Public, payload, sig []byte) bool {
	return VerifyEd25519(pub, payload, sig)
}

// PublicKey returns the public half of keyID.
func (s *Signer) PublicKey(keyID domain.KeyID) (domain.Ed25519Public, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.pubs[keyID]
	if !ok {
		return domain.Ed25519Public{}, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	return pub, nil
}

// Close wipes all private keys.
func (s *Signer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, k := range s.keys {
		Wipe(k[:])
		delete(s.keys, id)
	}
}

var _ domain.Signer = (*Signer)(nil)

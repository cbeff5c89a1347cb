package crypto_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offpay/internal/crypto"
	"offpay/internal/domain"
)

func newIdentity(t *testing.T, device domain.DeviceID) domain.Identity {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return domain.Identity{DeviceID: device, EdPriv: priv, EdPub: pub}
}

func TestSigner_SignVerify(t *testing.T) {
	id := newIdentity(t, "alice")
	s := crypto.NewSigner([]domain.Identity{id})

	sig, err := s.Sign(context.Background(), id.KeyID(), []byte("payload"))
	require.NoError(t, err)
	assert.True(t, s.Verify(id.EdPub, []byte("payload"), sig))
	assert.False(t, s.Verify(id.EdPub, []byte("tampered"), sig))
	assert.False(t, s.Verify(id.EdPub, []byte("payload"), sig[:10]))

	pub, err := s.PublicKey(id.KeyID())
	require.NoError(t, err)
	assert.Equal(t, id.EdPub, pub)
}

func TestSigner_UnknownKeyAndRefusal(t *testing.T) {
	id := newIdentity(t, "alice")
	refused := errors.New("prompt cancelled")
	s := crypto.NewSigner([]domain.Identity{id}, crypto.WithApprover(
		func(context.Context, domain.KeyID, []byte) error { return refused },
	))

	_, err := s.Sign(context.Background(), "bob", []byte("x"))
	assert.ErrorIs(t, err, crypto.ErrUnknownKey)

	_, err = s.Sign(context.Background(), id.KeyID(), []byte("x"))
	assert.ErrorIs(t, err, refused)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sign(ctx, id.KeyID(), []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewNonce_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		n, err := crypto.NewNonce()
		require.NoError(t, err)
		require.Len(t, n, 32)
		require.False(t, seen[n])
		seen[n] = true
	}
}

func TestFingerprint(t *testing.T) {
	fp := crypto.Fingerprint(domain.Ed25519Public{1})
	assert.Len(t, fp.String(), 20)
	assert.NotEqual(t, fp, crypto.Fingerprint(domain.Ed25519Public{2}))
}

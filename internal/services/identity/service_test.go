package identity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offpay/internal/crypto"
	"offpay/internal/domain"
	"offpay/internal/services/identity"
	"offpay/internal/store"
)

const pass = "Correct-Horse-9"

func newService(t *testing.T) *identity.Service {
	t.Helper()
	st := store.NewIdentityFileStore(t.TempDir()).WithKDF(store.KDFParams{N: 1 << 10, R: 8, P: 1})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return identity.New(st, identity.WithClock(func() time.Time { return now }))
}

func TestGenerateAndLoad(t *testing.T) {
	svc := newService(t)

	id, fp, err := svc.GenerateIdentity(pass, " alice ", "Alice")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceID("alice"), id.DeviceID)
	assert.Equal(t, "Alice", id.Name)
	assert.False(t, id.EdPub.IsZero())
	assert.Equal(t, crypto.Fingerprint(id.EdPub), fp)

	loaded, err := svc.LoadIdentity(pass)
	require.NoError(t, err)
	assert.Equal(t, id, loaded)

	got, err := svc.FingerprintIdentity(pass)
	require.NoError(t, err)
	assert.Equal(t, fp, got)

	peer := identity.PublicPeer(loaded)
	assert.Equal(t, id.EdPub, peer.PublicKey)
	assert.Equal(t, domain.DeviceID("alice"), peer.DeviceID)
}

func TestGenerateAssignsDeviceID(t *testing.T) {
	id, _, err := newService(t).GenerateIdentity(pass, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id.DeviceID)
}

func TestGenerateRefusesOverwrite(t *testing.T) {
	svc := newService(t)
	_, _, err := svc.GenerateIdentity(pass, "alice", "")
	require.NoError(t, err)

	_, _, err = svc.GenerateIdentity(pass, "alice", "")
	assert.ErrorIs(t, err, identity.ErrIdentityExists)
	_, _, err = svc.GenerateIdentity("Other-Secret-42", "alice", "")
	assert.ErrorIs(t, err, identity.ErrIdentityExists)
}

func TestWeakPassphrase(t *testing.T) {
	for _, p := range []string{"short", "alllowercase123!", "NoDigitsHere!!", "NoSymbols12345"} {
		_, _, err := newService(t).GenerateIdentity(p, "alice", "")
		assert.ErrorIs(t, err, identity.ErrWeakPassphrase, p)
	}
}

func TestLoadErrors(t *testing.T) {
	svc := newService(t)
	_, err := svc.LoadIdentity(pass)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = svc.GenerateIdentity(pass, "alice", "")
	require.NoError(t, err)
	_, err = svc.FingerprintIdentity("Wrong-Passphrase-1")
	assert.ErrorIs(t, err, store.ErrWrongPassphrase)
}

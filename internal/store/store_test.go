package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offpay/internal/crypto"
	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/services/queue"
	"offpay/internal/store"
)

// fastKDF keeps scrypt cheap in tests.
var fastKDF = store.KDFParams{N: 1 << 10, R: 8, P: 1}

func TestIdentity_SaveLoad(t *testing.T) {
	home := t.TempDir()
	ids := store.NewIdentityFileStore(home).WithKDF(fastKDF)

	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	id := domain.Identity{DeviceID: "alice", Name: "Alice", EdPub: pub, EdPriv: priv}

	require.NoError(t, ids.SaveIdentity("pass", id))

	got, err := ids.LoadIdentity("pass")
	require.NoError(t, err)
	assert.Equal(t, id.DeviceID, got.DeviceID)
	assert.Equal(t, id.EdPub, got.EdPub)
	assert.Equal(t, id.EdPriv, got.EdPriv)

	info, err := os.Stat(filepath.Join(home, "identity.json.enc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestIdentity_Errors(t *testing.T) {
	ids := store.NewIdentityFileStore(t.TempDir()).WithKDF(fastKDF)

	_, err := ids.LoadIdentity("pass")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, ids.SaveIdentity("correct", domain.Identity{DeviceID: "alice"}))
	_, err = ids.LoadIdentity("wrong")
	assert.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestPeerStore(t *testing.T) {
	peers := store.NewPeerFileStore(t.TempDir())

	_, ok, err := peers.LoadPeer("bob")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, peers.SavePeer(domain.Peer{DeviceID: "carol", PublicKey: domain.Ed25519Public{2}}))
	require.NoError(t, peers.SavePeer(domain.Peer{DeviceID: "bob", PublicKey: domain.Ed25519Public{1}}))
	require.NoError(t, peers.SavePeer(domain.Peer{DeviceID: "bob", Name: "Bob", PublicKey: domain.Ed25519Public{3}}))

	bob, ok, err := peers.LoadPeer("bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bob", bob.Name)
	assert.Equal(t, domain.Ed25519Public{3}, bob.PublicKey)

	list, err := peers.ListPeers()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.DeviceID("bob"), list[0].DeviceID)
	assert.Equal(t, domain.DeviceID("carol"), list[1].DeviceID)
}

// drivers returns every BlobStore that runs without external services.
func drivers(t *testing.T) map[string]store.BlobStore {
	t.Helper()
	ctx := context.Background()
	out := map[string]store.BlobStore{
		"memory": store.NewMemoryBlobStore(),
		"file":   store.NewFileBlobStore(filepath.Join(t.TempDir(), "data")),
		"sealed": store.NewSealedBlobStore(store.NewMemoryBlobStore(), "pw", fastKDF),
	}
	sqlStore, err := store.OpenSQLBlobStore(ctx, "sqlite", filepath.Join(t.TempDir(), "offpay.db"))
	require.NoError(t, err)
	out["sqlite"] = sqlStore

	if addr := os.Getenv("OFFPAY_TEST_REDIS_ADDR"); addr != "" {
		rs, err := store.OpenRedisBlobStore(ctx, store.RedisConfig{
			Addr:   addr,
			Prefix: "offpay-test:" + time.Now().Format("150405.000000") + ":",
		})
		require.NoError(t, err)
		out["redis"] = rs
	}
	for _, bs := range out {
		t.Cleanup(func() { _ = bs.Close() })
	}
	return out
}

func TestBlobStores_GetSet(t *testing.T) {
	for name, bs := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := bs.GetBlob(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, bs.SetBlob(ctx, "k1", []byte("first")))
			require.NoError(t, bs.SetBlob(ctx, "k1", []byte("second")))
			require.NoError(t, bs.SetBlob(ctx, "k2", []byte{0, 1, 2}))

			got, err = bs.GetBlob(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, "second", string(got))

			got, err = bs.GetBlob(ctx, "k2")
			require.NoError(t, err)
			assert.Equal(t, []byte{0, 1, 2}, got)
		})
	}
}

func TestBlobStores_QueueRoundTrip(t *testing.T) {
	for name, bs := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := queue.New(bs)
			require.NoError(t, q.Load(ctx))
			tx := domain.OfflineTransaction{
				ID: "tx-1", Type: domaintypes.DirectionReceived, Amount: 4200, Currency: "USD",
				CounterpartDeviceID: "bob", Timestamp: time.Now().UTC().Truncate(time.Millisecond),
				Status: domaintypes.TxConfirmed, Nonce: "n-1",
				Balance: domain.BalanceSnapshot{Before: 0, After: 4200},
			}
			require.NoError(t, q.AddTransaction(ctx, tx))

			reloaded := queue.New(bs)
			require.NoError(t, reloaded.Load(ctx))
			got, ok := reloaded.GetTransaction("tx-1")
			require.True(t, ok)
			assert.Equal(t, tx.Amount, got.Amount)
			assert.Equal(t, tx.Nonce, got.Nonce)
			assert.True(t, tx.Timestamp.Equal(got.Timestamp))
		})
	}
}

func TestFileBlobStore_RejectsUnsafeKeys(t *testing.T) {
	bs := store.NewFileBlobStore(t.TempDir())
	ctx := context.Background()
	for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
		assert.ErrorIs(t, bs.SetBlob(ctx, key, []byte("x")), store.ErrInvalidKey, key)
	}
}

func TestSealedBlobStore_EncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemoryBlobStore()
	sealed := store.NewSealedBlobStore(inner, "pw", fastKDF)

	require.NoError(t, sealed.SetBlob(ctx, "ledger", []byte("plaintext ledger")))
	raw, err := inner.GetBlob(ctx, "ledger")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext ledger")

	_, err = store.NewSealedBlobStore(inner, "other", fastKDF).GetBlob(ctx, "ledger")
	assert.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	home := t.TempDir()

	bs, err := store.Open(ctx, store.Config{Driver: "file"}, home, "")
	require.NoError(t, err)
	require.NoError(t, bs.SetBlob(ctx, "k", []byte("v")))
	_, err = os.Stat(filepath.Join(home, "data", "k.blob"))
	assert.NoError(t, err)

	_, err = store.Open(ctx, store.Config{Driver: "memory", Encrypt: true}, home, "")
	assert.Error(t, err)

	_, err = store.Open(ctx, store.Config{Driver: "tape"}, home, "")
	assert.Error(t, err)
}

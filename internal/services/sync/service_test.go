package sync_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/netstatus"
	"offpay/internal/services/queue"
	syncsvc "offpay/internal/services/sync"
	"offpay/internal/services/validation"
	"offpay/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type submission struct {
	tx   domain.OfflineTransaction
	opts domain.SubmitOptions
}

type fakeBackend struct {
	mu     sync.Mutex
	calls  []submission
	handle func(tx domain.OfflineTransaction, opts domain.SubmitOptions) (domain.SubmitResult, error)
}

func (b *fakeBackend) Submit(
	_ context.Context,
	tx domain.OfflineTransaction,
	opts domain.SubmitOptions,
) (domain.SubmitResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, submission{tx: tx, opts: opts})
	h := b.handle
	b.mu.Unlock()
	if h == nil {
		return domain.SubmitResult{Accepted: true, ServerID: "srv-" + tx.ID}, nil
	}
	return h(tx, opts)
}

func (b *fakeBackend) set(h func(domain.OfflineTransaction, domain.SubmitOptions) (domain.SubmitResult, error)) {
	b.mu.Lock()
	b.handle = h
	b.mu.Unlock()
}

func (b *fakeBackend) submissions() []submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]submission(nil), b.calls...)
}

func entry(id string, amount domain.Amount) domain.OfflineTransaction {
	return domain.OfflineTransaction{
		ID:                  id,
		Type:                domaintypes.DirectionSent,
		Amount:              amount,
		Currency:            "USD",
		CounterpartDeviceID: "bob",
		Timestamp:           t0,
		Status:              domaintypes.TxTransmitted,
		Signatures:          domain.Signatures{Sender: []byte("sig-" + id)},
		SyncStatus:          domaintypes.SyncNotSynced,
		Nonce:               "nonce-" + id,
		Balance:             domain.BalanceSnapshot{Before: 10_000, After: 10_000 - amount},
	}
}

// flakyBlobs fails every write while fail is set.
type flakyBlobs struct {
	*store.MemoryBlobStore
	fail atomic.Bool
}

func (b *flakyBlobs) SetBlob(ctx context.Context, key string, v []byte) error {
	if b.fail.Load() {
		return errors.New("disk full")
	}
	return b.MemoryBlobStore.SetBlob(ctx, key, v)
}

type fixture struct {
	clock   *clock
	blobs   *flakyBlobs
	ledger  *queue.Queue
	backend *fakeBackend
	net     *netstatus.Manual
	svc     *syncsvc.Service
}

func newFixture(t *testing.T, cfg syncsvc.Config, opts ...syncsvc.Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &clock{t: t0},
		backend: &fakeBackend{},
		net:     netstatus.NewManual(true, nil),
		blobs:   &flakyBlobs{MemoryBlobStore: store.NewMemoryBlobStore()},
	}
	f.ledger = queue.New(f.blobs, queue.WithClock(f.clock.Now))
	require.NoError(t, f.ledger.Load(context.Background()))
	rules := validation.New(validation.DefaultConfig(), validation.WithClock(f.clock.Now))
	opts = append([]syncsvc.Option{syncsvc.WithClock(f.clock.Now)}, opts...)
	f.svc = syncsvc.New(cfg, syncsvc.Deps{
		Ledger:  f.ledger,
		Backend: f.backend,
		Network: f.net,
		Rules:   rules,
	}, opts...)
	return f
}

func (f *fixture) add(t *testing.T, txs ...domain.OfflineTransaction) {
	t.Helper()
	for _, tx := range txs {
		require.NoError(t, f.ledger.AddTransaction(context.Background(), tx))
	}
}

func (f *fixture) get(t *testing.T, id string) domain.OfflineTransaction {
	t.Helper()
	tx, ok := f.ledger.GetTransaction(id)
	require.True(t, ok, id)
	return tx
}

func TestSyncNowMarksAccepted(t *testing.T) {
	f := newFixture(t, syncsvc.DefaultConfig())
	f.add(t, entry("a", 100), entry("b", 200))

	res, err := f.svc.SyncNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Synced)
	assert.Zero(t, res.Failed)

	a := f.get(t, "a")
	assert.Equal(t, domaintypes.SyncSynced, a.SyncStatus)
	assert.Equal(t, "srv-a", a.ServerID)
	assert.True(t, a.SyncedAt.Equal(t0))
	assert.Equal(t, 1, a.SyncAttempts)

	st := f.svc.Stats()
	assert.Equal(t, 2, st.Synced)
	assert.False(t, st.InProgress)
	assert.True(t, st.LastSyncTime.Equal(t0))
	assert.True(t, st.NextSyncTime.Equal(t0.Add(time.Minute)))

	res, err = f.svc.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.Len(t, f.backend.submissions(), 2)
}

func TestBatchesCoverEveryEntry(t *testing.T) {
	cfg := syncsvc.DefaultConfig()
	cfg.BatchSize = 3
	f := newFixture(t, cfg)
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		f.add(t, entry("tx"+id, 10))
	}

	res, err := f.svc.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, res.Synced)
	assert.Len(t, f.backend.submissions(), 7)
}

func TestBackendAlwaysFailing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, syncsvc.DefaultConfig())
	f.backend.set(func(domain.OfflineTransaction, domain.SubmitOptions) (domain.SubmitResult, error) {
		return domain.SubmitResult{}, errors.New("backend unavailable")
	})
	f.add(t, entry("a", 100), entry("b", 200), entry("c", 300))

	for cycle := 1; cycle <= 5; cycle++ {
		res, err := f.svc.SyncNow(ctx)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 3, res.Failed, "cycle %d", cycle)
		f.clock.Advance(2 * time.Minute)
	}

	for _, id := range []string{"a", "b", "c"} {
		tx := f.get(t, id)
		assert.Equal(t, domaintypes.SyncFailed, tx.SyncStatus, id)
		assert.Equal(t, 5, tx.SyncAttempts, id)
	}
	assert.Len(t, f.ledger.GetFailedTransactions(), 3)
	assert.Equal(t, 3, f.svc.Stats().Failed)

	res, err := f.svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Len(t, f.backend.submissions(), 15)

	f.backend.set(nil)
	res, err = f.svc.RetryFailedTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Synced)
	for _, id := range []string{"a", "b", "c"} {
		tx := f.get(t, id)
		assert.Equal(t, domaintypes.SyncSynced, tx.SyncStatus)
		assert.Equal(t, 1, tx.SyncAttempts)
	}
}

func TestBackoffDefersRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, syncsvc.DefaultConfig())
	f.backend.set(func(domain.OfflineTransaction, domain.SubmitOptions) (domain.SubmitResult, error) {
		return domain.SubmitResult{}, errors.New("boom")
	})
	f.add(t, entry("a", 100))

	_, err := f.svc.SyncNow(ctx)
	require.NoError(t, err)
	res, err := f.svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, f.backend.submissions(), 1)

	f.clock.Advance(time.Second)
	_, err = f.svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Len(t, f.backend.submissions(), 2)
}

func TestConcurrentSyncRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, syncsvc.DefaultConfig())
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	f.backend.set(func(tx domain.OfflineTransaction, _ domain.SubmitOptions) (domain.SubmitResult, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return domain.SubmitResult{Accepted: true, ServerID: "srv-" + tx.ID}, nil
	})
	f.add(t, entry("a", 100), entry("b", 200))

	done := make(chan domain.SyncResult, 1)
	go func() {
		res, _ := f.svc.SyncNow(ctx)
		done <- res
	}()
	<-entered
	assert.True(t, f.svc.Stats().InProgress)

	before := f.ledger.All()
	res, err := f.svc.SyncNow(ctx)
	require.ErrorIs(t, err, domain.ErrAlreadySyncing)
	assert.False(t, res.Success)
	assert.Equal(t, "Sync already in progress", res.Error)
	assert.Equal(t, before, f.ledger.All())

	_, err = f.svc.RetryFailedTransactions(ctx)
	assert.ErrorIs(t, err, domain.ErrAlreadySyncing)

	close(release)
	first := <-done
	assert.True(t, first.Success)
	assert.Equal(t, 2, first.Synced)
}

func TestOfflineSkipsSync(t *testing.T) {
	f := newFixture(t, syncsvc.DefaultConfig())
	f.net.Set(false)
	f.add(t, entry("a", 100))

	res, err := f.svc.SyncNow(context.Background())
	require.ErrorIs(t, err, syncsvc.ErrOffline)
	assert.False(t, res.Success)
	assert.Equal(t, "offline", res.Error)
	assert.Empty(t, f.backend.submissions())
	assert.Equal(t, domaintypes.SyncNotSynced, f.get(t, "a").SyncStatus)
}

func TestInvalidEntriesAreNotPushed(t *testing.T) {
	f := newFixture(t, syncsvc.DefaultConfig())
	bad := entry("bad", 100)
	bad.Balance.After = 1
	f.add(t, bad, entry("good", 100))

	res, err := f.svc.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, domaintypes.SyncNotSynced, f.get(t, "bad").SyncStatus)
	require.Len(t, f.backend.submissions(), 1)
	assert.Equal(t, "good", f.backend.submissions()[0].tx.ID)
}

// conflictOnce reports a conflict for unforced submissions and accepts
// forced ones.
func conflictOnce(server *domain.OfflineTransaction) func(domain.OfflineTransaction, domain.SubmitOptions) (domain.SubmitResult, error) {
	return func(tx domain.OfflineTransaction, opts domain.SubmitOptions) (domain.SubmitResult, error) {
		if opts.Force {
			return domain.SubmitResult{Accepted: true, ServerID: "srv-forced"}, nil
		}
		return domain.SubmitResult{Conflict: true, ServerVersion: server}, nil
	}
}

func TestConflictDefaultsToServerVersion(t *testing.T) {
	f := newFixture(t, syncsvc.DefaultConfig())
	server := entry("a", 150)
	server.ServerID = "srv-a"
	server.Signatures.Receiver = []byte("bob-sig")
	f.backend.set(conflictOnce(&server))
	f.add(t, entry("a", 100))

	res, err := f.svc.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 1, res.Synced)

	a := f.get(t, "a")
	assert.Equal(t, domaintypes.SyncSynced, a.SyncStatus)
	assert.Equal(t, domain.Amount(150), a.Amount)
	assert.Equal(t, "srv-a", a.ServerID)
	assert.Equal(t, []byte("bob-sig"), a.Signatures.Receiver)
	assert.Equal(t, domain.Amount(10_000), a.Balance.Before)
	assert.Equal(t, domain.Amount(9_850), a.Balance.After)
	assert.Len(t, f.backend.submissions(), 1)
}

func TestConflictResolverUseLocal(t *testing.T) {
	var seen *domain.OfflineTransaction
	f := newFixture(t, syncsvc.DefaultConfig(), syncsvc.WithResolver(
		func(local domain.OfflineTransaction, server *domain.OfflineTransaction) domain.ConflictPolicy {
			seen = server
			return domaintypes.PolicyUseLocal
		}))
	server := entry("a", 150)
	f.backend.set(conflictOnce(&server))
	f.add(t, entry("a", 100))

	_, err := f.svc.SyncNow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, seen)

	a := f.get(t, "a")
	assert.Equal(t, domaintypes.SyncSynced, a.SyncStatus)
	assert.Equal(t, domain.Amount(100), a.Amount)
	assert.Equal(t, "srv-forced", a.ServerID)
	subs := f.backend.submissions()
	require.Len(t, subs, 2)
	assert.False(t, subs[0].opts.Force)
	assert.True(t, subs[1].opts.Force)
	assert.Equal(t, domain.Amount(100), subs[1].tx.Amount)
}

func TestConflictMerge(t *testing.T) {
	cfg := syncsvc.DefaultConfig()
	cfg.Policy = domaintypes.PolicyMerge
	f := newFixture(t, cfg)
	server := entry("a", 150)
	server.Nonce = "server-nonce"
	server.Signatures.Receiver = []byte("bob-sig")
	f.backend.set(conflictOnce(&server))
	f.add(t, entry("a", 100))

	_, err := f.svc.SyncNow(context.Background())
	require.NoError(t, err)

	subs := f.backend.submissions()
	require.Len(t, subs, 2)
	forced := subs[1].tx
	assert.Equal(t, domain.Amount(100), forced.Amount)
	assert.Equal(t, "nonce-a", forced.Nonce)
	assert.Equal(t, []byte("bob-sig"), forced.Signatures.Receiver)

	a := f.get(t, "a")
	assert.Equal(t, domaintypes.SyncSynced, a.SyncStatus)
	assert.Equal(t, []byte("bob-sig"), a.Signatures.Receiver)
	assert.Equal(t, "nonce-a", a.Nonce)
}

func TestConflictManual(t *testing.T) {
	ctx := context.Background()
	cfg := syncsvc.DefaultConfig()
	cfg.Policy = domaintypes.PolicyManual
	f := newFixture(t, cfg)
	server := entry("a", 150)
	f.backend.set(conflictOnce(&server))
	f.add(t, entry("a", 100))

	res, err := f.svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Zero(t, res.Synced)
	assert.Equal(t, domaintypes.SyncConflict, f.get(t, "a").SyncStatus)
	assert.Equal(t, 1, f.svc.Stats().Conflicts)

	_, err = f.svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Len(t, f.backend.submissions(), 1)
}

func TestConflictWithoutServerVersionNeedsManualResolution(t *testing.T) {
	f := newFixture(t, syncsvc.DefaultConfig())
	f.backend.set(conflictOnce(nil))
	f.add(t, entry("a", 100))

	_, err := f.svc.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domaintypes.SyncConflict, f.get(t, "a").SyncStatus)
}

func TestCancelledSubmitIsNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, syncsvc.DefaultConfig())
	f.backend.set(func(domain.OfflineTransaction, domain.SubmitOptions) (domain.SubmitResult, error) {
		cancel()
		return domain.SubmitResult{}, context.Canceled
	})
	f.add(t, entry("a", 100))

	_, err := f.svc.SyncNow(ctx)
	require.ErrorIs(t, err, context.Canceled)
	a := f.get(t, "a")
	assert.Equal(t, domaintypes.SyncNotSynced, a.SyncStatus)
	assert.Zero(t, a.SyncAttempts)
}

func TestRunSyncsWhenBackOnline(t *testing.T) {
	cfg := syncsvc.DefaultConfig()
	cfg.Interval = time.Hour
	f := newFixture(t, cfg)
	f.net.Set(false)
	f.add(t, entry("a", 100))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.svc.Run(ctx) }()

	f.net.Set(true)
	require.Eventually(t, func() bool {
		tx, _ := f.ledger.GetTransaction("a")
		return tx.SyncStatus == domaintypes.SyncSynced
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestServerNonceCollisionParksEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, syncsvc.DefaultConfig())
	server := entry("a", 100)
	server.Nonce = "nonce-b"
	f.backend.set(func(tx domain.OfflineTransaction, opts domain.SubmitOptions) (domain.SubmitResult, error) {
		if tx.ID == "a" && !opts.Force {
			return domain.SubmitResult{Conflict: true, ServerVersion: &server}, nil
		}
		return domain.SubmitResult{Accepted: true, ServerID: "srv-" + tx.ID}, nil
	})
	f.add(t, entry("a", 100), entry("b", 200))

	res, err := f.svc.SyncNow(ctx)
	require.ErrorIs(t, err, domain.ErrReplay)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Conflicts)
	a := f.get(t, "a")
	assert.Equal(t, domaintypes.SyncConflict, a.SyncStatus)
	assert.Equal(t, "nonce-a", a.Nonce)
	assert.Equal(t, domaintypes.SyncSynced, f.get(t, "b").SyncStatus)

	f.clock.Advance(time.Hour)
	res, err = f.svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.Len(t, f.backend.submissions(), 2)

	res, err = f.svc.ResolveConflict(ctx, "a", domaintypes.PolicyUseLocal)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	a = f.get(t, "a")
	assert.Equal(t, domaintypes.SyncSynced, a.SyncStatus)
	assert.Equal(t, "nonce-a", a.Nonce)
	assert.Equal(t, "srv-a", a.ServerID)
}

func TestPersistenceFailureStopsRunAndRecovers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, syncsvc.DefaultConfig())
	f.add(t, entry("a", 100), entry("b", 200))
	f.backend.set(func(tx domain.OfflineTransaction, _ domain.SubmitOptions) (domain.SubmitResult, error) {
		f.blobs.fail.Store(true)
		return domain.SubmitResult{Accepted: true, ServerID: "srv-" + tx.ID}, nil
	})

	res, err := f.svc.SyncNow(ctx)
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, f.backend.submissions(), 1)
	assert.Equal(t, domaintypes.SyncNotSynced, f.get(t, "b").SyncStatus)

	f.blobs.fail.Store(false)
	f.backend.set(nil)
	res, err = f.svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, domaintypes.SyncSynced, f.get(t, "a").SyncStatus)
	assert.Equal(t, domaintypes.SyncSynced, f.get(t, "b").SyncStatus)
	assert.Empty(t, f.ledger.GetTransactionsBySyncStatus(domaintypes.SyncSyncing))
}

func TestResolveConflicts(t *testing.T) {
	ctx := context.Background()
	cfg := syncsvc.DefaultConfig()
	cfg.Policy = domaintypes.PolicyManual
	f := newFixture(t, cfg)
	f.backend.set(func(tx domain.OfflineTransaction, opts domain.SubmitOptions) (domain.SubmitResult, error) {
		server := entry(tx.ID, 150)
		return conflictOnce(&server)(tx, opts)
	})
	f.add(t, entry("a", 100), entry("b", 100))

	_, err := f.svc.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, f.svc.Stats().Conflicts)

	_, err = f.svc.RetryFailedTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, domaintypes.SyncConflict, f.get(t, "a").SyncStatus)

	_, err = f.svc.ResolveConflicts(ctx, domaintypes.PolicyManual)
	require.ErrorIs(t, err, syncsvc.ErrNoResolution)

	res, err := f.svc.ResolveConflicts(ctx, domaintypes.PolicyUseServer)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	a := f.get(t, "a")
	assert.Equal(t, domaintypes.SyncSynced, a.SyncStatus)
	assert.Equal(t, domain.Amount(150), a.Amount)
	assert.Equal(t, 1, a.SyncAttempts)

	_, err = f.svc.ResolveConflict(ctx, "a", domaintypes.PolicyUseLocal)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

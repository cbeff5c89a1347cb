package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/logging"
)

// DefaultKey is the blob key the queue snapshot is stored under.
const DefaultKey = "offline_queue"

// Queue is the in-memory ledger backed by a BlobStore snapshot.
type Queue struct {
	store   domain.BlobStore
	key     string
	policy  RetryPolicy
	opening domain.Amount
	log     *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	order  []string
	items  map[string]domain.OfflineTransaction
	nonces map[string]string // nonce -> transaction id

	subMu   sync.Mutex
	subs    map[int]func([]domain.OfflineTransaction)
	nextSub int
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// WithKey overrides the snapshot blob key.
func WithKey(key string) Option { return func(q *Queue) { q.key = key } }

// WithRetryPolicy overrides the retry policy; zero fields take defaults.
func WithRetryPolicy(p RetryPolicy) Option { return func(q *Queue) { q.policy = p } }

// WithOpeningBalance sets the balance the ledger starts from.
func WithOpeningBalance(a domain.Amount) Option { return func(q *Queue) { q.opening = a } }

// New returns an empty queue persisting to store. Call Load before use.
func New(store domain.BlobStore, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		key:    DefaultKey,
		policy: DefaultRetryPolicy(),
		now:    time.Now,
		items:  make(map[string]domain.OfflineTransaction),
		nonces: make(map[string]string),
		subs:   make(map[int]func([]domain.OfflineTransaction)),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.policy = q.policy.withDefaults()
	q.log = logging.OrNop(q.log).With(zap.String("component", "queue"))
	return q
}

// Load replaces the in-memory state with the persisted snapshot. A missing,
// corrupt or future-version snapshot leaves the queue empty; the unreadable
// blob is copied aside under key+".corrupt". Entries left SYNCING are reset
// to NOT_SYNCED. Only a failing BlobStore read is returned as an error.
func (q *Queue) Load(ctx context.Context) error {
	raw, err := q.store.GetBlob(ctx, q.key)
	if err != nil {
		return fmt.Errorf("%w: load queue: %w", domain.ErrPersistence, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.reset()
	if raw == nil {
		return nil
	}

	snap, migrated, err := decodeSnapshot(raw)
	if err != nil {
		q.log.Warn("queue snapshot unreadable, starting empty", zap.Error(err))
		if err := q.store.SetBlob(ctx, q.key+".corrupt", raw); err != nil {
			q.log.Warn("could not preserve unreadable snapshot", zap.Error(err))
		}
		return nil
	}

	dirty := migrated
	for _, tx := range snap.Transactions {
		if tx.ID == "" {
			q.log.Warn("dropping snapshot entry without id")
			dirty = true
			continue
		}
		if _, dup := q.items[tx.ID]; dup {
			dirty = true
			continue
		}
		if tx.SyncStatus == domaintypes.SyncSyncing || !tx.SyncStatus.IsValid() {
			tx.SyncStatus = domaintypes.SyncNotSynced
			dirty = true
		}
		q.insertLocked(tx)
	}
	if migrated {
		q.log.Info("queue snapshot migrated", zap.Int("version", snapshotVersion))
	}
	if dirty {
		if err := q.saveLocked(ctx); err != nil {
			q.log.Warn("could not rewrite recovered snapshot", zap.Error(err))
		}
	}
	q.log.Debug("queue loaded", zap.Int("count", len(q.order)))
	return nil
}

func (q *Queue) reset() {
	q.order = nil
	q.items = make(map[string]domain.OfflineTransaction)
	q.nonces = make(map[string]string)
}

func (q *Queue) insertLocked(tx domain.OfflineTransaction) {
	q.order = append(q.order, tx.ID)
	q.items[tx.ID] = tx.Clone()
	if tx.Nonce != "" {
		q.nonces[tx.Nonce] = tx.ID
	}
}

func (q *Queue) deleteLocked(id string) {
	tx, ok := q.items[id]
	if !ok {
		return
	}
	delete(q.items, id)
	if q.nonces[tx.Nonce] == id {
		delete(q.nonces, tx.Nonce)
	}
	if i := slices.Index(q.order, id); i >= 0 {
		q.order = slices.Delete(q.order, i, i+1)
	}
}

func (q *Queue) listLocked() []domain.OfflineTransaction {
	out := make([]domain.OfflineTransaction, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.items[id].Clone())
	}
	return out
}

func (q *Queue) saveLocked(ctx context.Context) error {
	raw, err := encodeSnapshot(q.listLocked())
	if err != nil {
		return err
	}
	return q.store.SetBlob(ctx, q.key, raw)
}

// commitLocked persists the current state, running undo and reporting
// ErrPersistence when the save fails.
func (q *Queue) commitLocked(ctx context.Context, undo func()) error {
	if err := q.saveLocked(ctx); err != nil {
		undo()
		q.log.Error("queue save failed, mutation rolled back", zap.Error(err))
		return fmt.Errorf("%w: save queue: %w", domain.ErrPersistence, err)
	}
	return nil
}

// AddTransaction appends tx. Re-adding a known id is a logged no-op; reusing
// a nonce under a different id fails with domain.ErrReplay.
func (q *Queue) AddTransaction(ctx context.Context, tx domain.OfflineTransaction) error {
	if tx.ID == "" {
		return &domain.ValidationError{Errors: []string{"Transaction id is required"}}
	}
	if tx.SyncStatus == "" {
		tx.SyncStatus = domaintypes.SyncNotSynced
	}

	q.mu.Lock()
	if _, exists := q.items[tx.ID]; exists {
		q.mu.Unlock()
		q.log.Warn("duplicate transaction ignored", zap.String("tx_id", tx.ID))
		return nil
	}
	if owner, used := q.nonces[tx.Nonce]; used && tx.Nonce != "" {
		q.mu.Unlock()
		return fmt.Errorf("transaction %s reuses nonce of %s: %w", tx.ID, owner, domain.ErrReplay)
	}
	q.insertLocked(tx)
	if err := q.commitLocked(ctx, func() { q.deleteLocked(tx.ID) }); err != nil {
		q.mu.Unlock()
		return err
	}
	list := q.listLocked()
	q.mu.Unlock()

	q.log.Debug("transaction added", zap.String("tx_id", tx.ID), zap.String("type", string(tx.Type)))
	q.notify(list)
	return nil
}

// UpdateTransaction applies fn to a copy of entry id and stores the result.
// fn runs under the queue lock and must not block. It fails with
// domain.ErrNotFound for an unknown id and domain.ErrInvalidTransition for
// a disallowed sync status change.
func (q *Queue) UpdateTransaction(
	ctx context.Context,
	id string,
	fn func(*domain.OfflineTransaction) error,
) (domain.OfflineTransaction, error) {
	q.mu.Lock()
	cur, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return domain.OfflineTransaction{}, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		q.mu.Unlock()
		return domain.OfflineTransaction{}, err
	}
	next.ID = id
	if next.SyncStatus != cur.SyncStatus && !cur.SyncStatus.CanTransitionTo(next.SyncStatus) {
		q.mu.Unlock()
		return domain.OfflineTransaction{}, fmt.Errorf("transaction %s sync %s -> %s: %w",
			id, cur.SyncStatus, next.SyncStatus, domain.ErrInvalidTransition)
	}
	if next.Nonce != cur.Nonce {
		if owner, used := q.nonces[next.Nonce]; used && owner != id {
			q.mu.Unlock()
			return domain.OfflineTransaction{}, fmt.Errorf("transaction %s reuses nonce of %s: %w", id, owner, domain.ErrReplay)
		}
	}

	q.replaceLocked(cur, next)
	if err := q.commitLocked(ctx, func() { q.replaceLocked(next, cur) }); err != nil {
		q.mu.Unlock()
		return domain.OfflineTransaction{}, err
	}
	list := q.listLocked()
	q.mu.Unlock()

	q.notify(list)
	return next.Clone(), nil
}

func (q *Queue) replaceLocked(old, next domain.OfflineTransaction) {
	if old.Nonce != next.Nonce {
		if q.nonces[old.Nonce] == old.ID {
			delete(q.nonces, old.Nonce)
		}
		if next.Nonce != "" {
			q.nonces[next.Nonce] = next.ID
		}
	}
	q.items[next.ID] = next.Clone()
}

// RemoveTransaction deletes entry id; an unknown id is a no-op.
func (q *Queue) RemoveTransaction(ctx context.Context, id string) error {
	q.mu.Lock()
	cur, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	pos := slices.Index(q.order, id)
	q.deleteLocked(id)
	undo := func() {
		q.order = slices.Insert(q.order, pos, id)
		q.items[id] = cur
		if cur.Nonce != "" {
			q.nonces[cur.Nonce] = id
		}
	}
	if err := q.commitLocked(ctx, undo); err != nil {
		q.mu.Unlock()
		return err
	}
	list := q.listLocked()
	q.mu.Unlock()

	q.notify(list)
	return nil
}

// ClearSynced removes SYNCED entries synced more than olderThan ago and
// returns how many were removed.
func (q *Queue) ClearSynced(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.now().Add(-olderThan)

	q.mu.Lock()
	prevOrder := slices.Clone(q.order)
	var removed []domain.OfflineTransaction
	for _, id := range prevOrder {
		tx := q.items[id]
		if tx.SyncStatus == domaintypes.SyncSynced && !tx.SyncedAt.After(cutoff) {
			removed = append(removed, tx)
			q.deleteLocked(id)
		}
	}
	if len(removed) == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	undo := func() {
		q.order = prevOrder
		for _, tx := range removed {
			q.items[tx.ID] = tx
			if tx.Nonce != "" {
				q.nonces[tx.Nonce] = tx.ID
			}
		}
	}
	if err := q.commitLocked(ctx, undo); err != nil {
		q.mu.Unlock()
		return 0, err
	}
	list := q.listLocked()
	q.mu.Unlock()

	q.log.Info("synced transactions cleared", zap.Int("count", len(removed)))
	q.notify(list)
	return len(removed), nil
}

// GetTransaction returns a copy of entry id.
func (q *Queue) GetTransaction(id string) (domain.OfflineTransaction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tx, ok := q.items[id]
	if !ok {
		return domain.OfflineTransaction{}, false
	}
	return tx.Clone(), true
}

// All returns a copy of every entry in insertion order.
func (q *Queue) All() []domain.OfflineTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked()
}

func (q *Queue) filter(keep func(domain.OfflineTransaction) bool) []domain.OfflineTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.OfflineTransaction
	for _, id := range q.order {
		if tx := q.items[id]; keep(tx) {
			out = append(out, tx.Clone())
		}
	}
	return out
}

// GetTransactionsByStatus returns entries with the given ledger status.
func (q *Queue) GetTransactionsByStatus(status domain.TxStatus) []domain.OfflineTransaction {
	return q.filter(func(tx domain.OfflineTransaction) bool { return tx.Status == status })
}

// GetTransactionsBySyncStatus returns entries with the given sync status.
func (q *Queue) GetTransactionsBySyncStatus(status domain.SyncStatus) []domain.OfflineTransaction {
	return q.filter(func(tx domain.OfflineTransaction) bool { return tx.SyncStatus == status })
}

// GetPendingSyncTransactions returns NOT_SYNCED and SYNC_FAILED entries.
func (q *Queue) GetPendingSyncTransactions() []domain.OfflineTransaction {
	return q.filter(func(tx domain.OfflineTransaction) bool {
		return tx.SyncStatus == domaintypes.SyncNotSynced || tx.SyncStatus == domaintypes.SyncFailed
	})
}

// GetFailedTransactions returns SYNC_FAILED entries that used up their
// attempts.
func (q *Queue) GetFailedTransactions() []domain.OfflineTransaction {
	return q.filter(q.policy.Exhausted)
}

// UsedNonces returns a fresh set of every nonce in the ledger.
func (q *Queue) UsedNonces() domain.NonceSet {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(domain.NonceSet, len(q.nonces))
	for n := range q.nonces {
		out[n] = struct{}{}
	}
	return out
}

// Balance is the opening balance plus the effect of every entry that has
// not failed.
func (q *Queue) Balance() domain.Amount {
	q.mu.Lock()
	defer q.mu.Unlock()
	bal := q.opening
	for _, tx := range q.items {
		if tx.Status != domaintypes.TxFailed {
			bal += tx.SignedDelta()
		}
	}
	return bal
}

// ShouldRetryTransaction applies the retry policy to tx at now.
func (q *Queue) ShouldRetryTransaction(tx domain.OfflineTransaction, now time.Time) (bool, string) {
	return q.policy.ShouldRetry(tx, now)
}

// RetryPolicy returns the effective policy.
func (q *Queue) RetryPolicy() RetryPolicy { return q.policy }

// MaxAttempts is the attempt cap of the retry policy.
func (q *Queue) MaxAttempts() int { return q.policy.MaxAttempts }

// Stats aggregates the ledger.
func (q *Queue) Stats() domain.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var st domain.QueueStats
	for _, id := range q.order {
		tx := q.items[id]
		st.Total++
		st.TotalAmount += tx.Amount
		switch {
		case tx.SyncStatus == domaintypes.SyncSynced:
			st.Synced++
		case tx.SyncStatus == domaintypes.SyncSyncing:
			st.Syncing++
		case tx.SyncStatus == domaintypes.SyncConflict:
			st.Conflicts++
		case q.policy.Exhausted(tx):
			st.Failed++
		default:
			st.Pending++
			if st.OldestPending.IsZero() || tx.Timestamp.Before(st.OldestPending) {
				st.OldestPending = tx.Timestamp
			}
		}
	}
	return st
}

// Subscribe registers fn to receive the full list after each mutation and
// returns the func that unregisters it. fn may be called from concurrent
// goroutines.
func (q *Queue) Subscribe(fn func([]domain.OfflineTransaction)) func() {
	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.subMu.Lock()
			delete(q.subs, id)
			q.subMu.Unlock()
		})
	}
}

func (q *Queue) notify(list []domain.OfflineTransaction) {
	q.subMu.Lock()
	fns := make([]func([]domain.OfflineTransaction), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	q.subMu.Unlock()

	for _, fn := range fns {
		q.deliver(fn, cloneList(list))
	}
}

func (q *Queue) deliver(fn func([]domain.OfflineTransaction), list []domain.OfflineTransaction) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(list)
}

func cloneList(in []domain.OfflineTransaction) []domain.OfflineTransaction {
	out := make([]domain.OfflineTransaction, len(in))
	for i, tx := range in {
		out[i] = tx.Clone()
	}
	return out
}

// ExportQueue writes the ledger as zstd-compressed snapshot JSON.
func (q *Queue) ExportQueue(w io.Writer) error {
	return writeCompressed(w, q.All())
}

// ImportResult counts the outcome of ImportQueue.
type ImportResult struct {
	Added    int `json:"added"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// ImportQueue merges an export into the ledger by id. Known ids are skipped,
// entries reusing a known nonce are rejected, and SYNCING entries come in as
// NOT_SYNCED.
func (q *Queue) ImportQueue(ctx context.Context, r io.Reader) (ImportResult, error) {
	snap, err := readCompressed(r)
	if err != nil {
		return ImportResult{}, err
	}
	var res ImportResult
	for _, tx := range snap.Transactions {
		if _, exists := q.GetTransaction(tx.ID); exists {
			res.Skipped++
			continue
		}
		if tx.SyncStatus == domaintypes.SyncSyncing {
			tx.SyncStatus = domaintypes.SyncNotSynced
		}
		if err := q.AddTransaction(ctx, tx); err != nil {
			if errors.Is(err, domain.ErrPersistence) {
				return res, err
			}
			q.log.Warn("import entry rejected", zap.String("tx_id", tx.ID), zap.Error(err))
			res.Rejected++
			continue
		}
		res.Added++
	}
	return res, nil
}

var (
	_ domain.Ledger     = (*Queue)(nil)
	_ domain.SyncLedger = (*Queue)(nil)
)

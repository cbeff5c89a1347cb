package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/logging"
	"offpay/internal/services/validation"
)

// ErrOffline is returned by SyncNow while the network monitor reports the
// device offline.
var ErrOffline = errors.New("offline")

// Resolver picks the policy for one conflict. server is nil when the
// backend did not return its version.
type Resolver func(local domain.OfflineTransaction, server *domain.OfflineTransaction) domain.ConflictPolicy

// Deps are the collaborators a Service drives. Network is optional; without
// it the device is assumed online.
type Deps struct {
	Ledger  domain.SyncLedger
	Backend domain.Backend
	Network domain.NetworkMonitor
	Rules   *validation.Service
}

// Service synchronizes the ledger with the backend.
type Service struct {
	cfg      Config
	deps     Deps
	resolver Resolver
	log      *zap.Logger
	now      func() time.Time

	running  atomic.Bool
	lastSync atomic.Int64
	kick     chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithResolver installs a per-conflict policy callback.
func WithResolver(r Resolver) Option { return func(s *Service) { s.resolver = r } }

// New returns a Service.
func New(cfg Config, deps Deps, opts ...Option) *Service {
	s := &Service{
		cfg:  cfg.withDefaults(),
		deps: deps,
		now:  time.Now,
		kick: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).With(zap.String("component", "sync"))
	return s
}

// InProgress reports whether a sync is running.
func (s *Service) InProgress() bool { return s.running.Load() }

func (s *Service) online() bool {
	return s.deps.Network == nil || s.deps.Network.Online()
}

// SyncNow pushes every due entry to the backend. A call made while another
// run is active returns at once with domain.ErrAlreadySyncing and changes
// nothing. Backend failures are counted in the result, not returned; a
// ledger write that fails after the backend answered stops the run and is
// returned.
func (s *Service) SyncNow(ctx context.Context) (domain.SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return domain.SyncResult{Success: false, Error: "Sync already in progress"}, domain.ErrAlreadySyncing
	}
	defer s.running.Store(false)

	start := s.now()
	res := domain.SyncResult{StartedAt: start}
	if err := s.begin(ctx, &res); err != nil {
		return res, err
	}

	var werr error
	due := s.selectDue(start, &res)
batches:
	for batch := range slices.Chunk(due, s.cfg.BatchSize) {
		for _, tx := range batch {
			if ctx.Err() != nil {
				break batches
			}
			if fatal := collect(&werr, s.syncOne(ctx, tx, "", &res)); fatal {
				break batches
			}
		}
	}
	return s.finish(ctx, &res, start, werr)
}

// collect joins err into werr and reports whether the run must stop. A
// ledger that cannot persist stops the run.
func collect(werr *error, err error) bool {
	if err == nil {
		return false
	}
	*werr = errors.Join(*werr, err)
	return errors.Is(err, domain.ErrPersistence)
}

// begin checks connectivity and recovers entries a previous run left
// SYNCING. Only one run is active at a time, so any SYNCING entry seen here
// is stale.
func (s *Service) begin(ctx context.Context, res *domain.SyncResult) error {
	if !s.online() {
		res.Error = ErrOffline.Error()
		return ErrOffline
	}
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return err
	}
	for _, tx := range s.deps.Ledger.GetTransactionsBySyncStatus(domaintypes.SyncSyncing) {
		if err := s.reset(ctx, tx.ID); err != nil {
			res.Error = err.Error()
			return err
		}
		s.log.Warn("stale sync state recovered", zap.String("tx_id", tx.ID))
	}
	return nil
}

func (s *Service) finish(
	ctx context.Context,
	res *domain.SyncResult,
	start time.Time,
	werr error,
) (domain.SyncResult, error) {
	res.Duration = s.now().Sub(start)
	s.lastSync.Store(s.now().UnixNano())
	if werr != nil {
		res.Success = false
		res.Error = werr.Error()
		s.log.Error("sync aborted", zap.Int("synced", res.Synced), zap.Int("failed", res.Failed), zap.Error(werr))
		return *res, werr
	}
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return *res, err
	}
	res.Success = res.Failed == 0
	if !res.Success {
		res.Error = fmt.Sprintf("%d transaction(s) failed to sync", res.Failed)
	}
	s.log.Info("sync finished",
		zap.Int("synced", res.Synced), zap.Int("failed", res.Failed),
		zap.Int("conflicts", res.Conflicts), zap.Int("skipped", res.Skipped),
		zap.Duration("took", res.Duration))
	return *res, nil
}

// selectDue returns the pending entries the retry policy and the sync
// validation both allow now.
func (s *Service) selectDue(now time.Time, res *domain.SyncResult) []domain.OfflineTransaction {
	pending := s.deps.Ledger.GetPendingSyncTransactions()
	due := make([]domain.OfflineTransaction, 0, len(pending))
	for _, tx := range pending {
		if ok, reason := s.deps.Ledger.ShouldRetryTransaction(tx, now); !ok {
			s.log.Debug("transaction not due", zap.String("tx_id", tx.ID), zap.String("reason", reason))
			res.Skipped++
			continue
		}
		if s.deps.Rules != nil {
			r := s.deps.Rules.ValidateOfflineTransactionForSync(tx)
			if !r.Valid {
				s.log.Warn("transaction not syncable", zap.String("tx_id", tx.ID), zap.Strings("errors", r.Errors))
				res.Skipped++
				continue
			}
			for _, w := range r.Warnings {
				s.log.Warn("sync warning", zap.String("tx_id", tx.ID), zap.String("warning", w))
			}
		}
		due = append(due, tx)
	}
	return due
}

var errNotDue = errors.New("transaction no longer due")

// syncOne submits one entry. policy overrides the configured conflict
// policy when set. The returned error is a ledger write failure.
func (s *Service) syncOne(
	ctx context.Context,
	tx domain.OfflineTransaction,
	policy domain.ConflictPolicy,
	res *domain.SyncResult,
) error {
	log := s.log.With(zap.String("tx_id", tx.ID))
	// ledger writes after a submit must land even if ctx was cancelled
	wctx := context.WithoutCancel(ctx)

	marked, err := s.deps.Ledger.UpdateTransaction(ctx, tx.ID, func(t *domain.OfflineTransaction) error {
		if t.SyncStatus != domaintypes.SyncNotSynced && t.SyncStatus != domaintypes.SyncFailed {
			return errNotDue
		}
		t.SyncStatus = domaintypes.SyncSyncing
		t.LastSyncAttempt = s.now().UTC()
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrPersistence):
		return fmt.Errorf("mark %s syncing: %w", tx.ID, err)
	case err != nil:
		log.Debug("transaction skipped", zap.Error(err))
		res.Skipped++
		return nil
	}

	result, err := s.submit(ctx, marked, domain.SubmitOptions{})
	switch {
	case err != nil && ctx.Err() != nil:
		res.Skipped++
		return s.reset(wctx, marked.ID)
	case err != nil:
		res.Failed++
		return s.recordFailure(wctx, marked.ID, err)
	case result.Conflict:
		res.Conflicts++
		return s.resolve(ctx, marked, result.ServerVersion, policy, res)
	case result.Accepted:
		if err := s.markSynced(wctx, marked.ID, result.ServerID, nil); err != nil {
			return s.writeFailed(wctx, marked.ID, err, res)
		}
		res.Synced++
		return nil
	default:
		res.Failed++
		return s.recordFailure(wctx, marked.ID, errors.New("backend did not accept the transaction"))
	}
}

func (s *Service) submit(
	ctx context.Context,
	tx domain.OfflineTransaction,
	opts domain.SubmitOptions,
) (domain.SubmitResult, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()
	return s.deps.Backend.Submit(sctx, tx, opts)
}

// resolve applies the conflict policy to an entry currently SYNCING. An
// empty policy means the configured one, or the resolver's choice.
func (s *Service) resolve(
	ctx context.Context,
	local domain.OfflineTransaction,
	server *domain.OfflineTransaction,
	policy domain.ConflictPolicy,
	res *domain.SyncResult,
) error {
	wctx := context.WithoutCancel(ctx)
	if policy == "" {
		policy = s.cfg.Policy
		if s.resolver != nil {
			if p := s.resolver(local.Clone(), server); p.IsValid() {
				policy = p
			}
		}
	}
	if policy == domaintypes.PolicyUseServer && server == nil {
		policy = domaintypes.PolicyManual
	}
	log := s.log.With(zap.String("tx_id", local.ID), zap.String("policy", string(policy)))
	log.Warn("sync conflict", zap.Error(domain.ErrSyncConflict))

	switch policy {
	case domaintypes.PolicyUseServer:
		if err := s.markSynced(wctx, local.ID, server.ServerID, func(t *domain.OfflineTransaction) {
			adoptServer(t, *server)
		}); err != nil {
			return s.writeFailed(wctx, local.ID, err, res)
		}
		res.Synced++
		return nil

	case domaintypes.PolicyUseLocal, domaintypes.PolicyMerge:
		forced := local
		if policy == domaintypes.PolicyMerge && server != nil {
			forced = merge(local, *server)
		}
		result, err := s.submit(ctx, forced, domain.SubmitOptions{Force: true})
		if err != nil || !result.Accepted {
			if err == nil {
				err = errors.New("forced resubmission not accepted")
			}
			res.Failed++
			return s.recordFailure(wctx, local.ID, err)
		}
		if err := s.markSynced(wctx, local.ID, result.ServerID, func(t *domain.OfflineTransaction) {
			t.Signatures = forced.Signatures
		}); err != nil {
			return s.writeFailed(wctx, local.ID, err, res)
		}
		res.Synced++
		return nil

	default:
		if _, err := s.deps.Ledger.UpdateTransaction(wctx, local.ID, func(t *domain.OfflineTransaction) error {
			t.SyncStatus = domaintypes.SyncConflict
			t.SyncAttempts++
			return nil
		}); err != nil {
			res.Failed++
			return fmt.Errorf("flag conflict on %s: %w", local.ID, err)
		}
		return nil
	}
}

// adoptServer replaces the fields the backend is authoritative for. The
// local balance snapshot is kept and re-derived from the server amount.
func adoptServer(t *domain.OfflineTransaction, server domain.OfflineTransaction) {
	t.Amount = server.Amount
	t.Currency = server.Currency
	t.Nonce = server.Nonce
	t.Timestamp = server.Timestamp
	if server.Status != "" {
		t.Status = server.Status
	}
	if len(server.Signatures.Sender) > 0 {
		t.Signatures.Sender = append([]byte(nil), server.Signatures.Sender...)
	}
	if len(server.Signatures.Receiver) > 0 {
		t.Signatures.Receiver = append([]byte(nil), server.Signatures.Receiver...)
	}
	t.Balance.After = t.Balance.Before + t.SignedDelta()
}

// merge keeps the local amount and nonce and fills in signatures and the
// server id the backend knows about.
func merge(local, server domain.OfflineTransaction) domain.OfflineTransaction {
	out := local.Clone()
	if len(out.Signatures.Sender) == 0 {
		out.Signatures.Sender = append([]byte(nil), server.Signatures.Sender...)
	}
	if len(out.Signatures.Receiver) == 0 {
		out.Signatures.Receiver = append([]byte(nil), server.Signatures.Receiver...)
	}
	if out.ServerID == "" {
		out.ServerID = server.ServerID
	}
	return out
}

func (s *Service) markSynced(ctx context.Context, id, serverID string, edit func(*domain.OfflineTransaction)) error {
	_, err := s.deps.Ledger.UpdateTransaction(ctx, id, func(t *domain.OfflineTransaction) error {
		if edit != nil {
			edit(t)
		}
		t.SyncStatus = domaintypes.SyncSynced
		t.SyncAttempts++
		t.SyncedAt = s.now().UTC()
		if serverID != "" {
			t.ServerID = serverID
		}
		return nil
	})
	return err
}

// writeFailed moves an entry whose SYNCED write was refused out of SYNCING:
// to CONFLICT when the server version collides with a nonce another local
// entry owns, to SYNC_FAILED otherwise. If that write fails too, the entry
// stays SYNCING until the next run recovers it.
func (s *Service) writeFailed(ctx context.Context, id string, cause error, res *domain.SyncResult) error {
	res.Failed++
	next := domaintypes.SyncFailed
	if errors.Is(cause, domain.ErrReplay) {
		next = domaintypes.SyncConflict
	}
	log := s.log.With(zap.String("tx_id", id))
	if _, err := s.deps.Ledger.UpdateTransaction(ctx, id, func(t *domain.OfflineTransaction) error {
		t.SyncStatus = next
		t.SyncAttempts++
		return nil
	}); err != nil {
		log.Error("could not record sync outcome", zap.NamedError("cause", cause), zap.Error(err))
	} else {
		log.Error("sync outcome not recorded", zap.String("sync_status", string(next)), zap.Error(cause))
	}
	return fmt.Errorf("record sync of %s: %w", id, cause)
}

func (s *Service) recordFailure(ctx context.Context, id string, cause error) error {
	maxAttempts := s.deps.Ledger.MaxAttempts()
	updated, err := s.deps.Ledger.UpdateTransaction(ctx, id, func(t *domain.OfflineTransaction) error {
		t.SyncStatus = domaintypes.SyncFailed
		t.SyncAttempts++
		return nil
	})
	log := s.log.With(zap.String("tx_id", id))
	if err != nil {
		log.Error("could not record sync failure", zap.NamedError("cause", cause), zap.Error(err))
		return fmt.Errorf("record failure of %s: %w", id, err)
	}
	if updated.SyncAttempts == maxAttempts {
		log.Error("giving up on transaction",
			zap.Int("attempts", updated.SyncAttempts),
			zap.NamedError("cause", cause),
			zap.Error(domain.ErrMaxRetriesExceeded))
		return nil
	}
	log.Warn("sync attempt failed", zap.Int("attempts", updated.SyncAttempts), zap.Error(cause))
	return nil
}

// reset returns an interrupted entry to NOT_SYNCED without counting an
// attempt.
func (s *Service) reset(ctx context.Context, id string) error {
	_, err := s.deps.Ledger.UpdateTransaction(ctx, id, func(t *domain.OfflineTransaction) error {
		if t.SyncStatus != domaintypes.SyncSyncing {
			return errNotDue
		}
		t.SyncStatus = domaintypes.SyncNotSynced
		return nil
	})
	switch {
	case err == nil, errors.Is(err, errNotDue):
		return nil
	default:
		s.log.Error("could not reset interrupted sync", zap.String("tx_id", id), zap.Error(err))
		return fmt.Errorf("reset %s: %w", id, err)
	}
}

// RetryFailedTransactions gives every entry that exhausted its attempts a
// fresh budget as NOT_SYNCED, then runs a sync.
func (s *Service) RetryFailedTransactions(ctx context.Context) (domain.SyncResult, error) {
	if s.running.Load() {
		return domain.SyncResult{Success: false, Error: "Sync already in progress"}, domain.ErrAlreadySyncing
	}
	failed := s.deps.Ledger.GetFailedTransactions()
	n := 0
	for _, tx := range failed {
		_, err := s.deps.Ledger.UpdateTransaction(ctx, tx.ID, func(t *domain.OfflineTransaction) error {
			if t.SyncStatus != domaintypes.SyncFailed {
				return errNotDue
			}
			t.SyncStatus = domaintypes.SyncNotSynced
			t.SyncAttempts = 0
			t.LastSyncAttempt = time.Time{}
			return nil
		})
		switch {
		case errors.Is(err, errNotDue):
		case err != nil:
			return domain.SyncResult{Error: err.Error()}, fmt.Errorf("reset %s: %w", tx.ID, err)
		default:
			n++
		}
	}
	s.log.Info("failed transactions reset", zap.Int("count", n))
	return s.SyncNow(ctx)
}

// ErrNoResolution is returned when a conflict is resolved with MANUAL or an
// unknown policy.
var ErrNoResolution = errors.New("policy does not resolve a conflict")

// ResolveConflict resubmits one CONFLICT entry and settles a renewed
// conflict with policy. An entry in any other sync state fails with
// domain.ErrInvalidTransition.
func (s *Service) ResolveConflict(
	ctx context.Context,
	id string,
	policy domain.ConflictPolicy,
) (domain.SyncResult, error) {
	return s.resolveConflicts(ctx, []string{id}, policy)
}

// ResolveConflicts applies ResolveConflict to every CONFLICT entry.
func (s *Service) ResolveConflicts(ctx context.Context, policy domain.ConflictPolicy) (domain.SyncResult, error) {
	parked := s.deps.Ledger.GetTransactionsBySyncStatus(domaintypes.SyncConflict)
	ids := make([]string, 0, len(parked))
	for _, tx := range parked {
		ids = append(ids, tx.ID)
	}
	return s.resolveConflicts(ctx, ids, policy)
}

func (s *Service) resolveConflicts(
	ctx context.Context,
	ids []string,
	policy domain.ConflictPolicy,
) (domain.SyncResult, error) {
	if !policy.IsValid() || policy == domaintypes.PolicyManual {
		err := fmt.Errorf("%q: %w", policy, ErrNoResolution)
		return domain.SyncResult{Error: err.Error()}, err
	}
	if !s.running.CompareAndSwap(false, true) {
		return domain.SyncResult{Success: false, Error: "Sync already in progress"}, domain.ErrAlreadySyncing
	}
	defer s.running.Store(false)

	start := s.now()
	res := domain.SyncResult{StartedAt: start}
	if err := s.begin(ctx, &res); err != nil {
		return res, err
	}
	var werr error
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		tx, err := s.deps.Ledger.UpdateTransaction(ctx, id, func(t *domain.OfflineTransaction) error {
			if t.SyncStatus != domaintypes.SyncConflict {
				return fmt.Errorf("transaction %s is %s: %w", id, t.SyncStatus, domain.ErrInvalidTransition)
			}
			t.SyncStatus = domaintypes.SyncNotSynced
			t.SyncAttempts = 0
			t.LastSyncAttempt = time.Time{}
			return nil
		})
		if err != nil {
			if collect(&werr, err) {
				break
			}
			continue
		}
		s.log.Info("resolving conflict", zap.String("tx_id", id), zap.String("policy", string(policy)))
		if fatal := collect(&werr, s.syncOne(ctx, tx, policy, &res)); fatal {
			break
		}
	}
	return s.finish(ctx, &res, start, werr)
}

// Stats combines the queue counters with the sync schedule.
func (s *Service) Stats() domain.SyncStats {
	st := domain.SyncStats{
		QueueStats: s.deps.Ledger.Stats(),
		InProgress: s.running.Load(),
	}
	if ns := s.lastSync.Load(); ns != 0 {
		st.LastSyncTime = time.Unix(0, ns).UTC()
		st.NextSyncTime = st.LastSyncTime.Add(s.cfg.Interval)
	}
	return st
}

// Trigger asks a running Run loop for an immediate sync. Calls made while
// one is already queued collapse into it.
func (s *Service) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run syncs at startup, every Interval, and whenever the network monitor
// reports the device back online, until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Network != nil {
		unsubscribe := s.deps.Network.Subscribe(func(online bool) {
			if online {
				s.Trigger()
			}
		})
		defer unsubscribe()
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.runOnce(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx, "timer")
		case <-s.kick:
			s.runOnce(ctx, "online")
		}
	}
}

func (s *Service) runOnce(ctx context.Context, trigger string) {
	_, err := s.SyncNow(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadySyncing), errors.Is(err, ErrOffline):
		s.log.Debug("sync skipped", zap.String("trigger", trigger), zap.Error(err))
	case ctx.Err() != nil:
	default:
		s.log.Warn("sync failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

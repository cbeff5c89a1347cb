package settlement

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/logging"
)

// DefaultMateriality is the smallest imbalance worth a suggestion.
const DefaultMateriality domain.Amount = 1000

// Config tunes settlement output.
type Config struct {
	Materiality domain.Amount `mapstructure:"materiality" yaml:"materiality"`
}

// Service computes settlements over ledger snapshots.
type Service struct {
	cfg Config
	log *zap.Logger
	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a Service. A non-positive materiality takes DefaultMateriality.
func New(cfg Config, opts ...Option) *Service {
	if cfg.Materiality <= 0 {
		cfg.Materiality = DefaultMateriality
	}
	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).With(zap.String("component", "settlement"))
	return s
}

// CalculateSettlement totals CONFIRMED entries per counterpart. A positive
// NetBalance means the counterpart owes the local device. Peers are ordered
// by device id.
func (s *Service) CalculateSettlement(txs []domain.OfflineTransaction) domain.SettlementSummary {
	byPeer := map[domain.DeviceID]*domain.PeerSettlement{}
	sum := domain.SettlementSummary{GeneratedAt: s.now().UTC()}

	for _, tx := range txs {
		if tx.Status != domaintypes.TxConfirmed {
			continue
		}
		p, ok := byPeer[tx.CounterpartDeviceID]
		if !ok {
			p = &domain.PeerSettlement{DeviceID: tx.CounterpartDeviceID}
			byPeer[tx.CounterpartDeviceID] = p
		}
		switch tx.Type {
		case domaintypes.DirectionSent:
			p.TotalSent += tx.Amount
			sum.TotalSent += tx.Amount
		case domaintypes.DirectionReceived:
			p.TotalReceived += tx.Amount
			sum.TotalReceived += tx.Amount
		}
		p.TransactionCount++
		sum.TransactionCount++
		if tx.Timestamp.After(p.LastActivity) {
			p.LastActivity = tx.Timestamp
		}
	}

	sum.Peers = make([]domain.PeerSettlement, 0, len(byPeer))
	for _, p := range byPeer {
		p.NetBalance = p.TotalReceived - p.TotalSent
		sum.Peers = append(sum.Peers, *p)
	}
	slices.SortFunc(sum.Peers, func(a, b domain.PeerSettlement) int {
		return cmp.Compare(a.DeviceID, b.DeviceID)
	})
	sum.NetBalance = sum.TotalReceived - sum.TotalSent
	return sum
}

// DetectConflicts reports duplicate nonces, identical timestamps and a
// balance replay that goes negative. FAILED entries take no part in the
// replay.
func (s *Service) DetectConflicts(txs []domain.OfflineTransaction) []domain.SettlementConflict {
	var out []domain.SettlementConflict

	seen := map[string]domain.OfflineTransaction{}
	for _, tx := range txs {
		if tx.Nonce == "" {
			continue
		}
		first, dup := seen[tx.Nonce]
		if !dup {
			seen[tx.Nonce] = tx
			continue
		}
		out = append(out, domain.SettlementConflict{
			Kind:          domaintypes.ConflictDuplicateNonce,
			TransactionID: tx.ID,
			DeviceID:      tx.CounterpartDeviceID,
			Issue:         "Duplicate nonce detected",
			Resolution:    fmt.Sprintf("Verify transaction %s against %s and void the replayed copy", tx.ID, first.ID),
		})
	}

	ordered := byTimestamp(txs)
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if !cur.Timestamp.After(prev.Timestamp) {
			out = append(out, domain.SettlementConflict{
				Kind:          domaintypes.ConflictTimestampOrder,
				TransactionID: cur.ID,
				DeviceID:      cur.CounterpartDeviceID,
				Issue:         fmt.Sprintf("Timestamp not after transaction %s", prev.ID),
				Resolution:    "Check the device clock and confirm the transaction order with the counterpart",
			})
		}
	}

	var running domain.Amount
	started := false
	for _, tx := range ordered {
		if tx.Status == domaintypes.TxFailed {
			continue
		}
		if !started {
			running = tx.Balance.Before
			started = true
		}
		running += tx.SignedDelta()
		if running < 0 && tx.Balance.Before >= 0 {
			out = append(out, domain.SettlementConflict{
				Kind:          domaintypes.ConflictNegativeBalance,
				TransactionID: tx.ID,
				DeviceID:      tx.CounterpartDeviceID,
				Issue:         fmt.Sprintf("Balance replay goes negative (%s)", running),
				Resolution:    "Sync with the backend to confirm the opening balance",
			})
		}
	}

	if len(out) > 0 {
		s.log.Info("settlement conflicts detected", zap.Int("count", len(out)))
	}
	return out
}

// byTimestamp returns a copy of txs sorted by timestamp, then id.
func byTimestamp(txs []domain.OfflineTransaction) []domain.OfflineTransaction {
	out := slices.Clone(txs)
	slices.SortStableFunc(out, func(a, b domain.OfflineTransaction) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// SuggestSettlements proposes a transfer for every peer whose net balance
// exceeds the materiality threshold in either direction.
func (s *Service) SuggestSettlements(sum domain.SettlementSummary) []domain.SettlementSuggestion {
	var out []domain.SettlementSuggestion
	for _, p := range sum.Peers {
		if p.NetBalance.Abs() <= s.cfg.Materiality {
			continue
		}
		sg := domain.SettlementSuggestion{DeviceID: p.DeviceID, Amount: p.NetBalance.Abs()}
		if p.NetBalance > 0 {
			sg.Direction = domaintypes.PeerPaysLocal
			sg.Reason = fmt.Sprintf("%s owes %s", p.DeviceID, sg.Amount)
		} else {
			sg.Direction = domaintypes.LocalPaysPeer
			sg.Reason = fmt.Sprintf("You owe %s %s", p.DeviceID, sg.Amount)
		}
		out = append(out, sg)
	}
	return out
}

// ReconcileTransactions partitions two ledgers by id. Entries with the same
// id match when amount and nonce agree and conflict otherwise.
func (s *Service) ReconcileTransactions(local, remote []domain.OfflineTransaction) domain.Reconciliation {
	remoteByID := make(map[string]domain.OfflineTransaction, len(remote))
	for _, tx := range remote {
		remoteByID[tx.ID] = tx
	}

	var rec domain.Reconciliation
	seen := make(map[string]bool, len(local))
	for _, l := range local {
		seen[l.ID] = true
		r, ok := remoteByID[l.ID]
		switch {
		case !ok:
			rec.LocalOnly = append(rec.LocalOnly, l)
		case l.Amount != r.Amount && l.Nonce != r.Nonce:
			rec.Conflicting = append(rec.Conflicting, domain.ReconcileConflict{Local: l, Remote: r, Issue: "Amount and nonce differ"})
		case l.Amount != r.Amount:
			rec.Conflicting = append(rec.Conflicting, domain.ReconcileConflict{
				Local: l, Remote: r,
				Issue: fmt.Sprintf("Amount differs: %s local, %s remote", l.Amount, r.Amount),
			})
		case l.Nonce != r.Nonce:
			rec.Conflicting = append(rec.Conflicting, domain.ReconcileConflict{Local: l, Remote: r, Issue: "Nonce differs"})
		default:
			rec.Matching = append(rec.Matching, l)
		}
	}
	for _, r := range remote {
		if !seen[r.ID] {
			rec.RemoteOnly = append(rec.RemoteOnly, r)
		}
	}
	return rec
}

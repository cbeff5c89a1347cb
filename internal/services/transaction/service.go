package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offpay/internal/crypto"
	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/logging"
	"offpay/internal/services/validation"
)

// Service builds transactions for the local device.
type Service struct {
	self   domain.DeviceID
	signer domain.Signer
	rules  *validation.Service
	log    *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a Service signing as self.
func New(self domain.DeviceID, signer domain.Signer, rules *validation.Service, opts ...Option) *Service {
	s := &Service{self: self, signer: signer, rules: rules, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log)
	return s
}

// CreateParams describes the transaction to build.
type CreateParams struct {
	RequestID      string
	ToDeviceID     domain.DeviceID
	Amount         domain.Amount
	Currency       domain.Currency
	Memo           string
	CurrentBalance domain.Amount
}

// CreateTransaction builds and signs a PaymentTransaction with a fresh nonce.
// A refused or failed signature is reported as domain.ErrSigning.
func (s *Service) CreateTransaction(ctx context.Context, p CreateParams) (*domain.PaymentTransaction, error) {
	if r := s.rules.ValidateAmount(p.Amount, p.Currency); !r.Valid {
		return nil, r.Err()
	}
	if p.CurrentBalance < p.Amount {
		return nil, &domain.ValidationError{
			Errors: []string{fmt.Sprintf("Insufficient balance: %s available, %s needed", p.CurrentBalance, p.Amount)},
			Cause:  domain.ErrInsufficientBalance,
		}
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	keyID := domain.KeyID(s.self)
	pub, err := s.signer.PublicKey(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSigning, err)
	}

	tx := &domain.PaymentTransaction{
		ID:            uuid.NewString(),
		RequestID:     p.RequestID,
		From:          s.self,
		To:            p.ToDeviceID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Memo:          p.Memo,
		Nonce:         nonce,
		SenderBalance: p.CurrentBalance,
		Timestamp:     s.now().UTC(),
		Seal:          domain.Seal{SignerKey: pub},
	}
	sig, err := s.signer.Sign(ctx, keyID, tx.CanonicalBytes())
	if err != nil {
		s.log.Warn("transaction signing refused",
			zap.String("request_id", p.RequestID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrSigning, err)
	}
	tx.Signature = sig
	return tx, nil
}

// CreateOfflineTransaction projects tx into a ledger entry seen from the
// given direction, starting from balanceBefore. Sent entries start SIGNED,
// received entries PENDING.
func CreateOfflineTransaction(
	tx *domain.PaymentTransaction,
	direction domain.Direction,
	balanceBefore domain.Amount,
) domain.OfflineTransaction {
	out := domain.OfflineTransaction{
		ID:         tx.ID,
		RequestID:  tx.RequestID,
		Type:       direction,
		Amount:     tx.Amount,
		Currency:   tx.Currency,
		Memo:       tx.Memo,
		Timestamp:  tx.Timestamp,
		Signatures: domain.Signatures{Sender: append([]byte(nil), tx.Signature...)},
		SyncStatus: domaintypes.SyncNotSynced,
		Nonce:      tx.Nonce,
		Balance:    domain.BalanceSnapshot{Before: balanceBefore},
	}
	switch direction {
	case domaintypes.DirectionSent:
		out.CounterpartDeviceID = tx.To
		out.Status = domaintypes.TxSigned
	default:
		out.CounterpartDeviceID = tx.From
		out.Status = domaintypes.TxPending
	}
	out.Balance.After = balanceBefore + out.SignedDelta()
	return out
}

// MarkAsConfirmed moves a PENDING, SIGNED or TRANSMITTED entry to CONFIRMED.
// Entries already CONFIRMED or FAILED are returned unchanged with false.
func (s *Service) MarkAsConfirmed(tx domain.OfflineTransaction) (domain.OfflineTransaction, bool) {
	switch tx.Status {
	case domaintypes.TxPending, domaintypes.TxSigned, domaintypes.TxTransmitted:
		tx.Status = domaintypes.TxConfirmed
		return tx, true
	default:
		s.log.Info("confirmation ignored",
			zap.String("tx_id", tx.ID), zap.String("status", string(tx.Status)))
		return tx, false
	}
}

// IsNonceValid reports whether nonce is unused and claims it in used, so a
// given nonce is accepted exactly once per set. Batch validation applies
// the same rule through NonceSet.Claim.
func IsNonceValid(nonce string, used domain.NonceSet) bool {
	return used.Claim(nonce)
}

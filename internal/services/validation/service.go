package validation

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
)

// Service evaluates payment rules against a fixed Config.
type Service struct {
	cfg Config
	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service; zero fields in cfg take their defaults.
func New(cfg Config, opts ...Option) *Service {
	s := &Service{cfg: cfg.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// ParseAmount converts decimal text such as "50.00" into minor units.
// Non-numeric input and more than two decimal places are rejected.
func ParseAmount(raw string) (domain.Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, &domain.ValidationError{Errors: []string{"Amount must be a number"}}
	}
	if !d.Equal(d.Truncate(2)) {
		return 0, &domain.ValidationError{Errors: []string{"Amount must have at most 2 decimal places"}}
	}
	minor := d.Shift(2)
	if minor.Abs().GreaterThan(maxMinorUnits) {
		return 0, &domain.ValidationError{Errors: []string{"Amount is out of range"}}
	}
	return domain.Amount(minor.IntPart()), nil
}

// ValidateAmountInput parses raw and applies ValidateAmount.
func (s *Service) ValidateAmountInput(raw string, currency domain.Currency) (domain.Amount, Result) {
	amount, err := ParseAmount(raw)
	if err != nil {
		r := newResult()
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			for _, e := range ve.Errors {
				r.fail(nil, "%s", e)
			}
		}
		r.merge(s.validateCurrency(currency))
		return 0, r
	}
	return amount, s.ValidateAmount(amount, currency)
}

// ValidateAmount checks bounds and the currency code.
func (s *Service) ValidateAmount(amount domain.Amount, currency domain.Currency) Result {
	r := newResult()
	switch {
	case amount <= 0:
		r.fail(nil, "Amount must be greater than zero")
	case amount < s.cfg.MinAmount:
		r.fail(nil, "Amount must be at least %s", s.cfg.MinAmount)
	case amount > s.cfg.MaxAmount:
		r.fail(nil, "Amount must not exceed %s", s.cfg.MaxAmount)
	case amount > s.cfg.WarnAmount:
		r.warn("Large amount: %s exceeds %s", amount, s.cfg.WarnAmount)
	}
	r.merge(s.validateCurrency(currency))
	return r
}

func (s *Service) validateCurrency(c domain.Currency) Result {
	r := newResult()
	if c == "" {
		r.fail(nil, "Currency code is required")
		return r
	}
	if len(c) != 3 {
		r.fail(nil, "Invalid currency code %q", string(c))
		return r
	}
	for _, ch := range string(c) {
		if ch < 'A' || ch > 'Z' {
			r.fail(nil, "Invalid currency code %q", string(c))
			return r
		}
	}
	return r
}

// ValidateTimestamp rejects timestamps too far in the future or too old, and
// warns once 80% of the maximum age has elapsed.
func (s *Service) ValidateTimestamp(ts time.Time) Result {
	r := newResult()
	if ts.IsZero() {
		r.fail(nil, "Timestamp is required")
		return r
	}
	now := s.now()
	if ts.After(now.Add(s.cfg.MaxFutureSkew)) {
		r.fail(nil, "Timestamp is too far in the future")
		return r
	}
	age := now.Sub(ts)
	switch {
	case age > s.cfg.MaxAge:
		r.fail(domain.ErrExpired, "Timestamp is too old")
	case age >= s.cfg.MaxAge*8/10:
		r.warn("Timestamp is close to the maximum age")
	}
	return r
}

func (s *Service) checkSeal(r *Result, what string, seal *domain.Seal) {
	if !s.cfg.RequireSignature {
		return
	}
	if len(seal.Signature) == 0 {
		r.fail(nil, "%s signature is required", what)
	}
	if seal.SignerKey.IsZero() {
		r.fail(nil, "%s signer key is required", what)
	}
}

func (s *Service) checkRequest(r *Result, req *domain.PaymentRequest) {
	if req.ID == "" {
		r.fail(nil, "Request id is required")
	}
	if req.From == "" || req.To == "" {
		r.fail(nil, "Request participants are required")
	} else if req.From == req.To {
		r.fail(nil, "Cannot pay yourself")
	}
	r.merge(s.ValidateAmount(req.Amount, req.Currency))
	r.merge(s.ValidateTimestamp(req.Timestamp))
	if !req.ExpiresAt.After(req.Timestamp) {
		r.fail(nil, "Request expiry must be after its timestamp")
	} else if !s.now().Before(req.ExpiresAt) {
		r.fail(domain.ErrExpired, "Request has expired")
	}
	s.checkSeal(r, "Request", &req.Seal)
}

// ValidatePaymentRequest checks an outgoing request against the payer's
// current balance.
func (s *Service) ValidatePaymentRequest(req *domain.PaymentRequest, balance domain.Amount) Result {
	r := newResult()
	if req == nil {
		r.fail(nil, "Request is required")
		return r
	}
	s.checkRequest(&r, req)
	if balance < req.Amount {
		r.fail(domain.ErrInsufficientBalance, "Insufficient balance: %s available, %s requested", balance, req.Amount)
	}
	return r
}

// ValidateIncomingRequest checks a request received from a peer; the
// payer's balance is not known yet.
func (s *Service) ValidateIncomingRequest(req *domain.PaymentRequest) Result {
	r := newResult()
	if req == nil {
		r.fail(nil, "Request is required")
		return r
	}
	s.checkRequest(&r, req)
	return r
}

// ValidatePaymentResponse checks a response against the original request.
func (s *Service) ValidatePaymentResponse(resp *domain.PaymentResponse, req *domain.PaymentRequest) Result {
	r := newResult()
	if resp == nil || req == nil {
		r.fail(nil, "Response and request are required")
		return r
	}
	if resp.RequestID != req.ID {
		r.fail(nil, "Response does not match request %s", req.ID)
	}
	if resp.From != req.To || resp.To != req.From {
		r.fail(nil, "Responder must be the request recipient")
	}
	r.merge(s.ValidateTimestamp(resp.Timestamp))
	if resp.Timestamp.Before(req.Timestamp) {
		r.fail(nil, "Response predates request")
	}
	if !resp.Timestamp.Before(req.ExpiresAt) {
		r.fail(domain.ErrExpired, "Response arrived after the request expired")
	}
	if !resp.Accepted && strings.TrimSpace(resp.Reason) == "" {
		r.warn("Rejection reason not provided")
	}
	s.checkSeal(&r, "Response", &resp.Seal)
	return r
}

// ValidatePaymentTransaction checks a transaction against the request it
// settles and the nonces already present in the ledger.
func (s *Service) ValidatePaymentTransaction(
	tx *domain.PaymentTransaction,
	req *domain.PaymentRequest,
	used domain.NonceSet,
) Result {
	r := newResult()
	if tx == nil || req == nil {
		r.fail(nil, "Transaction and request are required")
		return r
	}
	if tx.ID == "" {
		r.fail(nil, "Transaction id is required")
	}
	if tx.RequestID != req.ID {
		r.fail(nil, "Transaction does not match request %s", req.ID)
	}
	if tx.From != req.From || tx.To != req.To {
		r.fail(nil, "Transaction participants do not match request")
	}
	if tx.Amount != req.Amount || tx.Currency != req.Currency {
		r.fail(nil, "Transaction amount does not match request")
	}
	r.merge(s.ValidateAmount(tx.Amount, tx.Currency))
	r.merge(s.ValidateTimestamp(tx.Timestamp))
	if tx.Timestamp.Before(req.Timestamp) {
		r.fail(nil, "Transaction predates request")
	}
	switch {
	case tx.Nonce == "":
		r.fail(nil, "Nonce is required")
	case used.Has(tx.Nonce):
		r.fail(domain.ErrReplay, "Nonce has already been used")
	}
	if tx.SenderBalance < tx.Amount {
		r.fail(domain.ErrInsufficientBalance, "Insufficient balance: %s available, %s sent", tx.SenderBalance, tx.Amount)
	}
	s.checkSeal(&r, "Transaction", &tx.Seal)
	return r
}

// ValidateConfirmation checks a confirmation against the request and the
// transaction it acknowledges.
func (s *Service) ValidateConfirmation(
	conf *domain.PaymentConfirmation,
	req *domain.PaymentRequest,
	transactionID string,
) Result {
	r := newResult()
	if conf == nil || req == nil {
		r.fail(nil, "Confirmation and request are required")
		return r
	}
	if conf.RequestID != req.ID {
		r.fail(nil, "Confirmation does not match request %s", req.ID)
	}
	if transactionID != "" && conf.TransactionID != transactionID {
		r.fail(nil, "Confirmation does not match transaction %s", transactionID)
	}
	if conf.From != req.To || conf.To != req.From {
		r.fail(nil, "Confirmation must come from the payee")
	}
	if conf.Timestamp.IsZero() {
		r.fail(nil, "Timestamp is required")
	} else if conf.Timestamp.After(s.now().Add(s.cfg.MaxFutureSkew)) {
		r.fail(nil, "Timestamp is too far in the future")
	}
	s.checkSeal(&r, "Confirmation", &conf.Seal)
	return r
}

// ValidatePeer checks a counterpart's signing key against the trusted peer
// record, if any.
func (s *Service) ValidatePeer(device domain.DeviceID, key domain.Ed25519Public, trusted *domain.Peer) Result {
	r := newResult()
	if trusted == nil {
		if s.cfg.RequireTrustedPeer {
			r.fail(nil, "Peer %s is not trusted", device)
		} else {
			r.warn("Peer %s is not in the trusted list", device)
		}
		return r
	}
	if trusted.PublicKey != key {
		r.fail(nil, "Peer %s key does not match the trusted key", device)
	}
	return r
}

// ValidateOfflineTransactionForSync re-checks a ledger entry before it is
// pushed to the backend.
func (s *Service) ValidateOfflineTransactionForSync(tx domain.OfflineTransaction) Result {
	r := newResult()
	if tx.ID == "" {
		r.fail(nil, "Transaction id is required")
	}
	if tx.Nonce == "" {
		r.fail(nil, "Nonce is required")
	}
	if tx.CounterpartDeviceID == "" {
		r.fail(nil, "Counterpart device is required")
	}
	if tx.Type != domaintypes.DirectionSent && tx.Type != domaintypes.DirectionReceived {
		r.fail(nil, "Invalid transaction type %q", string(tx.Type))
	}
	if tx.Status == domaintypes.TxFailed {
		r.fail(nil, "Failed transactions cannot be synced")
	}
	if tx.Timestamp.IsZero() {
		r.fail(nil, "Timestamp is required")
	} else if age := s.now().Sub(tx.Timestamp); age > s.cfg.StaleSyncAge {
		r.warn("Transaction is older than %s", s.cfg.StaleSyncAge)
	}
	r.merge(s.ValidateAmount(tx.Amount, tx.Currency))
	if s.cfg.RequireSignature {
		if len(tx.Signatures.Sender) == 0 {
			r.fail(nil, "Sender signature is required")
		}
		if tx.Status == domaintypes.TxConfirmed && len(tx.Signatures.Receiver) == 0 {
			r.fail(nil, "Receiver signature is required for confirmed transactions")
		}
	}
	if !tx.BalanceConsistent() {
		r.fail(nil, "Balance mismatch: %s %s %s != %s",
			tx.Balance.Before, signOf(tx.Type), tx.Amount, tx.Balance.After)
	}
	return r
}

func signOf(d domain.Direction) string {
	if d == domaintypes.DirectionSent {
		return "-"
	}
	return "+"
}

// ValidateTransactionBatch partitions txs into valid and invalid entries.
// A nonce repeated inside the batch invalidates every later occurrence.
func (s *Service) ValidateTransactionBatch(txs []domain.OfflineTransaction) domain.BatchResult {
	out := domain.BatchResult{Valid: []domain.BatchItem{}, Invalid: []domain.BatchItem{}}
	seen := make(domain.NonceSet, len(txs))
	for _, tx := range txs {
		r := s.ValidateOfflineTransactionForSync(tx)
		if tx.Nonce != "" && !seen.Claim(tx.Nonce) {
			r.fail(domain.ErrReplay, "Duplicate nonce in batch")
		}
		item := domain.BatchItem{Transaction: tx.Clone(), Errors: r.Errors, Warnings: r.Warnings}
		if r.Valid {
			out.Valid = append(out.Valid, item)
		} else {
			out.Invalid = append(out.Invalid, item)
		}
	}
	return out
}

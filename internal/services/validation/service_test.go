package validation_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/services/validation"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(mut ...func(*validation.Config)) *validation.Service {
	cfg := validation.DefaultConfig()
	for _, m := range mut {
		m(&cfg)
	}
	return validation.New(cfg, validation.WithClock(func() time.Time { return now }))
}

func signedRequest(amount domain.Amount) *domain.PaymentRequest {
	return &domain.PaymentRequest{
		ID:        "req-1",
		From:      "alice",
		To:        "bob",
		Amount:    amount,
		Currency:  "USD",
		Timestamp: now.Add(-time.Second),
		ExpiresAt: now.Add(5 * time.Minute),
		Seal:      domain.Seal{SignerKey: domain.Ed25519Public{1}, Signature: []byte("sig")},
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    domain.Amount
		wantErr bool
	}{
		{"50.00", 5000, false},
		{"50", 5000, false},
		{"0.01", 1, false},
		{" 10000.00 ", 1_000_000, false},
		{"10.500", 1050, false},
		{"1.005", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := validation.ParseAmount(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			assert.ErrorIs(t, err, domain.ErrValidation, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestValidateAmountInput_Boundaries(t *testing.T) {
	s := newService()

	_, r := s.ValidateAmountInput("10000.00", "USD")
	assert.True(t, r.Valid, r.Errors)
	assert.NotEmpty(t, r.Warnings, "amounts above 1000.00 warn")

	_, r = s.ValidateAmountInput("10000.01", "USD")
	assert.False(t, r.Valid)

	_, r = s.ValidateAmountInput("0.00", "USD")
	assert.False(t, r.Valid)

	_, r = s.ValidateAmountInput("twelve", "USD")
	assert.False(t, r.Valid)
	assert.Contains(t, r.Errors, "Amount must be a number")

	_, r = s.ValidateAmountInput("1.234", "USD")
	assert.False(t, r.Valid)
}

func TestValidateAmount_Currency(t *testing.T) {
	s := newService()
	for _, c := range []domain.Currency{"", "US", "usd", "US1", "USDT"} {
		r := s.ValidateAmount(100, c)
		assert.False(t, r.Valid, "currency %q", c)
	}
	r := s.ValidateAmount(100, "EUR")
	assert.True(t, r.Valid)
	assert.Empty(t, r.Warnings)
}

func TestValidateTimestamp(t *testing.T) {
	s := newService()

	assert.True(t, s.ValidateTimestamp(now).Valid)
	assert.True(t, s.ValidateTimestamp(now.Add(59*time.Second)).Valid)
	assert.False(t, s.ValidateTimestamp(now.Add(61*time.Second)).Valid)
	assert.False(t, s.ValidateTimestamp(time.Time{}).Valid)

	old := s.ValidateTimestamp(now.Add(-5*time.Minute - time.Second))
	assert.False(t, old.Valid)
	assert.True(t, old.FailedWith(domain.ErrExpired))

	near := s.ValidateTimestamp(now.Add(-4*time.Minute - 30*time.Second))
	assert.True(t, near.Valid)
	assert.NotEmpty(t, near.Warnings)
}

func TestValidatePaymentRequest_ScenarioA(t *testing.T) {
	s := newService()
	r := s.ValidatePaymentRequest(signedRequest(5000), 10000)
	assert.True(t, r.Valid, r.Errors)
	assert.NoError(t, r.Err())
}

func TestValidatePaymentRequest_InsufficientBalance(t *testing.T) {
	s := newService()
	r := s.ValidatePaymentRequest(signedRequest(5000), 4999)
	require.False(t, r.Valid)

	err := r.Err()
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.NotEmpty(t, ve.Errors)
}

func TestValidatePaymentRequest_SignatureRequired(t *testing.T) {
	req := signedRequest(100)
	req.Signature = nil

	assert.False(t, newService().ValidatePaymentRequest(req, 1000).Valid)
	assert.True(t, newService(func(c *validation.Config) { c.RequireSignature = false }).
		ValidatePaymentRequest(req, 1000).Valid)
}

func TestValidatePaymentRequest_Expired(t *testing.T) {
	req := signedRequest(100)
	req.Timestamp = now.Add(-2 * time.Minute)
	req.ExpiresAt = now.Add(-time.Second)

	r := newService().ValidatePaymentRequest(req, 1000)
	assert.False(t, r.Valid)
	assert.ErrorIs(t, r.Err(), domain.ErrExpired)
}

func TestValidatePaymentResponse(t *testing.T) {
	s := newService()
	req := signedRequest(100)
	resp := &domain.PaymentResponse{
		RequestID: req.ID,
		From:      "bob",
		To:        "alice",
		Accepted:  false,
		Timestamp: now,
		Seal:      domain.Seal{SignerKey: domain.Ed25519Public{2}, Signature: []byte("sig")},
	}

	r := s.ValidatePaymentResponse(resp, req)
	assert.True(t, r.Valid, r.Errors)
	assert.Contains(t, r.Warnings, "Rejection reason not provided")

	resp.From = "mallory"
	assert.False(t, s.ValidatePaymentResponse(resp, req).Valid)
}

func TestValidatePaymentTransaction_Replay(t *testing.T) {
	s := newService()
	req := signedRequest(100)
	tx := &domain.PaymentTransaction{
		ID:            "tx-1",
		RequestID:     req.ID,
		From:          req.From,
		To:            req.To,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Nonce:         "abc123",
		SenderBalance: 1000,
		Timestamp:     now,
		Seal:          domain.Seal{SignerKey: domain.Ed25519Public{1}, Signature: []byte("sig")},
	}

	used := domain.NonceSet{}
	assert.True(t, s.ValidatePaymentTransaction(tx, req, used).Valid)
	// reading only; the ledger claims the nonce when it stores the entry
	assert.Empty(t, used)
	require.True(t, used.Claim(tx.Nonce))
	assert.ErrorIs(t, s.ValidatePaymentTransaction(tx, req, used).Err(), domain.ErrReplay)

	r := s.ValidatePaymentTransaction(tx, req, domain.NonceSet{"abc123": {}})
	assert.False(t, r.Valid)
	assert.ErrorIs(t, r.Err(), domain.ErrReplay)

	tx.Amount = 200
	assert.False(t, s.ValidatePaymentTransaction(tx, req, nil).Valid)
}

func TestValidatePeer(t *testing.T) {
	key := domain.Ed25519Public{7}
	peer := &domain.Peer{DeviceID: "bob", PublicKey: key}

	r := newService().ValidatePeer("bob", key, nil)
	assert.True(t, r.Valid)
	assert.NotEmpty(t, r.Warnings)

	strict := newService(func(c *validation.Config) { c.RequireTrustedPeer = true })
	assert.False(t, strict.ValidatePeer("bob", key, nil).Valid)
	assert.True(t, strict.ValidatePeer("bob", key, peer).Valid)
	assert.False(t, strict.ValidatePeer("bob", domain.Ed25519Public{8}, peer).Valid)
}

func offline(id, nonce string) domain.OfflineTransaction {
	return domain.OfflineTransaction{
		ID:                  id,
		Type:                domaintypes.DirectionSent,
		Amount:              500,
		Currency:            "USD",
		CounterpartDeviceID: "bob",
		Timestamp:           now.Add(-time.Minute),
		Status:              domaintypes.TxSigned,
		Signatures:          domain.Signatures{Sender: []byte("s")},
		SyncStatus:          domaintypes.SyncNotSynced,
		Nonce:               nonce,
		Balance:             domain.BalanceSnapshot{Before: 1000, After: 500},
	}
}

func TestValidateOfflineTransactionForSync(t *testing.T) {
	s := newService()

	assert.True(t, s.ValidateOfflineTransactionForSync(offline("a", "n1")).Valid)

	bad := offline("a", "n1")
	bad.Balance.After = 600
	assert.False(t, s.ValidateOfflineTransactionForSync(bad).Valid)

	unsigned := offline("a", "n1")
	unsigned.Status = domaintypes.TxConfirmed
	assert.False(t, s.ValidateOfflineTransactionForSync(unsigned).Valid)

	stale := offline("a", "n1")
	stale.Timestamp = now.Add(-25 * time.Hour)
	r := s.ValidateOfflineTransactionForSync(stale)
	assert.True(t, r.Valid)
	assert.NotEmpty(t, r.Warnings)
}

func TestValidateTransactionBatch(t *testing.T) {
	s := newService()
	bad := offline("c", "n3")
	bad.Amount = 0

	out := s.ValidateTransactionBatch([]domain.OfflineTransaction{
		offline("a", "n1"),
		offline("b", "n1"),
		bad,
	})
	require.Len(t, out.Valid, 1)
	require.Len(t, out.Invalid, 2)
	assert.Equal(t, "a", out.Valid[0].Transaction.ID)
	assert.Equal(t, "b", out.Invalid[0].Transaction.ID)
	assert.Contains(t, out.Invalid[0].Errors, "Duplicate nonce in batch")
}
